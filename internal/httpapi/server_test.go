package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grigolet/memchat/internal/chat"
	"github.com/grigolet/memchat/internal/config"
	"github.com/grigolet/memchat/internal/convo"
	"github.com/grigolet/memchat/internal/observability"
	"github.com/grigolet/memchat/internal/responder"
	"github.com/grigolet/memchat/internal/retrieval"
	"github.com/grigolet/memchat/internal/selector"
	"github.com/grigolet/memchat/internal/turn"
)

type scriptedResponder struct {
	deltas []string
	err    error
}

func (r *scriptedResponder) StreamResponse(_ context.Context, _ string, onDelta responder.DeltaHandler) (responder.Response, error) {
	var full strings.Builder
	for _, d := range r.deltas {
		full.WriteString(d)
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return responder.Response{Text: full.String()}, err
			}
		}
	}
	return responder.Response{Text: full.String()}, r.err
}

func newTestServer(t *testing.T, deltas []string) (*Server, *retrieval.StaticOracle) {
	t.Helper()
	dir := t.TempDir()

	registry, err := chat.NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry error = %v", err)
	}
	store, err := turn.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore error = %v", err)
	}
	oracle := retrieval.NewStaticOracle()
	metrics := observability.NewMetrics("test_httpapi_" + sanitizeMetricName(t.Name()))

	engine := convo.NewEngine(convo.Options{
		Registry:  registry,
		Store:     store,
		Oracle:    oracle,
		Responder: &scriptedResponder{deltas: deltas},
		Metrics:   metrics,
		Threshold: selector.DefaultThreshold,
	})

	cfg := config.Config{AllowAnyOrigin: true}
	return New(cfg, engine, metrics), oracle
}

func sanitizeMetricName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := getPath(t, router, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rec.Code)
		}
	}
}

func TestOpenChatLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.Router()

	rec := postJSON(t, router, "/v1/chats", openChatRequest{Name: "work", Instructions: "be terse"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created openChatResponse
	decodeBody(t, rec, &created)
	if !created.Created || created.ChatName != "work" || created.SessionID == "" {
		t.Fatalf("create response = %+v", created)
	}
	if created.Instructions != "be terse" {
		t.Fatalf("Instructions = %q", created.Instructions)
	}

	rec = postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen status = %d", rec.Code)
	}
	var reopened openChatResponse
	decodeBody(t, rec, &reopened)
	if reopened.Created {
		t.Fatal("reopen reported created")
	}

	rec = getPath(t, router, "/v1/chats")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Chats []chatSummary `json:"chats"`
	}
	decodeBody(t, rec, &list)
	if len(list.Chats) != 1 || list.Chats[0].Name != "work" {
		t.Fatalf("chat list = %+v", list.Chats)
	}
}

func TestOpenChatRejectsEmptyName(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := postJSON(t, srv.Router(), "/v1/chats", openChatRequest{Name: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, []string{"Hel", "lo"})
	router := srv.Router()

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})

	rec := postJSON(t, router, "/v1/message", messageRequest{ChatName: "work", Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reply messageResponse
	decodeBody(t, rec, &reply)
	if reply.TurnID != 1 || reply.AssistantMessage != "Hello" {
		t.Fatalf("reply = %+v", reply)
	}

	rec = getPath(t, router, "/v1/chats/work/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var hist struct {
		ChatName string      `json:"chat_name"`
		Turns    []turn.Turn `json:"turns"`
	}
	decodeBody(t, rec, &hist)
	if len(hist.Turns) != 1 || hist.Turns[0].Assistant.Text != "Hello" {
		t.Fatalf("history = %+v", hist.Turns)
	}
}

func TestMessageUnknownChat(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := postJSON(t, srv.Router(), "/v1/message", messageRequest{ChatName: "nowhere", Message: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var errResp errorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Code != "chat_not_found" {
		t.Fatalf("error code = %q", errResp.Code)
	}
}

func TestSimilaritiesRequireSession(t *testing.T) {
	srv, _ := newTestServer(t, []string{"ok"})
	router := srv.Router()

	rec := getPath(t, router, "/v1/chats/work/similarities")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before any message = %d, want 404", rec.Code)
	}

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})
	postJSON(t, router, "/v1/message", messageRequest{ChatName: "work", Message: "hi"})

	rec = getPath(t, router, "/v1/chats/work/similarities")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ChatName string             `json:"chat_name"`
		Scores   map[string]float64 `json:"scores"`
	}
	decodeBody(t, rec, &out)
	if out.ChatName != "work" {
		t.Fatalf("chat_name = %q", out.ChatName)
	}
}

func TestDeleteChat(t *testing.T) {
	srv, _ := newTestServer(t, []string{"bye"})
	router := srv.Router()

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})
	postJSON(t, router, "/v1/message", messageRequest{ChatName: "work", Message: "hi"})

	req := httptest.NewRequest(http.MethodDelete, "/v1/chats/work", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/chats/work", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMessageStreamSSE(t *testing.T) {
	srv, _ := newTestServer(t, []string{"Hel", "lo"})
	router := srv.Router()

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})

	rec := postJSON(t, router, "/v1/message/stream", messageRequest{ChatName: "work", Message: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	frames := parseSSE(t, rec.Body.String())
	if len(frames) != 4 {
		t.Fatalf("frame count = %d, frames = %v", len(frames), frames)
	}
	if frames[0]["type"] != "metadata" {
		t.Fatalf("frames[0] = %v", frames[0])
	}
	if frames[1]["type"] != "chunk" || frames[1]["text"] != "Hel" {
		t.Fatalf("frames[1] = %v", frames[1])
	}
	if frames[2]["type"] != "chunk" || frames[2]["text"] != "lo" {
		t.Fatalf("frames[2] = %v", frames[2])
	}
	if frames[3]["type"] != "done" || frames[3]["turn_id"] != float64(1) {
		t.Fatalf("frames[3] = %v", frames[3])
	}
}

func TestMessageStreamEmptyMessageFailsBeforeStreaming(t *testing.T) {
	srv, _ := newTestServer(t, []string{"never"})
	router := srv.Router()

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})

	rec := postJSON(t, router, "/v1/message/stream", messageRequest{ChatName: "work", Message: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 before any stream bytes", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want JSON error", ct)
	}
	var errResp errorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Code != "invalid_message" {
		t.Fatalf("error code = %q", errResp.Code)
	}

	// The rejected request must leave no trace in the history.
	rec = getPath(t, router, "/v1/chats/work/history")
	var hist struct {
		Turns []turn.Turn `json:"turns"`
	}
	decodeBody(t, rec, &hist)
	if len(hist.Turns) != 0 {
		t.Fatalf("history after rejected stream = %+v, want empty", hist.Turns)
	}
}

func TestMessageStreamUnknownChatFailsBeforeStreaming(t *testing.T) {
	srv, _ := newTestServer(t, []string{"never"})
	rec := postJSON(t, srv.Router(), "/v1/message/stream", messageRequest{ChatName: "nowhere", Message: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want JSON error", ct)
	}
}

func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("malformed SSE block %q", block)
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &frame); err != nil {
			t.Fatalf("decode SSE frame %q: %v", block, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestScoresUseStringKeys(t *testing.T) {
	srv, oracle := newTestServer(t, []string{"ok"})
	router := srv.Router()

	postJSON(t, router, "/v1/chats", openChatRequest{Name: "work"})
	postJSON(t, router, "/v1/message", messageRequest{ChatName: "work", Message: "seed", FullContext: true})

	var ns string
	rec := getPath(t, router, "/v1/chats")
	var list struct {
		Chats []chatSummary `json:"chats"`
	}
	decodeBody(t, rec, &list)
	ns = list.Chats[0].Namespace

	oracle.SetResult(ns, retrieval.Result{IDs: []int{1}, Scores: map[int]float64{1: 0.42}})

	rec = postJSON(t, router, "/v1/message", messageRequest{ChatName: "work", Message: "next"})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d", rec.Code)
	}
	var raw map[string]json.RawMessage
	decodeBody(t, rec, &raw)
	var scores map[string]float64
	if err := json.Unmarshal(raw["similarity_scores"], &scores); err != nil {
		t.Fatalf("similarity_scores not a string-keyed object: %s", raw["similarity_scores"])
	}
	if scores["1"] != 0.42 {
		t.Fatalf("scores = %v", scores)
	}
	// The newest turn is force-included with a zero score.
	if _, ok := scores[fmt.Sprint(2)]; !ok {
		t.Fatalf("forced newest-turn score missing: %v", scores)
	}
}
