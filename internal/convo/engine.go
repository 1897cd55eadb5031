// Package convo orchestrates a message exchange: context selection,
// prompt assembly, response generation, and turn persistence. It is
// also the single place where collaborator failures are converted to
// degraded-but-successful results.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grigolet/memchat/internal/chat"
	"github.com/grigolet/memchat/internal/observability"
	"github.com/grigolet/memchat/internal/protocol"
	"github.com/grigolet/memchat/internal/responder"
	"github.com/grigolet/memchat/internal/retrieval"
	"github.com/grigolet/memchat/internal/selector"
	"github.com/grigolet/memchat/internal/turn"
)

var (
	ErrEmptyChatName = errors.New("chat name cannot be empty")
	ErrEmptyMessage  = errors.New("message cannot be empty")
	ErrChatNotFound  = chat.ErrNotFound
	ErrNoSession     = errors.New("no active session; send a message first")
)

// EmitFunc delivers one stream event to the consumer. A non-nil error
// means the consumer is gone.
type EmitFunc func(event any) error

// Reply is the outcome of a synchronous message exchange.
type Reply struct {
	TurnID           int
	UserMessage      string
	AssistantMessage string
	ContextTurns     []turn.Turn
	RelevantTurnIDs  []int
	SimilarityScores map[int]float64
}

// OpenResult describes a chat after create-or-open.
type OpenResult struct {
	ChatName     string
	Namespace    string
	SessionID    string
	MessageCount int
	Created      bool
	Instructions string
	History      []turn.Turn
}

type Options struct {
	Registry           *chat.Registry
	Store              turn.Store
	Oracle             retrieval.Oracle
	Responder          responder.Responder
	Metrics            *observability.Metrics
	Threshold          float64
	TopKFallback       int
	SessionIdleTimeout time.Duration
}

type Engine struct {
	registry     *chat.Registry
	store        turn.Store
	oracle       retrieval.Oracle
	responder    responder.Responder
	metrics      *observability.Metrics
	threshold    float64
	topKFallback int
	sessions     *sessionCache
}

func NewEngine(opts Options) *Engine {
	// The threshold is taken verbatim: zero is a meaningful choice
	// (keep every scored turn), so the 0.15 default lives in the config
	// layer, not here.
	topK := opts.TopKFallback
	if topK <= 0 {
		topK = 10
	}

	e := &Engine{
		registry:     opts.Registry,
		store:        opts.Store,
		oracle:       opts.Oracle,
		responder:    opts.Responder,
		metrics:      opts.Metrics,
		threshold:    opts.Threshold,
		topKFallback: topK,
		sessions:     newSessionCache(opts.SessionIdleTimeout),
	}
	e.sessions.setEvictHook(func(_ *Session) {
		e.metrics.ChatEvents.WithLabelValues("expired").Inc()
		e.metrics.ActiveSessions.Set(float64(e.sessions.count()))
	})
	return e
}

// StartJanitor begins periodic eviction of idle cached sessions.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	e.sessions.startJanitor(ctx, interval)
}

// OpenChat creates the chat if needed and warms its session.
func (e *Engine) OpenChat(ctx context.Context, chatName, instructions string) (OpenResult, error) {
	name := strings.TrimSpace(chatName)
	if name == "" {
		return OpenResult{}, ErrEmptyChatName
	}

	created := false
	if !e.registry.Exists(name) {
		if _, err := e.registry.Create(name); err != nil {
			return OpenResult{}, fmt.Errorf("create chat: %w", err)
		}
		created = true
		if strings.TrimSpace(instructions) != "" {
			if err := e.registry.SetInstructions(name, instructions); err != nil {
				return OpenResult{}, fmt.Errorf("set instructions: %w", err)
			}
		}
	}

	sess, err := e.session(ctx, name)
	if err != nil {
		return OpenResult{}, err
	}

	if created {
		e.metrics.ChatEvents.WithLabelValues("created").Inc()
	} else {
		e.metrics.ChatEvents.WithLabelValues("opened").Inc()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return OpenResult{
		ChatName:     name,
		Namespace:    sess.Namespace,
		SessionID:    sess.ID,
		MessageCount: e.registry.List()[name].MessageCount,
		Created:      created,
		Instructions: sess.Instructions,
		History:      append([]turn.Turn(nil), sess.History...),
	}, nil
}

// Send handles a synchronous message exchange.
func (e *Engine) Send(ctx context.Context, chatName, message string, useFullContext bool) (Reply, error) {
	msg := strings.TrimSpace(message)
	if strings.TrimSpace(chatName) == "" {
		return Reply{}, ErrEmptyChatName
	}
	if msg == "" {
		return Reply{}, ErrEmptyMessage
	}

	sess, err := e.session(ctx, chatName)
	if err != nil {
		return Reply{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sel := e.selectContext(ctx, sess, msg, useFullContext)
	prompt := selector.AssemblePrompt(sess.Instructions, sel.Turns, msg)

	resp, err := e.responder.StreamResponse(ctx, prompt, nil)
	answer := resp.Text
	if err != nil {
		log.Printf("responder error for chat %q: %v", sess.ChatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("responder", "generate").Inc()
		answer = responder.ApologyText
	}

	turnID := e.finalize(ctx, sess, msg, answer)
	e.metrics.Messages.WithLabelValues("sync").Inc()

	return Reply{
		TurnID:           turnID,
		UserMessage:      msg,
		AssistantMessage: answer,
		ContextTurns:     sel.Turns,
		RelevantTurnIDs:  sel.RelevantIDs,
		SimilarityScores: sel.Scores,
	}, nil
}

// SendStream handles a streamed message exchange: one metadata event,
// then chunk events in producer order, then a done event carrying the
// persisted turn id. Responder failure degrades to a single apology
// chunk; the turn is finalized either way.
func (e *Engine) SendStream(ctx context.Context, chatName, message string, useFullContext bool, emit EmitFunc) error {
	msg := strings.TrimSpace(message)
	if strings.TrimSpace(chatName) == "" {
		return ErrEmptyChatName
	}
	if msg == "" {
		return ErrEmptyMessage
	}

	sess, err := e.session(ctx, chatName)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sel := e.selectContext(ctx, sess, msg, useFullContext)
	prompt := selector.AssemblePrompt(sess.Instructions, sel.Turns, msg)

	// Provenance goes out before any generated text. If the consumer
	// is already gone, abort: nothing has been generated or persisted.
	if err := emit(protocol.NewMetadataEvent(sel.Turns, sel.RelevantIDs, sel.Scores)); err != nil {
		return fmt.Errorf("emit metadata: %w", err)
	}

	start := time.Now()
	first := true
	var full strings.Builder
	var emitErr error

	_, respErr := e.responder.StreamResponse(ctx, prompt, func(delta string) error {
		full.WriteString(delta)
		if first {
			e.metrics.ObserveFirstChunkLatency(time.Since(start))
			first = false
		}
		if err := emit(protocol.NewChunkEvent(delta)); err != nil {
			emitErr = err
			return err
		}
		return nil
	})

	switch {
	case emitErr != nil:
		// Consumer disconnected mid-stream. What was generated so far
		// still becomes a persisted turn; there is no rollback.
		log.Printf("stream consumer gone for chat %q: %v", sess.ChatName, emitErr)
	case respErr != nil:
		log.Printf("responder error for chat %q: %v", sess.ChatName, respErr)
		e.metrics.CollaboratorErrors.WithLabelValues("responder", "generate_stream").Inc()
		full.WriteString(responder.ApologyText)
		if err := emit(protocol.NewChunkEvent(responder.ApologyText)); err != nil {
			emitErr = err
		}
	}

	turnID := e.finalize(ctx, sess, msg, full.String())
	e.metrics.Messages.WithLabelValues("stream").Inc()

	if emitErr == nil {
		_ = emit(protocol.NewDoneEvent(turnID))
	}
	return nil
}

// History returns the chat's full turn sequence, empty for unknown
// chats.
func (e *Engine) History(ctx context.Context, chatName string) ([]turn.Turn, error) {
	if sess := e.sessions.get(chatName); sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return append([]turn.Turn(nil), sess.History...), nil
	}
	return e.store.Load(ctx, chatName)
}

// LastScores returns the unfiltered score map cached by the most
// recent filtered query for the chat.
func (e *Engine) LastScores(chatName string) (map[int]float64, error) {
	sess := e.sessions.get(chatName)
	if sess == nil {
		return nil, ErrNoSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return copyScores(sess.LastScores), nil
}

// ListChats returns registry metadata for every chat.
func (e *Engine) ListChats() map[string]chat.Info {
	return e.registry.List()
}

// EnsureChat validates the chat exists and warms its session.
func (e *Engine) EnsureChat(ctx context.Context, chatName string) error {
	_, err := e.session(ctx, chatName)
	return err
}

// DeleteChat removes the turn store record, the retrieval namespace,
// the registry entry, and any cached session.
func (e *Engine) DeleteChat(ctx context.Context, chatName string) error {
	if !e.registry.Exists(chatName) {
		return ErrChatNotFound
	}
	namespace, err := e.registry.Namespace(chatName)
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, chatName); err != nil {
		log.Printf("turn store delete failed for chat %q: %v", chatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("store", "delete").Inc()
	}
	if err := e.oracle.DeleteNamespace(ctx, namespace); err != nil {
		log.Printf("retrieval namespace delete failed for chat %q: %v", chatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("oracle", "delete_namespace").Inc()
	}
	if err := e.registry.Delete(chatName); err != nil {
		return err
	}

	e.sessions.remove(chatName)
	e.metrics.ChatEvents.WithLabelValues("deleted").Inc()
	e.metrics.ActiveSessions.Set(float64(e.sessions.count()))
	return nil
}

// session returns the cached session for the chat, loading registry
// metadata and persisted history on first use.
func (e *Engine) session(ctx context.Context, chatName string) (*Session, error) {
	if sess := e.sessions.get(chatName); sess != nil {
		return sess, nil
	}
	if !e.registry.Exists(chatName) {
		return nil, ErrChatNotFound
	}

	namespace, err := e.registry.Namespace(chatName)
	if err != nil {
		return nil, err
	}
	history, err := e.store.Load(ctx, chatName)
	if err != nil {
		// Best-effort: an unreadable history file degrades to an empty
		// chat rather than rejecting every message.
		log.Printf("turn store load failed for chat %q: %v", chatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("store", "load").Inc()
		history = nil
	}

	sess := &Session{
		ID:           uuid.NewString(),
		ChatName:     chatName,
		Namespace:    namespace,
		Instructions: e.registry.Instructions(chatName),
		History:      history,
	}
	e.sessions.put(sess)
	e.metrics.ActiveSessions.Set(float64(e.sessions.count()))
	return sess, nil
}

// selectContext runs the similarity query (filtered mode) and the
// selection policy. Called with the session lock held.
func (e *Engine) selectContext(ctx context.Context, sess *Session, msg string, useFullContext bool) selector.Selection {
	if useFullContext {
		return selector.Select(sess.History, selector.Full, nil, e.threshold)
	}

	// Full sweep with no threshold: the oracle ranks, the selector
	// decides. The fixed fallback covers brand-new chats where stale
	// index entries may still exist.
	topK := len(sess.History)
	if topK == 0 {
		topK = e.topKFallback
	}
	res, err := e.oracle.Query(ctx, sess.Namespace, msg, 0.0, topK)
	if err != nil {
		log.Printf("similarity query failed for chat %q: %v", sess.ChatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("oracle", "query").Inc()
		res = retrieval.Result{}
	}

	// Snapshot before the selector force-includes the newest turn, so
	// the inspection endpoint reports exactly what the oracle said.
	sess.LastScores = copyScores(res.Scores)

	sel := selector.Select(sess.History, selector.Filtered, res.Scores, e.threshold)
	e.metrics.ContextTurns.Observe(float64(len(sel.Turns)))
	return sel
}

// finalize appends and persists the completed exchange. Called with
// the session lock held. Persistence and index updates are best-effort:
// the in-memory history keeps serving even when a write fails.
func (e *Engine) finalize(ctx context.Context, sess *Session, userText, assistantText string) int {
	var turnID int
	sess.History, turnID = turn.Append(sess.History, userText, assistantText)

	if err := e.registry.IncrementMessageCount(sess.ChatName); err != nil {
		log.Printf("message count update failed for chat %q: %v", sess.ChatName, err)
	}
	if err := e.oracle.Upsert(ctx, sess.Namespace, fmt.Sprintf("%d_u", turnID), userText, turnID, "user"); err != nil {
		log.Printf("retrieval upsert failed for chat %q turn %d: %v", sess.ChatName, turnID, err)
		e.metrics.CollaboratorErrors.WithLabelValues("oracle", "upsert").Inc()
	}
	if err := e.oracle.Upsert(ctx, sess.Namespace, fmt.Sprintf("%d_a", turnID), assistantText, turnID, "assistant"); err != nil {
		log.Printf("retrieval upsert failed for chat %q turn %d: %v", sess.ChatName, turnID, err)
		e.metrics.CollaboratorErrors.WithLabelValues("oracle", "upsert").Inc()
	}
	if err := e.store.Save(ctx, sess.ChatName, sess.History); err != nil {
		log.Printf("turn store save failed for chat %q: %v", sess.ChatName, err)
		e.metrics.CollaboratorErrors.WithLabelValues("store", "save").Inc()
	}
	return turnID
}

func copyScores(scores map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(scores))
	for id, score := range scores {
		out[id] = score
	}
	return out
}
