package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileFormatVersion = 1

// envelope is the versioned on-disk format. Early deployments wrote a
// bare JSON array instead; Load still accepts that and rewrites it as
// an envelope on the next Save.
type envelope struct {
	Version int    `json:"version"`
	Turns   []Turn `json:"turns"`
}

// FileStore keeps one JSON history file per chat under a data dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Load(_ context.Context, chatName string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(chatName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	turns, legacy, err := decodeHistory(data)
	if err != nil {
		return nil, fmt.Errorf("decode history for %q: %w", chatName, err)
	}
	if legacy {
		normalizeIDs(turns)
	}
	return turns, nil
}

func (s *FileStore) Save(_ context.Context, chatName string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.MarshalIndent(envelope{Version: fileFormatVersion, Turns: turns}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(s.path(chatName), data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, chatName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(chatName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(chatName string) string {
	return filepath.Join(s.dir, "history_"+sanitizeFileName(chatName)+".json")
}

// decodeHistory reads either the versioned envelope or a legacy bare
// array. The legacy flag tells the caller id normalization may apply.
func decodeHistory(data []byte) ([]Turn, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, nil
	}
	if trimmed[0] == '[' {
		var turns []Turn
		if err := json.Unmarshal(trimmed, &turns); err != nil {
			return nil, false, err
		}
		return turns, true, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false, err
	}
	return env.Turns, false, nil
}

// normalizeIDs converts a legacy 0-based history to the current
// 1-based dense numbering. Files already 1-based are left untouched.
func normalizeIDs(turns []Turn) {
	if len(turns) == 0 || turns[0].ID != 0 {
		return
	}
	for i := range turns {
		turns[i].ID++
	}
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
