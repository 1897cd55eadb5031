package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("chat not found")

// Info is the registry metadata kept per chat name.
type Info struct {
	Namespace          string    `json:"namespace"`
	CreatedAt          time.Time `json:"created_at"`
	LastAccessed       time.Time `json:"last_accessed"`
	MessageCount       int       `json:"message_count"`
	SystemInstructions string    `json:"system_instructions,omitempty"`
}

// Registry maps human-chosen chat names to retrieval namespaces and
// bookkeeping metadata, persisted as a single JSON file.
type Registry struct {
	path  string
	mu    sync.Mutex
	chats map[string]Info
}

func NewRegistry(dataDir string) (*Registry, error) {
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	r := &Registry{
		path:  filepath.Join(dataDir, "chats.json"),
		chats: make(map[string]Info),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chat registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.chats); err != nil {
		return fmt.Errorf("decode chat registry: %w", err)
	}
	if r.chats == nil {
		r.chats = make(map[string]Info)
	}
	return nil
}

// save is called with the mutex held.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.chats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chat registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write chat registry: %w", err)
	}
	return nil
}

// List returns a copy of all chats keyed by name.
func (r *Registry) List() map[string]Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Info, len(r.chats))
	for name, info := range r.chats {
		out[name] = info
	}
	return out
}

func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.chats[name]
	return ok
}

// Create registers a new chat and returns its namespace. Creating a
// name that already exists just returns the existing namespace.
func (r *Registry) Create(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.chats[name]; ok {
		return info.Namespace, nil
	}

	now := time.Now().UTC()
	info := Info{
		Namespace:    SanitizeNamespace(name),
		CreatedAt:    now,
		LastAccessed: now,
	}
	r.chats[name] = info
	if err := r.save(); err != nil {
		return "", err
	}
	return info.Namespace, nil
}

// Namespace returns the chat's namespace and touches its last-accessed
// timestamp.
func (r *Registry) Namespace(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.chats[name]
	if !ok {
		return "", ErrNotFound
	}
	info.LastAccessed = time.Now().UTC()
	r.chats[name] = info
	if err := r.save(); err != nil {
		return "", err
	}
	return info.Namespace, nil
}

func (r *Registry) SetInstructions(name, instructions string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.chats[name]
	if !ok {
		return ErrNotFound
	}
	info.SystemInstructions = instructions
	r.chats[name] = info
	return r.save()
}

// Instructions returns the chat's system instructions, empty when the
// chat is unknown or has none.
func (r *Registry) Instructions(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[name].SystemInstructions
}

func (r *Registry) IncrementMessageCount(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.chats[name]
	if !ok {
		return ErrNotFound
	}
	info.MessageCount++
	r.chats[name] = info
	return r.save()
}

func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[name]; !ok {
		return ErrNotFound
	}
	delete(r.chats, name)
	return r.save()
}

// SanitizeNamespace derives a retrieval namespace token from a chat
// name: lowercase, non-alphanumeric runes become underscores, leading
// and trailing underscores are trimmed, capped at 63 bytes.
func SanitizeNamespace(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	ns := strings.Trim(b.String(), "_")
	if len(ns) > 63 {
		ns = ns[:63]
	}
	return ns
}
