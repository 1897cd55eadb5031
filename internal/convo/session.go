package convo

import (
	"context"
	"sync"
	"time"

	"github.com/grigolet/memchat/internal/turn"
)

// Session is the process-lifetime state cached for an open chat. It is
// a cache, not a source of truth: everything in it is reconstructible
// from the turn store and the chat registry.
type Session struct {
	ID           string
	ChatName     string
	Namespace    string
	Instructions string

	// mu serializes message handling for this chat. Different chats
	// proceed in parallel.
	mu             sync.Mutex
	History        []turn.Turn
	LastScores     map[int]float64
	LastActivityAt time.Time
}

type sessionCache struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	onEvict     func(*Session)
}

func newSessionCache(idleTimeout time.Duration) *sessionCache {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &sessionCache{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
	}
}

func (c *sessionCache) get(chatName string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[chatName]
	if !ok {
		return nil
	}
	s.LastActivityAt = time.Now().UTC()
	return s
}

func (c *sessionCache) put(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.LastActivityAt = time.Now().UTC()
	c.sessions[s.ChatName] = s
}

func (c *sessionCache) remove(chatName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, chatName)
}

func (c *sessionCache) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *sessionCache) setEvictHook(hook func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = hook
}

func (c *sessionCache) startJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.evictIdle()
			}
		}
	}()
}

func (c *sessionCache) evictIdle() {
	now := time.Now().UTC()
	var evicted []*Session

	c.mu.Lock()
	for name, s := range c.sessions {
		if now.Sub(s.LastActivityAt) < c.idleTimeout {
			continue
		}
		delete(c.sessions, name)
		evicted = append(evicted, s)
	}
	hook := c.onEvict
	c.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}
