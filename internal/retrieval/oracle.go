// Package retrieval wraps the external vector-similarity service the
// conversation engine consults. Embedding, indexing, and ranking live
// inside the backends; the engine only sees turn ids and scores.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Result is a similarity query outcome: candidate turn ids in match
// order and the score per id. When a backend returns the same turn id
// via multiple matches (user and assistant texts are indexed
// separately), the maximum score wins.
type Result struct {
	IDs    []int
	Scores map[int]float64
}

func (r *Result) add(turnID int, score float64) {
	if r.Scores == nil {
		r.Scores = make(map[int]float64)
	}
	if prev, ok := r.Scores[turnID]; ok {
		if score > prev {
			r.Scores[turnID] = score
		}
		return
	}
	r.IDs = append(r.IDs, turnID)
	r.Scores[turnID] = score
}

// Oracle is the similarity service contract. The namespace is an
// explicit parameter on every call; there is no ambient current
// namespace, so concurrent chats cannot interfere with each other.
type Oracle interface {
	Query(ctx context.Context, namespace, text string, threshold float64, topK int) (Result, error)
	Upsert(ctx context.Context, namespace, id, text string, turnID int, role string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Close() error
}

// EmbedFunc produces a float32 embedding vector from text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Config controls oracle construction.
type Config struct {
	Provider     string
	DatabaseURL  string
	PersistDir   string
	Embed        EmbedFunc
	EmbeddingDim int
}

// NewOracle builds the configured backend. "auto" prefers pgvector
// when a database is configured and falls back to the embedded
// chromem index otherwise.
func NewOracle(ctx context.Context, cfg Config) (Oracle, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			return NewPgvectorOracle(ctx, cfg.DatabaseURL, cfg.Embed, cfg.EmbeddingDim)
		}
		return NewChromemOracle(cfg.PersistDir, cfg.Embed)
	case "pgvector":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("pgvector retrieval requires DATABASE_URL")
		}
		return NewPgvectorOracle(ctx, cfg.DatabaseURL, cfg.Embed, cfg.EmbeddingDim)
	case "chromem":
		return NewChromemOracle(cfg.PersistDir, cfg.Embed)
	case "static":
		return NewStaticOracle(), nil
	default:
		return nil, fmt.Errorf("unsupported retrieval provider %q", cfg.Provider)
	}
}
