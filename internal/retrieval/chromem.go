package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemOracle keeps the similarity index in-process with chromem-go,
// one collection per namespace. With a persist dir the index survives
// restarts; without one it lives in memory (useful for dev and tests).
type ChromemOracle struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

func NewChromemOracle(persistDir string, embed EmbedFunc) (*ChromemOracle, error) {
	// Without an explicit embedder chromem would silently fall back to
	// its own OpenAI default, pulling in a key dependency this process
	// was configured without. Fail at construction instead.
	if embed == nil {
		return nil, fmt.Errorf("chromem retrieval requires an embedding backend")
	}

	var db *chromem.DB
	if strings.TrimSpace(persistDir) == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistDir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem index: %w", err)
		}
	}

	return &ChromemOracle{db: db, embed: chromem.EmbeddingFunc(embed)}, nil
}

func (o *ChromemOracle) collection(namespace string) (*chromem.Collection, error) {
	// Prefix keeps the name non-empty even for namespaces sanitized
	// down to nothing.
	col, err := o.db.GetOrCreateCollection("ns_"+namespace, nil, o.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection for %q: %w", namespace, err)
	}
	return col, nil
}

func (o *ChromemOracle) Upsert(ctx context.Context, namespace, id, text string, turnID int, role string) error {
	col, err := o.collection(namespace)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:      id,
		Content: text,
		Metadata: map[string]string{
			"turn_id": strconv.Itoa(turnID),
			"role":    role,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (o *ChromemOracle) Query(ctx context.Context, namespace, text string, threshold float64, topK int) (Result, error) {
	col, err := o.collection(namespace)
	if err != nil {
		return Result{}, err
	}

	count := col.Count()
	if count == 0 {
		return Result{}, nil
	}
	if topK <= 0 {
		topK = 10
	}
	if topK > count {
		topK = count
	}

	matches, err := col.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("query collection: %w", err)
	}

	var res Result
	for _, m := range matches {
		similarity := float64(m.Similarity)
		if similarity < threshold {
			continue
		}
		turnID, err := strconv.Atoi(m.Metadata["turn_id"])
		if err != nil {
			continue
		}
		res.add(turnID, similarity)
	}
	return res, nil
}

func (o *ChromemOracle) DeleteNamespace(_ context.Context, namespace string) error {
	if err := o.db.DeleteCollection("ns_" + namespace); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

func (o *ChromemOracle) Close() error { return nil }
