package retrieval

import (
	"context"
	"sync"
)

// UpsertRecord is one recorded StaticOracle upsert.
type UpsertRecord struct {
	Namespace string
	ID        string
	Text      string
	TurnID    int
	Role      string
}

// StaticOracle serves canned query results and records upserts. It
// backs the "static" provider for offline runs and doubles as the test
// collaborator.
type StaticOracle struct {
	mu      sync.Mutex
	results map[string]Result
	err     error
	upserts []UpsertRecord
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{results: make(map[string]Result)}
}

// SetResult fixes the result returned for a namespace.
func (o *StaticOracle) SetResult(namespace string, res Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[namespace] = res
}

// SetError makes every call fail, for exercising degraded paths.
func (o *StaticOracle) SetError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *StaticOracle) Upserts() []UpsertRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]UpsertRecord(nil), o.upserts...)
}

func (o *StaticOracle) Query(_ context.Context, namespace, _ string, threshold float64, _ int) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return Result{}, o.err
	}

	var res Result
	for _, id := range o.results[namespace].IDs {
		score := o.results[namespace].Scores[id]
		if score >= threshold {
			res.add(id, score)
		}
	}
	return res, nil
}

func (o *StaticOracle) Upsert(_ context.Context, namespace, id, text string, turnID int, role string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.upserts = append(o.upserts, UpsertRecord{
		Namespace: namespace,
		ID:        id,
		Text:      text,
		TurnID:    turnID,
		Role:      role,
	})
	return nil
}

func (o *StaticOracle) DeleteNamespace(_ context.Context, namespace string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	delete(o.results, namespace)
	return nil
}

func (o *StaticOracle) Close() error { return nil }
