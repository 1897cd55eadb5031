package retrieval

import (
	"context"
	"errors"
	"testing"
)

func TestResultKeepsMaxScorePerTurn(t *testing.T) {
	var res Result
	res.add(4, 0.3)
	res.add(4, 0.8)
	res.add(4, 0.5)
	res.add(2, 0.1)

	if len(res.IDs) != 2 {
		t.Fatalf("ids = %v, want one entry per turn", res.IDs)
	}
	if res.Scores[4] != 0.8 {
		t.Fatalf("score for 4 = %v, want max 0.8", res.Scores[4])
	}
	if res.IDs[0] != 4 || res.IDs[1] != 2 {
		t.Fatalf("ids = %v, want first-occurrence order [4 2]", res.IDs)
	}
}

func TestStaticOracleFiltersByThreshold(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.SetResult("work", Result{
		IDs:    []int{1, 2, 3},
		Scores: map[int]float64{1: 0.9, 2: 0.1, 3: 0.4},
	})

	res, err := oracle.Query(context.Background(), "work", "anything", 0.3, 10)
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if len(res.IDs) != 2 {
		t.Fatalf("ids = %v, want 2 above threshold", res.IDs)
	}
	if _, ok := res.Scores[2]; ok {
		t.Fatalf("score below threshold leaked through: %v", res.Scores)
	}
}

func TestStaticOracleErrorMode(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.SetError(errors.New("index offline"))

	if _, err := oracle.Query(context.Background(), "work", "q", 0, 10); err == nil {
		t.Fatalf("Query succeeded in error mode")
	}
	if err := oracle.Upsert(context.Background(), "work", "1_u", "q", 1, "user"); err == nil {
		t.Fatalf("Upsert succeeded in error mode")
	}
}

func TestChromemOracleRoundTrip(t *testing.T) {
	// Constant embedding makes every stored item maximally similar to
	// the query, so the test only depends on the plumbing, not on any
	// real embedding model.
	embed := func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}

	oracle, err := NewChromemOracle("", embed)
	if err != nil {
		t.Fatalf("NewChromemOracle error = %v", err)
	}
	ctx := context.Background()

	if err := oracle.Upsert(ctx, "work", "1_u", "how do goroutines work", 1, "user"); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}
	if err := oracle.Upsert(ctx, "work", "1_a", "they are lightweight threads", 1, "assistant"); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}
	if err := oracle.Upsert(ctx, "other", "1_u", "unrelated chat", 1, "user"); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}

	res, err := oracle.Query(ctx, "work", "goroutines", 0.0, 10)
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if len(res.IDs) != 1 || res.IDs[0] != 1 {
		t.Fatalf("ids = %v, want deduplicated [1]", res.IDs)
	}
	if res.Scores[1] < 0.99 {
		t.Fatalf("score = %v, want ~1.0 for identical embeddings", res.Scores[1])
	}

	// Namespaces are isolated.
	other, err := oracle.Query(ctx, "other", "anything", 0.0, 10)
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	if len(other.IDs) != 1 {
		t.Fatalf("other namespace ids = %v, want its single turn", other.IDs)
	}
}

func TestChromemOracleEmptyNamespace(t *testing.T) {
	oracle, err := NewChromemOracle("", func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})
	if err != nil {
		t.Fatalf("NewChromemOracle error = %v", err)
	}

	res, err := oracle.Query(context.Background(), "empty", "q", 0.0, 10)
	if err != nil {
		t.Fatalf("Query on empty namespace error = %v", err)
	}
	if len(res.IDs) != 0 {
		t.Fatalf("ids = %v, want empty", res.IDs)
	}
}

func TestChromemOracleRequiresEmbedder(t *testing.T) {
	// Without the guard chromem would fall back to its own OpenAI
	// embedding func, a hidden key dependency.
	if _, err := NewChromemOracle("", nil); err == nil {
		t.Fatalf("NewChromemOracle accepted a nil embedder")
	}
	if _, err := NewOracle(context.Background(), Config{Provider: "chromem"}); err == nil {
		t.Fatalf("NewOracle accepted chromem without an embedder")
	}
}

func TestNewOracleRejectsUnknownProvider(t *testing.T) {
	if _, err := NewOracle(context.Background(), Config{Provider: "pinecone"}); err == nil {
		t.Fatalf("NewOracle accepted unknown provider")
	}
}

func TestNewOraclePgvectorRequiresDatabase(t *testing.T) {
	if _, err := NewOracle(context.Background(), Config{Provider: "pgvector"}); err == nil {
		t.Fatalf("NewOracle accepted pgvector without DATABASE_URL")
	}
}
