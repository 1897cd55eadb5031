package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PgvectorOracle stores turn embeddings in PostgreSQL and answers
// similarity queries with pgvector cosine distance.
type PgvectorOracle struct {
	pool  *pgxpool.Pool
	embed EmbedFunc
}

func NewPgvectorOracle(ctx context.Context, databaseURL string, embed EmbedFunc, dim int) (*PgvectorOracle, error) {
	if embed == nil {
		return nil, errors.New("pgvector retrieval requires an embedding function")
	}
	if dim <= 0 {
		dim = 1536
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initRetrievalSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}

	return &PgvectorOracle{pool: pool, embed: embed}, nil
}

func initRetrievalSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS retrieval_items (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			turn_id INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, id)
		);`, dim),
		`CREATE INDEX IF NOT EXISTS idx_retrieval_items_namespace ON retrieval_items (namespace);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (o *PgvectorOracle) Upsert(ctx context.Context, namespace, id, text string, turnID int, role string) error {
	vec, err := o.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed for upsert: %w", err)
	}

	_, err = o.pool.Exec(ctx,
		`INSERT INTO retrieval_items (namespace, id, turn_id, role, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namespace, id) DO UPDATE
		 SET turn_id = EXCLUDED.turn_id, role = EXCLUDED.role,
		     content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
		namespace, id, turnID, role, text, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("upsert retrieval item: %w", err)
	}
	return nil
}

func (o *PgvectorOracle) Query(ctx context.Context, namespace, text string, threshold float64, topK int) (Result, error) {
	if topK <= 0 {
		topK = 10
	}

	vec, err := o.embed(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("embed for query: %w", err)
	}
	qv := pgvector.NewVector(vec)

	// Cosine distance is 1 - cosine similarity, so similarity is
	// 1 - (embedding <=> query).
	rows, err := o.pool.Query(ctx,
		`SELECT turn_id, 1 - (embedding <=> $2) AS similarity
		 FROM retrieval_items
		 WHERE namespace = $1 AND 1 - (embedding <=> $2) >= $3
		 ORDER BY similarity DESC
		 LIMIT $4`,
		namespace, qv, threshold, topK,
	)
	if err != nil {
		return Result{}, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var res Result
	for rows.Next() {
		var turnID int
		var similarity float64
		if err := rows.Scan(&turnID, &similarity); err != nil {
			return Result{}, fmt.Errorf("scan similarity row: %w", err)
		}
		res.add(turnID, similarity)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate similarity rows: %w", err)
	}
	return res, nil
}

func (o *PgvectorOracle) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := o.pool.Exec(ctx, `DELETE FROM retrieval_items WHERE namespace=$1`, namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

func (o *PgvectorOracle) Close() error {
	o.pool.Close()
	return nil
}
