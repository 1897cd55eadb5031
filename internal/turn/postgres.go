package turn

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists chat histories in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initTurnSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initTurnSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_turns (
			chat_name TEXT NOT NULL,
			turn_id INT NOT NULL,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (chat_name, turn_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, chatName string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT turn_id, user_text, assistant_text
		 FROM chat_turns WHERE chat_name=$1 ORDER BY turn_id`,
		chatName,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.User.Text, &t.Assistant.Text); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return turns, nil
}

// Save replaces the chat's rows in one transaction so a reload always
// sees either the old or the new history, never a mix.
func (s *PostgresStore) Save(ctx context.Context, chatName string, turns []Turn) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE chat_name=$1`, chatName); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	for _, t := range turns {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_turns (chat_name, turn_id, user_text, assistant_text)
			 VALUES ($1, $2, $3, $4)`,
			chatName, t.ID, t.User.Text, t.Assistant.Text,
		)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, chatName string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chat_turns WHERE chat_name=$1`, chatName); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
