// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// RemoteSchema is the pgvector table layout expected by Remote, with the
// table name as its single format argument. seq preserves insertion order
// for tie-breaking.
const RemoteSchema = `CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	metadata JSONB
)`

const defaultRemoteK = 10

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Remote ranks claims against a PostgreSQL table using the pgvector
// cosine distance operator. It satisfies the same ranking contract as the
// in-memory ranker.
type Remote struct {
	db    *sql.DB
	table string
}

// OpenRemote connects to dsn and verifies the connection.
func OpenRemote(ctx context.Context, dsn, table string) (*Remote, error) {
	if table == "" {
		table = "propositions"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &Remote{db: db, table: table}, nil
}

// Close releases the connection pool.
func (r *Remote) Close() error {
	return r.db.Close()
}

// EnsureSchema creates the extension and table when missing.
func (r *Remote) EnsureSchema(ctx context.Context, dim int) error {
	if _, err := r.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(RemoteSchema, r.table, dim)); err != nil {
		return fmt.Errorf("creating table %s: %w", r.table, err)
	}
	return nil
}

// Upload appends propositions; ids already present are left untouched.
func (r *Remote) Upload(ctx context.Context, props []types.Proposition) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, text, embedding, metadata) VALUES ($1, $2, $3::vector, $4::jsonb)
		 ON CONFLICT (id) DO NOTHING`, r.table))
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range props {
		meta, _ := json.Marshal(p.Metadata)
		res, err := stmt.ExecContext(ctx, p.ID, p.Text, vector.Format(p.Embedding), string(meta))
		if err != nil {
			return inserted, fmt.Errorf("inserting %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// Rank returns up to k propositions ordered by descending cosine
// similarity, ties broken by insertion order. An empty table yields an
// empty result.
func (r *Remote) Rank(ctx context.Context, embedding []float32, k int) ([]types.Match, error) {
	if k <= 0 {
		k = defaultRemoteK
	}
	rows, err := r.db.QueryContext(ctx, r.rankQuery(), vector.Format(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table, err)
	}
	defer rows.Close()

	matches := []types.Match{}
	for rows.Next() {
		var (
			m        types.Match
			seq      int64
			metaJSON sql.NullString
		)
		if err := rows.Scan(&m.PropositionID, &m.Text, &metaJSON, &seq, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		m.Seq = int(seq)
		if metaJSON.Valid {
			json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *Remote) rankQuery() string {
	return fmt.Sprintf(
		`SELECT id, text, metadata::text, seq, 1 - (embedding <=> $1::vector) AS score
		 FROM %s
		 ORDER BY embedding <=> $1::vector, seq
		 LIMIT $2`, r.table)
}
