// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package knowledge persists the reference propositions and loads them
// into the immutable in-memory index used for ranking.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "propositions.db"
)

// Store manages the proposition SQLite database. Propositions are
// append-only: an id that already exists is never overwritten.
type Store struct {
	db           *sql.DB
	knowledgeDir string
	maxResults   int
}

// NewStore opens or creates the database at knowledgeDir/index/propositions.db
// and creates the schema if it does not exist.
func NewStore(cfg types.KnowledgeBaseConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.KnowledgeDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	s := &Store{
		db:           db,
		knowledgeDir: cfg.KnowledgeDir,
		maxResults:   maxResults,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS propositions (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dim INTEGER NOT NULL,
			source TEXT,
			file_name TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_propositions_file_name ON propositions(file_name)`,
		`CREATE INDEX IF NOT EXISTS idx_propositions_source ON propositions(source)`,
		`CREATE TABLE IF NOT EXISTS import_status (
			source TEXT PRIMARY KEY,
			file_mod_time TEXT,
			rows INTEGER
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='propositions_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE propositions_fts USING fts5(text, content=propositions, content_rowid=rowid)`,
			`CREATE TRIGGER propositions_ai AFTER INSERT ON propositions BEGIN
				INSERT INTO propositions_fts(rowid, text) VALUES (new.rowid, new.text);
			END`,
			`CREATE TRIGGER propositions_ad AFTER DELETE ON propositions BEGIN
				INSERT INTO propositions_fts(propositions_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}

// ImportSummary holds counts from one import run.
type ImportSummary struct {
	Imported int
	Skipped  int
	Failed   int
}

// Total returns the number of rows processed.
func (s ImportSummary) Total() int {
	return s.Imported + s.Skipped + s.Failed
}

// ImportCSV loads a proposition CSV into the database. A file whose
// modification time matches the last import is skipped entirely.
func (s *Store) ImportCSV(ctx context.Context, path string, w io.Writer) (ImportSummary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("stat %s: %w", path, err)
	}
	source := filepath.Base(path)
	modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

	var storedModTime string
	err = s.db.QueryRowContext(ctx,
		`SELECT file_mod_time FROM import_status WHERE source = ?`, source,
	).Scan(&storedModTime)
	if err == nil && storedModTime == modTime {
		fmt.Fprintf(w, "skipped %s (unchanged)\n", source)
		return ImportSummary{}, nil
	}

	props, err := LoadCSV(path)
	if err != nil {
		return ImportSummary{}, err
	}

	summary, err := s.Import(ctx, source, props, w)
	if err != nil {
		return summary, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_status (source, file_mod_time, rows) VALUES (?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET file_mod_time=excluded.file_mod_time, rows=excluded.rows`,
		source, modTime, len(props),
	)
	if err != nil {
		return summary, fmt.Errorf("updating import status: %w", err)
	}
	return summary, nil
}

// Import appends propositions in a single transaction. Existing ids are
// skipped. Rows whose embedding cannot be normalized (empty, all zeros,
// NaN, Inf) or whose dimension differs from the stored dimension fail, so
// the store always loads into an Index.
func (s *Store) Import(ctx context.Context, source string, props []types.Proposition, w io.Writer) (ImportSummary, error) {
	dim, err := s.Dim(ctx)
	if err != nil {
		return ImportSummary{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO propositions (id, text, embedding, dim, source, file_name, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var summary ImportSummary
	for _, p := range props {
		if _, err := vector.Normalize(p.Embedding); err != nil {
			fmt.Fprintf(w, "failed  %s: embedding: %v\n", p.ID, err)
			summary.Failed++
			continue
		}
		if dim == 0 {
			dim = len(p.Embedding)
		}
		if len(p.Embedding) != dim {
			fmt.Fprintf(w, "failed  %s: dimension %d, store dimension is %d\n", p.ID, len(p.Embedding), dim)
			summary.Failed++
			continue
		}

		var metaJSON sql.NullString
		if len(p.Metadata) > 0 {
			b, _ := json.Marshal(p.Metadata)
			metaJSON = sql.NullString{String: string(b), Valid: true}
		}
		fileName := p.Metadata[types.MetaFileName]
		res, err := stmt.ExecContext(ctx,
			p.ID, p.Text, encodeEmbedding(p.Embedding), len(p.Embedding),
			source, sql.NullString{String: fileName, Valid: fileName != ""}, metaJSON,
		)
		if err != nil {
			return summary, fmt.Errorf("inserting proposition %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			summary.Skipped++
			continue
		}
		summary.Imported++
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("committing import: %w", err)
	}

	fmt.Fprintf(w, "imported %s: %d new, %d existing, %d failed\n",
		source, summary.Imported, summary.Skipped, summary.Failed)
	return summary, nil
}

// Load returns every proposition in insertion order.
func (s *Store) Load(ctx context.Context) ([]types.Proposition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, embedding, metadata FROM propositions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("loading propositions: %w", err)
	}
	defer rows.Close()

	var props []types.Proposition
	for rows.Next() {
		var (
			p        types.Proposition
			blob     []byte
			metaJSON sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Text, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		p.Embedding = decodeEmbedding(blob)
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &p.Metadata)
		}
		p.Seq = len(props)
		props = append(props, p)
	}
	return props, rows.Err()
}

// LoadIndex loads the database into an immutable Index.
func (s *Store) LoadIndex(ctx context.Context) (*Index, error) {
	props, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(props)
}

// Dim returns the stored embedding dimension, or 0 for an empty store.
func (s *Store) Dim(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT dim FROM propositions ORDER BY rowid LIMIT 1`,
	).Scan(&dim); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("reading dimension: %w", err)
	}
	return int(dim.Int64), nil
}

// Stats summarizes the store contents.
type Stats struct {
	Propositions int      `json:"propositions" yaml:"propositions"`
	Dimension    int      `json:"dimension" yaml:"dimension"`
	Sources      []string `json:"sources" yaml:"sources"`
	FileNames    int      `json:"file_names" yaml:"file_names"`
}

// Stats counts propositions, sources, and distinct file names.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT file_name) FROM propositions`,
	).Scan(&st.Propositions, &st.FileNames); err != nil {
		return st, fmt.Errorf("counting propositions: %w", err)
	}

	dim, err := s.Dim(ctx)
	if err != nil {
		return st, err
	}
	st.Dimension = dim

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT source FROM propositions WHERE source IS NOT NULL ORDER BY source`)
	if err != nil {
		return st, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return st, fmt.Errorf("scanning source: %w", err)
		}
		st.Sources = append(st.Sources, src)
	}
	return st, rows.Err()
}

// encodeEmbedding packs a vector as little-endian float32 values.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
