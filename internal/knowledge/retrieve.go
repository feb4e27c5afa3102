// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// QueryOptions holds parameters for full-text proposition queries.
type QueryOptions struct {
	// Query is the FTS5 full-text search string.
	Query string

	// FileName filters by the file_name metadata of the proposition.
	FileName string

	// Source filters by the import source (CSV file name).
	Source string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Query == "" && q.FileName == "" && q.Source == ""
}

// QueryResult is a proposition returned by Retrieve, without its embedding.
type QueryResult struct {
	ID       string            `json:"id" yaml:"id"`
	Text     string            `json:"text" yaml:"text"`
	Source   string            `json:"source,omitempty" yaml:"source,omitempty"`
	FileName string            `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Seq      int               `json:"seq" yaml:"seq"`
}

// Retrieve queries propositions with optional full-text search and
// filters. Full-text results are ranked by relevance; filter-only results
// are returned in insertion order.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Query != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT p.rowid, p.id, p.text, p.source, p.file_name, p.metadata
			FROM propositions_fts
			JOIN propositions p ON p.rowid = propositions_fts.rowid
			WHERE propositions_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT p.rowid, p.id, p.text, p.source, p.file_name, p.metadata
			FROM propositions p
			WHERE 1=1`)
	}

	if opts.FileName != "" {
		qb.WriteString(` AND p.file_name = ?`)
		args = append(args, opts.FileName)
	}
	if opts.Source != "" {
		qb.WriteString(` AND p.source = ?`)
		args = append(args, opts.Source)
	}

	if useFTS {
		qb.WriteString(` ORDER BY propositions_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY p.rowid`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying propositions: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr       QueryResult
			rowid    int
			source   sql.NullString
			fileName sql.NullString
			metaJSON sql.NullString
		)
		if err := rows.Scan(&rowid, &qr.ID, &qr.Text, &source, &fileName, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		qr.Seq = rowid - 1
		qr.Source = source.String
		qr.FileName = fileName.String
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &qr.Metadata)
		}
		results = append(results, qr)
	}

	return results, rows.Err()
}
