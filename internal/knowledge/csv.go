// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdiddy/citation-engine/internal/vector"
	"github.com/pdiddy/citation-engine/pkg/types"
)

// Column names recognized in proposition CSV files. Unrecognized columns
// are carried into the proposition metadata.
var (
	idColumns        = []string{"id", "proposition_id"}
	textColumns      = []string{"text", "proposition", "content"}
	embeddingColumns = []string{"embedding", "embeddings", "vector"}
	metadataColumns  = []string{"metadata"}
)

// LoadCSV reads propositions from a CSV file.
func LoadCSV(path string) ([]types.Proposition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	props, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return props, nil
}

// ReadCSV parses a header row followed by one proposition per row. The
// embedding column holds a bracketed list of numbers. Rows without an id
// are assigned "row_<n>" where n is the 0-based data row number.
func ReadCSV(r io.Reader) ([]types.Proposition, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	idCol := findColumn(header, idColumns)
	textCol := findColumn(header, textColumns)
	embCol := findColumn(header, embeddingColumns)
	metaCol := findColumn(header, metadataColumns)
	if textCol < 0 {
		return nil, fmt.Errorf("missing text column (one of %s)", strings.Join(textColumns, ", "))
	}
	if embCol < 0 {
		return nil, fmt.Errorf("missing embedding column (one of %s)", strings.Join(embeddingColumns, ", "))
	}

	var props []types.Proposition
	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		text := strings.TrimSpace(field(record, textCol))
		if text == "" {
			return nil, fmt.Errorf("row %d: empty text", row)
		}
		emb, err := vector.Parse(field(record, embCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: embedding: %w", row, err)
		}

		p := types.Proposition{
			ID:        strings.TrimSpace(field(record, idCol)),
			Text:      text,
			Embedding: emb,
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("row_%d", row)
		}

		meta := make(map[string]string)
		if raw := strings.TrimSpace(field(record, metaCol)); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("row %d: metadata: %w", row, err)
			}
		}
		for i, name := range header {
			if i == idCol || i == textCol || i == embCol || i == metaCol || name == "" {
				continue
			}
			if v := strings.TrimSpace(field(record, i)); v != "" {
				meta[name] = v
			}
		}
		if len(meta) > 0 {
			p.Metadata = meta
		}

		props = append(props, p)
	}
	return props, nil
}

// WriteCSV writes propositions in the format ReadCSV accepts.
func WriteCSV(w io.Writer, props []types.Proposition) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "text", "embedding", "metadata"}); err != nil {
		return err
	}
	for _, p := range props {
		meta := ""
		if len(p.Metadata) > 0 {
			b, err := json.Marshal(p.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata for %s: %w", p.ID, err)
			}
			meta = string(b)
		}
		if err := cw.Write([]string{p.ID, p.Text, vector.Format(p.Embedding), meta}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func findColumn(header, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}
