package storage

import (
	"context"
	"encoding/json"

	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/internal/fault"
)

// LexicalStore persists and queries the content-less FTS5 lexical index
// (spec.md §4.1). Its rowid is always identical to the document table's
// rowid (invariant 1); that identity is enforced here, by inserting with
// an explicit rowid rather than letting SQLite assign one.
type LexicalStore struct {
	s *Store
}

// Lexical returns the LexicalStore view of s.
func (s *Store) Lexical() *LexicalStore { return &LexicalStore{s: s} }

// Insert adds the document's title/content/metadata to the lexical index
// under the given rowid. Tokenization is automatic (the FTS5 tokenizer
// configured at schema creation, spec.md §9 gotcha 1).
func (ls *LexicalStore) Insert(ctx context.Context, rowID document.RowID, title, content string, metadata map[string]any) error {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return fault.Wrap(fault.KindInvalidRequest, "marshal metadata", err)
	}
	if ls.s.IsSQLite() {
		sql := `INSERT INTO lexical_index (rowid, title, content, metadata) VALUES (?, ?, ?, ?)`
		if err := ls.s.session(ctx).Exec(sql, int64(rowID), title, content, metaJSON).Error; err != nil {
			return classifySQLError(err)
		}
		return nil
	}
	row := lexicalRow{RowID: int64(rowID), Title: title, Content: content, Metadata: metaJSON}
	if err := ls.s.session(ctx).Create(&row).Error; err != nil {
		return classifySQLError(err)
	}
	return nil
}

// Delete removes the lexical row for rowid.
func (ls *LexicalStore) Delete(ctx context.Context, rowID document.RowID) error {
	if ls.s.IsSQLite() {
		sql := `DELETE FROM lexical_index WHERE rowid = ?`
		return classifySQLErrorOrNil(ls.s.session(ctx).Exec(sql, int64(rowID)).Error)
	}
	return classifySQLErrorOrNil(ls.s.session(ctx).Where("rowid = ?", int64(rowID)).Delete(&lexicalRow{}).Error)
}

// LexicalMatch is one result of the lexical branch: a rowid and its BM25
// score (spec.md §4.4 step 2).
type LexicalMatch struct {
	RowID document.RowID
	Score float64
}

// Search runs the parameter-bound MATCH query spec.md §4.4 step 2 and §9
// gotcha 2 require — the query text is NEVER interpolated into the SQL
// string, it is always a bound parameter, so the FTS5 tokenizer (not
// Go's string formatting) is what interprets non-ASCII scripts.
// restrictRowIDs, when non-empty, limits the match to that candidate set
// (used to scope a lexical query to one collection's documents).
func (ls *LexicalStore) Search(ctx context.Context, queryText string, limit int, restrictRowIDs []document.RowID) ([]LexicalMatch, error) {
	if queryText == "" || limit <= 0 {
		return nil, nil
	}

	sql := `SELECT rowid, bm25(lexical_index) AS score FROM lexical_index WHERE lexical_index MATCH ?`
	args := []any{queryText}
	if len(restrictRowIDs) > 0 {
		ids := make([]int64, len(restrictRowIDs))
		for i, r := range restrictRowIDs {
			ids[i] = int64(r)
		}
		sql += ` AND rowid IN ?`
		args = append(args, ids)
	}
	sql += ` ORDER BY score LIMIT ?`
	args = append(args, limit)

	rows, err := ls.s.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	matches := make([]LexicalMatch, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		rowID, score := parseRowIDScore(r)
		// SQLite's bm25() returns negative scores where more negative is
		// more relevant; negate so higher is always better, matching the
		// teacher's infrastructure/search/bm25_sqlite.go sign flip.
		matches = append(matches, LexicalMatch{RowID: document.RowID(rowID), Score: -score})
	}
	return matches, nil
}

func parseRowIDScore(r []any) (int64, float64) {
	var rowID int64
	var score float64
	if len(r) > 0 {
		rowID = toInt64(r[0])
	}
	if len(r) > 1 {
		score = toFloat64(r[1])
	}
	return rowID, score
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
