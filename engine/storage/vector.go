package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/internal/fault"
)

// Float32Slice is a fixed-width float32 vector serialized as JSON for
// SQLite/Postgres storage, matching spec.md §3's Vector Index Row. The
// teacher's own SQLite vector store (infrastructure/search/vector_sqlite.go)
// uses the identical JSON-blob-plus-in-memory-search shape for []float64;
// this narrows to float32 per spec.md's "fixed-width float32 array".
type Float32Slice []float32

// Scan implements sql.Scanner.
func (f *Float32Slice) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Float32Slice", value)
	}
	return json.Unmarshal(data, f)
}

// Value implements driver.Valuer.
func (f Float32Slice) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// VectorRow pairs a document rowid with its stored vector, returned by
// LoadAll so callers never see the GORM model directly.
type VectorRow struct {
	RowID  document.RowID
	Vector []float32
}

// VectorStore persists and queries the vector virtual table.
type VectorStore struct {
	s *Store
}

// Vectors returns the VectorStore view of s.
func (s *Store) Vectors() *VectorStore { return &VectorStore{s: s} }

// Insert adds a vector row for rowid. Fails with DimensionMismatch if the
// vector's length doesn't equal dimensions (invariant 4); callers
// (engine/ingest) resolve dimensions from the owning collection first.
func (vs *VectorStore) Insert(ctx context.Context, rowID document.RowID, vector []float32, dimensions int) error {
	if dimensions > 0 && len(vector) != dimensions {
		return fault.NewError(fault.KindDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, collection expects %d", len(vector), dimensions)).
			WithDetails(map[string]any{"rowid": int64(rowID)})
	}
	if vs.s.IsPostgres() {
		row := pgVectorRow{RowID: int64(rowID), Vector: pgvector.NewVector(vector)}
		if err := vs.s.session(ctx).Create(&row).Error; err != nil {
			return classifySQLError(err)
		}
		return nil
	}
	row := vectorRow{RowID: int64(rowID), Vector: Float32Slice(vector)}
	if err := vs.s.session(ctx).Create(&row).Error; err != nil {
		return classifySQLError(err)
	}
	return nil
}

// Exists reports whether rowid has a stored vector (invariant 3: absence
// means "pending/failed", not an error).
func (vs *VectorStore) Exists(ctx context.Context, rowID document.RowID) (bool, error) {
	var count int64
	err := vs.s.session(ctx).Model(&vectorRow{}).Where("rowid = ?", int64(rowID)).Count(&count).Error
	if err != nil {
		return false, classifySQLError(err)
	}
	return count > 0, nil
}

// Delete removes the vector row for rowid, if any. Used by document
// delete cascades (spec.md §3 "Document" lifecycle).
func (vs *VectorStore) Delete(ctx context.Context, rowID document.RowID) error {
	return classifySQLErrorOrNil(vs.s.session(ctx).Where("rowid = ?", int64(rowID)).Delete(&vectorRow{}).Error)
}

// LoadAll returns every stored vector whose rowid is in the given
// collection's document set, for the hybrid search engine's in-memory
// top-k search (engine/search). allowedRowIDs restricts the scan to a
// candidate set (e.g. a collection's documents).
func (vs *VectorStore) LoadAll(ctx context.Context, allowedRowIDs []document.RowID) ([]VectorRow, error) {
	if len(allowedRowIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(allowedRowIDs))
	for i, r := range allowedRowIDs {
		ids[i] = int64(r)
	}
	if vs.s.IsPostgres() {
		var rows []pgVectorRow
		if err := vs.s.session(ctx).Where("rowid IN ?", ids).Find(&rows).Error; err != nil {
			return nil, classifySQLError(err)
		}
		out := make([]VectorRow, len(rows))
		for i, r := range rows {
			out[i] = VectorRow{RowID: document.RowID(r.RowID), Vector: r.Vector.Slice()}
		}
		return out, nil
	}
	var rows []vectorRow
	if err := vs.s.session(ctx).Where("rowid IN ?", ids).Find(&rows).Error; err != nil {
		return nil, classifySQLError(err)
	}
	out := make([]VectorRow, len(rows))
	for i, r := range rows {
		out[i] = VectorRow{RowID: document.RowID(r.RowID), Vector: []float32(r.Vector)}
	}
	return out, nil
}

func classifySQLErrorOrNil(err error) error {
	if err == nil {
		return nil
	}
	return classifySQLError(err)
}

// CosineDistance returns 1 - cosine similarity, so 0 means identical and
// larger means farther apart — the "distance" spec.md §4.4 step 3 names
// in `SELECT rowid, distance FROM vec WHERE vec MATCH ? AND k = K`.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2 // maximally dissimilar sentinel, mirrors teacher's 0-similarity default
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 2
	}
	cosine := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	return 1 - cosine
}

// VectorMatch is one result of a vector branch query: a rowid and its
// distance to the query vector (spec.md §4.4 step 3's `distance` column).
type VectorMatch struct {
	RowID    document.RowID
	Distance float64
}

// TopKByDistance ranks rows by ascending distance to query and returns at
// most k, grounded on infrastructure/search/similarity.go's TopKSimilar,
// inverted from similarity (higher-better) to distance (lower-better) per
// spec.md §4.4 step 3's `distance` column.
func TopKByDistance(query []float32, rows []VectorRow, k int) []VectorMatch {
	if len(rows) == 0 || k <= 0 {
		return nil
	}
	matches := make([]VectorMatch, len(rows))
	for i, r := range rows {
		matches[i] = VectorMatch{RowID: r.RowID, Distance: CosineDistance(query, r.Vector)}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
