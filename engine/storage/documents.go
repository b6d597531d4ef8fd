package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/internal/fault"
)

// DocumentStore implements document.Store against the document table.
type DocumentStore struct {
	s *Store
}

// Documents returns the DocumentStore view of s.
func (s *Store) Documents() *DocumentStore { return &DocumentStore{s: s} }

var _ document.Store = (*DocumentStore)(nil)

// Insert adds a document and returns its assigned rowid (invariant 5: the
// autoincrement rowid is assigned once and never reused).
func (ds *DocumentStore) Insert(ctx context.Context, doc document.Document) (document.RowID, error) {
	metaJSON, err := marshalMetadata(doc.Metadata())
	if err != nil {
		return 0, fault.Wrap(fault.KindInvalidRequest, "marshal metadata", err)
	}
	row := documentRow{
		ID:         doc.ID(),
		Collection: doc.Collection(),
		Title:      doc.Title(),
		Content:    doc.Content(),
		Metadata:   []byte(metaJSON),
		CreatedAt:  doc.CreatedAt().UnixNano(),
		UpdatedAt:  doc.UpdatedAt().UnixNano(),
	}
	if err := ds.s.session(ctx).Create(&row).Error; err != nil {
		return 0, classifySQLError(err)
	}
	return document.RowID(row.RowID), nil
}

// Get retrieves a document by collection-scoped id.
func (ds *DocumentStore) Get(ctx context.Context, collection, id string) (document.Document, document.RowID, error) {
	var row documentRow
	err := ds.s.session(ctx).Where("collection = ? AND id = ?", collection, id).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return document.Document{}, 0, fault.NewError(fault.KindInvalidRequest, "document not found")
		}
		return document.Document{}, 0, classifySQLError(err)
	}
	return rowToDocument(row), document.RowID(row.RowID), nil
}

// Find retrieves documents by rowid, preserving the requested order, for
// hydration after fusion has decided the winning set (spec.md §4.4 step 7).
func (ds *DocumentStore) Find(ctx context.Context, collection string, rowIDs []document.RowID) ([]document.Document, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rowIDs))
	for i, r := range rowIDs {
		ids[i] = int64(r)
	}

	var rows []documentRow
	q := ds.s.session(ctx).Where("rowid IN ?", ids)
	if collection != "" {
		q = q.Where("collection = ?", collection)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, classifySQLError(err)
	}

	byRowID := make(map[int64]documentRow, len(rows))
	for _, r := range rows {
		byRowID[r.RowID] = r
	}

	out := make([]document.Document, 0, len(rowIDs))
	for _, id := range rowIDs {
		if row, ok := byRowID[int64(id)]; ok {
			out = append(out, rowToDocument(row))
		}
	}
	return out, nil
}

// FindByRowID retrieves documents by rowid and returns them keyed by rowid,
// for callers (the hybrid search engine) that need to re-associate hydrated
// documents with their fused rank rather than relying on positional order.
func (ds *DocumentStore) FindByRowID(ctx context.Context, collection string, rowIDs []document.RowID) (map[document.RowID]document.Document, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rowIDs))
	for i, r := range rowIDs {
		ids[i] = int64(r)
	}

	var rows []documentRow
	q := ds.s.session(ctx).Where("rowid IN ?", ids)
	if collection != "" {
		q = q.Where("collection = ?", collection)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, classifySQLError(err)
	}

	out := make(map[document.RowID]document.Document, len(rows))
	for _, r := range rows {
		out[document.RowID(r.RowID)] = rowToDocument(r)
	}
	return out, nil
}

// Update rewrites a document's content/metadata in place, preserving rowid.
func (ds *DocumentStore) Update(ctx context.Context, doc document.Document) error {
	metaJSON, err := marshalMetadata(doc.Metadata())
	if err != nil {
		return fault.Wrap(fault.KindInvalidRequest, "marshal metadata", err)
	}
	result := ds.s.session(ctx).Model(&documentRow{}).
		Where("collection = ? AND id = ?", doc.Collection(), doc.ID()).
		Updates(map[string]any{
			"title":      doc.Title(),
			"content":    doc.Content(),
			"metadata":   []byte(metaJSON),
			"updated_at": time.Now().UnixNano(),
		})
	if result.Error != nil {
		return classifySQLError(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NewError(fault.KindInvalidRequest, "document not found")
	}
	return nil
}

// Delete removes a document by collection-scoped id. Callers cascade to
// the lexical and vector rows in the same transaction (spec.md §3).
func (ds *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	return classifySQLErrorOrNil(
		ds.s.session(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&documentRow{}).Error,
	)
}

// Count returns the total number of documents in a collection.
func (ds *DocumentStore) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := ds.s.session(ctx).Model(&documentRow{}).Where("collection = ?", collection).Count(&count).Error
	if err != nil {
		return 0, classifySQLError(err)
	}
	return count, nil
}

// CountEmbedded returns the number of documents in a collection that have
// a corresponding vector row, via a single COUNT join rather than loading
// rows (grounded on internal/database.Repository.Exists's use of .Count()).
func (ds *DocumentStore) CountEmbedded(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := ds.s.session(ctx).
		Table("documents").
		Joins("JOIN vectors ON vectors.rowid = documents.rowid").
		Where("documents.collection = ?", collection).
		Count(&count).Error
	if err != nil {
		return 0, classifySQLError(err)
	}
	return count, nil
}

// RowIDsForCollection returns every rowid belonging to collection, used to
// scope lexical/vector branch queries to one collection (spec.md §4.4
// "Collection filter").
func (ds *DocumentStore) RowIDsForCollection(ctx context.Context, collection string) ([]document.RowID, error) {
	var ids []int64
	err := ds.s.session(ctx).Model(&documentRow{}).Where("collection = ?", collection).Pluck("rowid", &ids).Error
	if err != nil {
		return nil, classifySQLError(err)
	}
	out := make([]document.RowID, len(ids))
	for i, id := range ids {
		out[i] = document.RowID(id)
	}
	return out, nil
}

func rowToDocument(row documentRow) document.Document {
	return document.Reconstruct(
		row.ID, row.Collection, row.Title, row.Content,
		unmarshalMetadata(row.Metadata),
		time.Unix(0, row.CreatedAt),
		time.Unix(0, row.UpdatedAt),
	)
}
