package storage

import (
	"context"
	"time"

	"github.com/strataeng/strata/domain/document"
)

// QueueEntry is a work item describing a document awaiting embedding
// (spec.md §3 "Embedding Queue Entry").
type QueueEntry struct {
	ID         int64
	RowID      document.RowID
	DocumentID string
	Collection string
	TextDigest string
	EnqueuedAt time.Time
}

// QueueStore persists the append-only embedding work queue. Modeled as a
// table rather than an in-memory deque so pending work survives a restart
// (spec.md §9 "Embedding queue as a table, not an in-memory deque").
type QueueStore struct {
	s *Store
}

// Queue returns the QueueStore view of s.
func (s *Store) Queue() *QueueStore { return &QueueStore{s: s} }

// Enqueue appends a work item for rowid. Called by the ingest coordinator
// when a document is inserted without a synchronously-produced embedding
// (spec.md §4.2 step 3c), including when the embedding call fails or
// times out.
func (qs *QueueStore) Enqueue(ctx context.Context, rowID document.RowID, documentID, collection, textDigest string) error {
	row := embeddingQueueRow{
		DocumentRowID: int64(rowID),
		DocumentID:    documentID,
		Collection:    collection,
		TextDigest:    textDigest,
		EnqueuedAt:    time.Now().UnixNano(),
	}
	return classifySQLErrorOrNil(qs.s.session(ctx).Create(&row).Error)
}

// Poll returns up to limit queue entries in FIFO order (enqueued_at
// ascending), the consumption order spec.md §3 names.
func (qs *QueueStore) Poll(ctx context.Context, limit int) ([]QueueEntry, error) {
	var rows []embeddingQueueRow
	err := qs.s.session(ctx).Order("enqueued_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, classifySQLError(err)
	}
	out := make([]QueueEntry, len(rows))
	for i, r := range rows {
		out[i] = QueueEntry{
			ID:         r.ID,
			RowID:      document.RowID(r.DocumentRowID),
			DocumentID: r.DocumentID,
			Collection: r.Collection,
			TextDigest: r.TextDigest,
			EnqueuedAt: time.Unix(0, r.EnqueuedAt),
		}
	}
	return out, nil
}

// Remove deletes a queue entry on successful consumption.
func (qs *QueueStore) Remove(ctx context.Context, id int64) error {
	return classifySQLErrorOrNil(qs.s.session(ctx).Where("id = ?", id).Delete(&embeddingQueueRow{}).Error)
}

// Count returns the number of pending queue entries, backing the
// embedding pipeline's status() "pending request count" (spec.md §4.3).
func (qs *QueueStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := qs.s.session(ctx).Model(&embeddingQueueRow{}).Count(&count).Error
	if err != nil {
		return 0, classifySQLError(err)
	}
	return count, nil
}
