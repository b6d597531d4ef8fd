// Package document provides the document domain type: a text item stored
// and searched within a collection.
package document

import "time"

// Document is a text item identified by a string id, unique within its
// collection. The storage engine additionally assigns an internal rowid
// that joins the document row to its lexical and vector projections; that
// rowid is not part of the domain type itself and lives only at the
// storage boundary.
type Document struct {
	id         string
	collection string
	title      string
	content    string
	metadata   map[string]any
	createdAt  time.Time
	updatedAt  time.Time
}

// New creates a Document for first insertion.
func New(id, collection, title, content string, metadata map[string]any) Document {
	now := time.Now()
	return Document{
		id:         id,
		collection: collection,
		title:      title,
		content:    content,
		metadata:   copyMetadata(metadata),
		createdAt:  now,
		updatedAt:  now,
	}
}

// Reconstruct rebuilds a Document from persistence.
func Reconstruct(id, collection, title, content string, metadata map[string]any, createdAt, updatedAt time.Time) Document {
	return Document{
		id:         id,
		collection: collection,
		title:      title,
		content:    content,
		metadata:   copyMetadata(metadata),
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// ID returns the document's collection-scoped identifier.
func (d Document) ID() string { return d.id }

// Collection returns the name of the owning collection.
func (d Document) Collection() string { return d.collection }

// Title returns the optional document title.
func (d Document) Title() string { return d.title }

// Content returns the document's required UTF-8 content.
func (d Document) Content() string { return d.content }

// Metadata returns a copy of the document's opaque metadata blob.
func (d Document) Metadata() map[string]any {
	return copyMetadata(d.metadata)
}

// CreatedAt returns the creation timestamp.
func (d Document) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns the last update timestamp.
func (d Document) UpdatedAt() time.Time { return d.updatedAt }

// WithContent returns a copy of the document with updated title/content/
// metadata and a refreshed UpdatedAt, for use by explicit update paths that
// also rewrite the lexical and vector rows in the same transaction.
func (d Document) WithContent(title, content string, metadata map[string]any) Document {
	d.title = title
	d.content = content
	d.metadata = copyMetadata(metadata)
	d.updatedAt = time.Now()
	return d
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
