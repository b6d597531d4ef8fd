package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/strataeng/strata/internal/database"
	"github.com/strataeng/strata/internal/fault"
)

// schemaMeta is the single-row metadata table tracking the applied schema
// version (spec.md §6: "Schema version is persisted inside the database").
type schemaMeta struct {
	ID      int `gorm:"column:id;primaryKey"`
	Version int `gorm:"column:version"`
}

func (schemaMeta) TableName() string { return "schema_meta" }

// documentRow is the GORM model for the document table (spec.md §3).
type documentRow struct {
	RowID      int64  `gorm:"column:rowid;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;index:idx_doc_collection_id,unique"`
	Collection string `gorm:"column:collection;index:idx_doc_collection_id,unique"`
	Title      string `gorm:"column:title"`
	Content    string `gorm:"column:content"`
	Metadata   []byte `gorm:"column:metadata;type:json"`
	CreatedAt  int64  `gorm:"column:created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (documentRow) TableName() string { return "documents" }

// collectionRow is the GORM model for collection metadata (spec.md §3).
type collectionRow struct {
	Name         string `gorm:"column:name;primaryKey"`
	ProviderID   string `gorm:"column:provider_id"`
	ModelID      string `gorm:"column:model_id"`
	Dimensions   int    `gorm:"column:dimensions"`
	AutoGenerate bool   `gorm:"column:auto_generate"`
	BatchSize    int    `gorm:"column:batch_size"`
	Description  string `gorm:"column:description"`
}

func (collectionRow) TableName() string { return "collections" }

// vectorRow is the GORM model for the vector virtual table. rowid is
// shared with documentRow's rowid (invariant 2); Vector is a fixed-width
// float32 array serialized as JSON. A real sqlite-vec virtual table isn't
// part of this corpus's dependency set (no example repo imports one), so
// the vector "virtual table" of spec.md §4.1 is realized the way the
// teacher's own SQLite vector store does it — a JSON column plus
// in-memory top-k distance search (TopKByDistance in
// engine/storage/vector.go) — while
// still presenting the MATCH/k query shape spec.md §4.4 names.
type vectorRow struct {
	RowID  int64        `gorm:"column:rowid;primaryKey"`
	Vector Float32Slice `gorm:"column:vector;type:json"`
}

func (vectorRow) TableName() string { return "vectors" }

// pgVectorRow is the Postgres counterpart of vectorRow: same table and
// rowid join key, but the vector column is a native `pgvector` VECTOR
// column instead of a JSON blob, so similarity can eventually be pushed
// down to the database (`ORDER BY vector <=> ?`) rather than scored
// entirely in Go. Picked by dialect in applyMigration/VectorStore; SQLite
// has no pgvector extension, so it keeps the JSON encoding above.
type pgVectorRow struct {
	RowID  int64          `gorm:"column:rowid;primaryKey"`
	Vector pgvector.Vector `gorm:"column:vector;type:vector"`
}

func (pgVectorRow) TableName() string { return "vectors" }

// lexicalRow mirrors the content-less FTS5 table's logical shape for the
// dialects (Postgres) that don't have FTS5. On SQLite the real table is a
// virtual table created by raw SQL (lexicalCreateSQLite below); on
// Postgres this GORM model backs a tsvector-indexed table instead.
type lexicalRow struct {
	RowID    int64  `gorm:"column:rowid;primaryKey"`
	Title    string `gorm:"column:title"`
	Content  string `gorm:"column:content"`
	Metadata string `gorm:"column:metadata"`
}

func (lexicalRow) TableName() string { return "lexical_index" }

// embeddingQueueRow is the append-only work queue (spec.md §3 "Embedding
// Queue Entry").
type embeddingQueueRow struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	DocumentRowID int64 `gorm:"column:document_rowid"`
	DocumentID   string `gorm:"column:document_id"`
	Collection   string `gorm:"column:collection"`
	TextDigest   string `gorm:"column:text_digest"`
	EnqueuedAt   int64  `gorm:"column:enqueued_at"`
}

func (embeddingQueueRow) TableName() string { return "embedding_queue" }

// cacheRow is the in-database embedding cache tier (spec.md §4.3 tier 3).
type cacheRow struct {
	ProviderID string       `gorm:"column:provider_id;primaryKey"`
	ModelID    string       `gorm:"column:model_id;primaryKey"`
	TextDigest string       `gorm:"column:text_digest;primaryKey"`
	Vector     Float32Slice `gorm:"column:vector;type:json"`
	AccessedAt int64        `gorm:"column:accessed_at"`
	SizeBytes  int          `gorm:"column:size_bytes"`
}

func (cacheRow) TableName() string { return "embedding_cache" }

// lexicalCreateSQLite is the FTS5 virtual table definition spec.md §4.1 and
// §9 gotcha 1 require: a Unicode-aware tokenizer covering letters, digits,
// and private-use categories, with diacritics retained, content-less so
// its rowid is exactly the document table's rowid.
const lexicalCreateSQLite = `
CREATE VIRTUAL TABLE IF NOT EXISTS lexical_index USING fts5(
    title,
    content,
    metadata,
    tokenize = 'unicode61 remove_diacritics 0 categories ''L* N* Co''',
    content=''
)`

// migrate detects the current schema version (0 if the database is new)
// and applies forward migrations in order, stopping at SchemaVersion
// (spec.md §4.1, idempotent across versions at or above current).
func (s *Store) migrate(ctx context.Context) error {
	db := s.db.Session(ctx)

	if err := db.AutoMigrate(&schemaMeta{}); err != nil {
		return fault.Wrap(fault.KindSqlError, "migrate schema_meta", err)
	}

	current, err := readSchemaVersionSession(db)
	if err != nil {
		return err
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		if err := s.applyMigration(ctx, v); err != nil {
			return fault.Wrap(fault.KindSchemaMismatch, fmt.Sprintf("apply migration v%d", v), err)
		}
	}

	if current == 0 {
		if err := db.Create(&schemaMeta{ID: 1, Version: SchemaVersion}).Error; err != nil {
			return fault.Wrap(fault.KindSqlError, "record schema version", err)
		}
	} else if current < SchemaVersion {
		if err := db.Model(&schemaMeta{}).Where("id = ?", 1).Update("version", SchemaVersion).Error; err != nil {
			return fault.Wrap(fault.KindSqlError, "update schema version", err)
		}
	}

	return nil
}

// applyMigration creates the tables introduced at version v. Versions 1-4
// are additive: v1 documents, v2 lexical+vector, v3 collections, v4
// embedding queue + cache. Applying v1..4 on a fresh database and applying
// only v4 on an already-v3 database both converge to the same schema,
// satisfying the idempotence property in spec.md §8.
func (s *Store) applyMigration(ctx context.Context, v int) error {
	db := s.db.Session(ctx)
	switch v {
	case 1:
		return db.AutoMigrate(&documentRow{})
	case 2:
		if s.IsSQLite() {
			if err := db.Exec(lexicalCreateSQLite).Error; err != nil {
				return err
			}
			return db.AutoMigrate(&vectorRow{})
		}
		if err := db.AutoMigrate(&lexicalRow{}); err != nil {
			return err
		}
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			return err
		}
		return db.AutoMigrate(&pgVectorRow{})
	case 3:
		return db.AutoMigrate(&collectionRow{})
	case 4:
		if err := db.AutoMigrate(&embeddingQueueRow{}); err != nil {
			return err
		}
		return db.AutoMigrate(&cacheRow{})
	default:
		return fmt.Errorf("unknown schema migration version %d", v)
	}
}

func readSchemaVersionSession(db *gorm.DB) (int, error) {
	var meta schemaMeta
	err := db.Where("id = ?", 1).First(&meta).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fault.Wrap(fault.KindSqlError, "read schema version", err)
	}
	return meta.Version, nil
}

// readSchemaVersion opens a throwaway session against db to read its
// persisted schema version, used by Import to validate a foreign database
// before swapping it in.
func readSchemaVersion(ctx context.Context, db database.Database) (int, error) {
	gdb := db.Session(ctx)
	if !gdb.Migrator().HasTable(&schemaMeta{}) {
		return 0, fault.NewError(fault.KindSchemaMismatch, "imported database has no schema metadata")
	}
	return readSchemaVersionSession(gdb)
}
