package storage

import (
	"context"
	"testing"

	"github.com/strataeng/strata/domain/collection"
	"github.com/strataeng/strata/domain/document"
	"github.com/strataeng/strata/internal/fault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite:///:memory:", DefaultPragmas(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotentAcrossReopenAtCurrentVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Collections().Create(ctx, collection.New("docs", "mock", "v1", 4, false)); err != nil {
		t.Fatalf("create collection: %v", err)
	}

	// migrate runs again on every Open; re-running it against an
	// already-current schema must not error or duplicate tables.
	if err := s.migrate(ctx); err != nil {
		t.Fatalf("expected re-running migrate at current version to be a no-op, got: %v", err)
	}

	got, err := s.Collections().Get(ctx, "docs")
	if err != nil {
		t.Fatalf("get collection after idempotent migrate: %v", err)
	}
	if got.Name() != "docs" {
		t.Errorf("expected collection to survive idempotent migration, got %q", got.Name())
	}
}

func TestVectorInsertRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	docRow, err := s.Documents().Insert(ctx, document.New("d1", "docs", "", "content", nil))
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}

	err = s.Vectors().Insert(ctx, docRow, []float32{0.1, 0.2, 0.3}, 4)
	if err == nil {
		t.Fatal("expected DimensionMismatch error, got nil")
	}
	serr, ok := err.(*fault.Error)
	if !ok {
		t.Fatalf("expected *fault.Error, got %T", err)
	}
	if serr.Kind() != fault.KindDimensionMismatch {
		t.Errorf("expected KindDimensionMismatch, got %v", serr.Kind())
	}

	exists, err := s.Vectors().Exists(ctx, docRow)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("expected no vector row to persist after a rejected insert")
	}
}

func TestVectorLoadAllRoundTripsStoredVectors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	docRow, err := s.Documents().Insert(ctx, document.New("d1", "docs", "", "content", nil))
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	want := []float32{0.25, 0.5, 0.75, 1.0}
	if err := s.Vectors().Insert(ctx, docRow, want, 4); err != nil {
		t.Fatalf("insert vector: %v", err)
	}

	rows, err := s.Vectors().LoadAll(ctx, []document.RowID{docRow})
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 vector row, got %d", len(rows))
	}
	if len(rows[0].Vector) != len(want) {
		t.Fatalf("expected %d-dimension vector round trip, got %d", len(want), len(rows[0].Vector))
	}
	for i := range want {
		if rows[0].Vector[i] != want[i] {
			t.Errorf("vector[%d]: expected %f, got %f", i, want[i], rows[0].Vector[i])
		}
	}
}

func TestExplicitDeleteCascadeRemovesVectorWithDocument(t *testing.T) {
	// DocumentStore.Delete itself only removes the document row; spec.md §3 makes
	// the caller responsible for cascading to
	// the lexical and vector rows within the same transaction. This
	// exercises that two-step cascade the way a caller must perform it.
	ctx := context.Background()
	s := openTestStore(t)

	docRow, err := s.Documents().Insert(ctx, document.New("d1", "docs", "", "content", nil))
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	if err := s.Vectors().Insert(ctx, docRow, []float32{1, 2}, 2); err != nil {
		t.Fatalf("insert vector: %v", err)
	}

	if err := s.Documents().Delete(ctx, "docs", "d1"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if err := s.Vectors().Delete(ctx, docRow); err != nil {
		t.Fatalf("delete vector: %v", err)
	}

	exists, err := s.Vectors().Exists(ctx, docRow)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("expected vector row to be removed by the cascading delete")
	}
}
