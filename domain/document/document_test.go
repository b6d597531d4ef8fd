package document

import "testing"

func TestMetadataIsDefensivelyCopied(t *testing.T) {
	meta := map[string]any{"lang": "en"}
	d := New("doc-1", "docs", "Title", "content", meta)

	meta["lang"] = "fr"
	if got := d.Metadata()["lang"]; got != "en" {
		t.Errorf("expected stored metadata to be unaffected by later mutation of the source map, got %v", got)
	}

	out := d.Metadata()
	out["lang"] = "es"
	if got := d.Metadata()["lang"]; got != "en" {
		t.Errorf("expected Metadata() to return a fresh copy each call, got %v", got)
	}
}

func TestWithContentRefreshesUpdatedAtNotCreatedAt(t *testing.T) {
	d := New("doc-1", "docs", "Title", "content", nil)
	created := d.CreatedAt()

	updated := d.WithContent("New Title", "new content", map[string]any{"k": "v"})

	if updated.CreatedAt() != created {
		t.Errorf("expected CreatedAt to be preserved across WithContent, got %v want %v", updated.CreatedAt(), created)
	}
	if !updated.UpdatedAt().After(created) && updated.UpdatedAt() != created {
		t.Errorf("expected UpdatedAt to advance")
	}
	if updated.Content() != "new content" || updated.Title() != "New Title" {
		t.Errorf("expected title/content to be replaced, got %q/%q", updated.Title(), updated.Content())
	}
	if d.Content() == updated.Content() {
		t.Errorf("expected WithContent to return a copy, not mutate the receiver")
	}
}

func TestReconstructPreservesGivenTimestamps(t *testing.T) {
	created := New("doc-1", "docs", "", "content", nil).CreatedAt()
	d := Reconstruct("doc-1", "docs", "t", "c", nil, created, created)
	if d.CreatedAt() != created || d.UpdatedAt() != created {
		t.Errorf("expected Reconstruct to preserve supplied timestamps exactly")
	}
}
