package search

import (
	"math"
	"testing"

	"github.com/strataeng/strata/domain/document"
)

func TestFuseRRFSingleBranch(t *testing.T) {
	fts := []RankedHit{
		{RowID: 1, Score: 9.0, Rank: 1},
		{RowID: 2, Score: 7.0, Rank: 2},
		{RowID: 3, Score: 5.0, Rank: 3},
	}

	hits := Fuse(ModeRRF, fts, nil, Weights{})
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	expectedScores := []float64{1.0 / 61.0, 1.0 / 62.0, 1.0 / 63.0}
	expectedRows := []document.RowID{1, 2, 3}
	for i, h := range hits {
		if h.RowID != expectedRows[i] {
			t.Errorf("hit[%d]: expected rowid %d, got %d", i, expectedRows[i], h.RowID)
		}
		if math.Abs(h.Score-expectedScores[i]) > 1e-10 {
			t.Errorf("hit[%d]: expected score %f, got %f", i, expectedScores[i], h.Score)
		}
		if len(h.Sources) != 1 || h.Sources[0] != "fts" {
			t.Errorf("hit[%d]: expected sole source fts, got %v", i, h.Sources)
		}
	}
}

func TestFuseRRFIsCommutativeInItsInputs(t *testing.T) {
	fts := []RankedHit{
		{RowID: 1, Score: 9.0, Rank: 1},
		{RowID: 2, Score: 7.0, Rank: 2},
	}
	vec := []RankedHit{
		{RowID: 2, Score: 0.1, Rank: 1},
		{RowID: 3, Score: 0.3, Rank: 2},
	}

	forward := Fuse(ModeRRF, fts, vec, Weights{})
	backward := Fuse(ModeRRF, vec, fts, Weights{})

	if len(forward) != len(backward) {
		t.Fatalf("expected matching lengths, got %d and %d", len(forward), len(backward))
	}
	byRow := make(map[document.RowID]FusedHit, len(backward))
	for _, h := range backward {
		byRow[h.RowID] = h
	}
	for i, f := range forward {
		b, ok := byRow[f.RowID]
		if !ok {
			t.Fatalf("rowid %d missing from backward result", f.RowID)
		}
		if math.Abs(f.Score-b.Score) > 1e-10 {
			t.Errorf("hit %d: score not commutative: forward=%f backward=%f", f.RowID, f.Score, b.Score)
		}
		_ = i
	}
}

func TestFuseRRFTieBreakPrefersBothBranchesThenLowerRowID(t *testing.T) {
	// All three rowids fuse to exactly 1/80: rowid 7 and 3 at rank 20 in one
	// branch, rowid 5 at rank 100 in both (1/160 + 1/160).
	fts := []RankedHit{
		{RowID: 7, Score: 1.0, Rank: 20},
		{RowID: 5, Score: 1.0, Rank: 100},
	}
	vec := []RankedHit{
		{RowID: 5, Score: 0.0, Rank: 100},
		{RowID: 3, Score: 0.0, Rank: 20},
	}

	hits := Fuse(ModeRRF, fts, vec, Weights{})
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].RowID != 5 {
		t.Errorf("expected rowid 5 (present in both branches) to rank first, got %d", hits[0].RowID)
	}
	if len(hits[0].Sources) != 2 {
		t.Errorf("expected rowid 5 to carry both sources, got %v", hits[0].Sources)
	}
	if hits[1].RowID != 3 || hits[2].RowID != 7 {
		t.Errorf("expected single-branch ties ordered by lower rowid (3, 7), got %d, %d", hits[1].RowID, hits[2].RowID)
	}
}

func TestFuseWeightedNormalizesAndInvertsDistance(t *testing.T) {
	fts := []RankedHit{
		{RowID: 1, Score: 10.0, Rank: 1}, // best BM25
		{RowID: 2, Score: 0.0, Rank: 2},  // worst BM25
	}
	vec := []RankedHit{
		{RowID: 1, Score: 0.0, Rank: 1}, // closest (distance 0 is best)
		{RowID: 2, Score: 1.0, Rank: 2}, // farthest
	}

	hits := Fuse(ModeWeighted, fts, vec, DefaultWeights())
	byRow := make(map[document.RowID]FusedHit, len(hits))
	for _, h := range hits {
		byRow[h.RowID] = h
	}

	// rowid 1 is best on both axes: norm_bm25=1, norm_vec=1 -> fused = 1.0
	if math.Abs(byRow[1].Score-1.0) > 1e-10 {
		t.Errorf("expected rowid 1 fused score 1.0, got %f", byRow[1].Score)
	}
	// rowid 2 is worst on both axes: norm_bm25=0, norm_vec=0 -> fused = 0.0
	if math.Abs(byRow[2].Score-0.0) > 1e-10 {
		t.Errorf("expected rowid 2 fused score 0.0, got %f", byRow[2].Score)
	}
}

func TestFuseWeightedNormalizesUnevenWeights(t *testing.T) {
	fts := []RankedHit{{RowID: 1, Score: 1.0, Rank: 1}}
	weights := Weights{FTS: 3, Vec: 1} // sums to 4, must normalize to 0.75/0.25

	hits := Fuse(ModeWeighted, fts, nil, weights)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	// single-element branch collapses min==max, so normalizeScores yields 1.0
	if math.Abs(hits[0].Score-0.75) > 1e-10 {
		t.Errorf("expected fused score 0.75 (normalized 3/4 weight), got %f", hits[0].Score)
	}
}

func TestTopKTruncatesAndPassesThroughSmallerLists(t *testing.T) {
	hits := []FusedHit{{RowID: 1}, {RowID: 2}, {RowID: 3}}
	if got := TopK(hits, 2); len(got) != 2 {
		t.Errorf("expected 2 hits, got %d", len(got))
	}
	if got := TopK(hits, 0); len(got) != 3 {
		t.Errorf("expected TopK(0) to pass through the full list, got %d", len(got))
	}
	if got := TopK(hits, 10); len(got) != 3 {
		t.Errorf("expected TopK(10) to cap at list length, got %d", len(got))
	}
}
