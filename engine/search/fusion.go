// Package search implements the hybrid search engine: parallel lexical and
// vector branches combined by Reciprocal Rank Fusion or weighted linear
// blending (spec.md §4.4).
package search

import (
	"sort"

	"github.com/strataeng/strata/domain/document"
)

// RankedHit is one branch's result for a single rowid, carrying its raw
// score (BM25 or distance) and 1-based rank within that branch.
type RankedHit struct {
	RowID document.RowID
	Score float64
	Rank  int
}

// FusedHit is one document's combined result, surviving into the final
// ranking (spec.md §4.4 step 8: `fts_rank?, vec_rank?, sources`).
type FusedHit struct {
	RowID   document.RowID
	Score   float64
	FTSRank int // 0 if absent from the lexical branch
	VecRank int // 0 if absent from the vector branch
	Sources []string
}

// Mode selects the fusion algorithm (spec.md §4.4 request field `fusion`).
type Mode string

// Supported fusion modes.
const (
	ModeRRF      Mode = "rrf"
	ModeWeighted Mode = "weighted"
)

// Weights configures the weighted fusion mode (spec.md §4.4 step 5):
// default 0.5/0.5, must sum to 1.0.
type Weights struct {
	FTS float64
	Vec float64
}

// DefaultWeights returns the spec's default 0.5/0.5 split.
func DefaultWeights() Weights { return Weights{FTS: 0.5, Vec: 0.5} }

func (w Weights) normalized() Weights {
	if w.FTS == 0 && w.Vec == 0 {
		return DefaultWeights()
	}
	sum := w.FTS + w.Vec
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{FTS: w.FTS / sum, Vec: w.Vec / sum}
}

// RRFK is the RRF constant k = 60 spec.md §4.4 step 5 fixes.
const RRFK = 60.0

// Fuse combines a lexical branch and a vector branch into a single ranked
// list, sorted by fused score descending with the spec's tie-break rule:
// (a) presence in both sets before single-set, (b) lower rowid (spec.md
// §4.4 step 6). Either branch may be nil (text-only or vector-only query).
func Fuse(mode Mode, fts, vec []RankedHit, weights Weights) []FusedHit {
	switch mode {
	case ModeWeighted:
		return fuseWeighted(fts, vec, weights.normalized())
	default:
		return fuseRRF(fts, vec)
	}
}

func fuseRRF(fts, vec []RankedHit) []FusedHit {
	byRow := make(map[document.RowID]*FusedHit)

	for _, h := range fts {
		f := getOrCreate(byRow, h.RowID)
		f.Score += 1.0 / (RRFK + float64(h.Rank))
		f.FTSRank = h.Rank
		f.Sources = append(f.Sources, "fts")
	}
	for _, h := range vec {
		f := getOrCreate(byRow, h.RowID)
		f.Score += 1.0 / (RRFK + float64(h.Rank))
		f.VecRank = h.Rank
		f.Sources = append(f.Sources, "vec")
	}

	return sortFused(byRow)
}

func fuseWeighted(fts, vec []RankedHit, w Weights) []FusedHit {
	byRow := make(map[document.RowID]*FusedHit)

	ftsNorm := normalizeScores(fts, false)
	vecNorm := normalizeScores(vec, true) // distance: lower is better, so invert

	for i, h := range fts {
		f := getOrCreate(byRow, h.RowID)
		f.Score += w.FTS * ftsNorm[i]
		f.FTSRank = h.Rank
		f.Sources = append(f.Sources, "fts")
	}
	for i, h := range vec {
		f := getOrCreate(byRow, h.RowID)
		f.Score += w.Vec * vecNorm[i]
		f.VecRank = h.Rank
		f.Sources = append(f.Sources, "vec")
	}

	return sortFused(byRow)
}

// normalizeScores min-max normalizes raw scores into [0,1], higher-better.
// When invert is true the input is a distance (lower is better) and is
// inverted before scaling, per spec.md §4.4 step 5.
func normalizeScores(hits []RankedHit, invert bool) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	span := max - min
	for i, h := range hits {
		if span == 0 {
			out[i] = 1.0
			continue
		}
		if invert {
			out[i] = (max - h.Score) / span
		} else {
			out[i] = (h.Score - min) / span
		}
	}
	return out
}

func getOrCreate(byRow map[document.RowID]*FusedHit, rowID document.RowID) *FusedHit {
	f, ok := byRow[rowID]
	if !ok {
		f = &FusedHit{RowID: rowID}
		byRow[rowID] = f
	}
	return f
}

func sortFused(byRow map[document.RowID]*FusedHit) []FusedHit {
	out := make([]FusedHit, 0, len(byRow))
	for _, f := range byRow {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aBoth, bBoth := len(a.Sources) > 1, len(b.Sources) > 1
		if aBoth != bBoth {
			return aBoth
		}
		return a.RowID < b.RowID
	})
	return out
}

// TopK truncates a fused result list to at most k entries. k<=0 returns the
// full list (spec.md §4.4 "K=0 -> empty result" is handled by the caller
// passing an empty branch, not by this truncation step).
func TopK(hits []FusedHit, k int) []FusedHit {
	if k <= 0 || k >= len(hits) {
		return hits
	}
	return hits[:k]
}
