package service

import (
	"context"
	"math"
	"sort"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// HighestQuery ranks (cell type, organ) pairs by measurement of features.
// Negative features lower the score.
type HighestQuery struct {
	Organism         string
	Features         []string
	NegativeFeatures []string
	Number           int
	MeasurementType  string
	// PerOrgan keeps the top entries of each organ instead of the whole
	// organism.
	PerOrgan bool
}

// HighestResult lists the top (cell type, organ) pairs, best first.
// Averages and Fractions are [features, entries].
type HighestResult struct {
	Organism        string
	MeasurementType string
	Unit            string
	Features        []string
	CellTypes       []string
	Organs          []string
	Averages        Matrix
	Fractions       Matrix
	Scores          []float32
}

type highestEntry struct {
	cellType string
	organ    string
	avg      []float32
	frac     []float32
	score    float32
}

// HighestMeasurement finds the cell types with the highest average of one
// feature. Zero averages are left out of the organism-wide ranking.
func (s *Service) HighestMeasurement(ctx context.Context, organism, feature string, number int, mt string, perOrgan bool) (*HighestResult, error) {
	mt = defaultMT(mt)
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	col, ok := fi.Lookup(feature)
	if !ok {
		return nil, &FeatureNotFoundError{Feature: feature, Organism: organism}
	}
	return s.highest(ctx, organism, mt, fi, []int{col}, nil, number, perOrgan, true)
}

// HighestMeasurementMultiple ranks cell types by the mean log1p average of
// the features minus that of the negative features. Unknown features are
// ignored unless none is known.
func (s *Service) HighestMeasurementMultiple(ctx context.Context, q HighestQuery) (*HighestResult, error) {
	mt := defaultMT(q.MeasurementType)
	if n := len(q.Features) + len(q.NegativeFeatures); n > s.maxFeatures {
		return nil, &TooManyFeaturesError{Requested: n, Max: s.maxFeatures}
	}
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	pos := existingColumns(fi, q.Features)
	if len(pos) == 0 {
		return nil, &SomeFeaturesNotFoundError{Features: q.Features, Organism: q.Organism}
	}
	neg := existingColumns(fi, q.NegativeFeatures)
	return s.highest(ctx, q.Organism, mt, fi, pos, neg, q.Number, q.PerOrgan, false)
}

func existingColumns(fi *FeatureIndex, features []string) []int {
	var out []int
	for _, f := range features {
		if i, ok := fi.Lookup(f); ok {
			out = append(out, i)
		}
	}
	return out
}

func logMean(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += math.Log1p(float64(v))
	}
	return float32(sum / float64(len(values)))
}

// highest ranks every (cell type, organ) pair. With rawScore the score is
// the average of the single positive feature.
func (s *Service) highest(ctx context.Context, organism, mt string, fi *FeatureIndex, pos, neg []int, number int, perOrgan, rawScore bool) (*HighestResult, error) {
	cols := append(append([]int(nil), pos...), neg...)
	order := newColumnOrder(cols)
	fracSubtype := s.storedSubtype(mt, SubtypeFraction)

	type organSlabs struct {
		organ     string
		cellTypes []string
		avg, frac *slab
	}
	var blocks []organSlabs
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		m, err := c.measurement(ctx, mt)
		if err != nil {
			return err
		}
		quantised, err := isQuantised(ctx, m)
		if err != nil {
			return err
		}
		organs, err := c.organs(ctx, mt)
		if err != nil {
			return err
		}
		sel := zarr.Selection{nil, order.sorted}
		for _, organ := range organs {
			g, err := c.organGroup(ctx, mt, organ)
			if err != nil {
				return err
			}
			b := organSlabs{organ: organ}
			if b.cellTypes, err = readStrings(ctx, g, "obs_names"); err != nil {
				return err
			}
			arr, err := openMeasurementArray(ctx, g, SubtypeAverage)
			if err != nil {
				return err
			}
			if b.avg, err = readSlab(ctx, arr, sel, quantised); err != nil {
				return err
			}
			b.frac = b.avg
			if fracSubtype != SubtypeAverage {
				arr, err := openMeasurementArray(ctx, g, fracSubtype)
				if err != nil {
					return err
				}
				if b.frac, err = readSlab(ctx, arr, sel, quantised); err != nil {
					return err
				}
			}
			blocks = append(blocks, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	k := len(cols)
	var entries []highestEntry
	for _, b := range blocks {
		avg, err := s.decode(ctx, organism, mt, b.avg)
		if err != nil {
			return nil, err
		}
		frac, err := s.decode(ctx, organism, mt, b.frac)
		if err != nil {
			return nil, err
		}
		organEntries := make([]highestEntry, len(b.cellTypes))
		for r, ct := range b.cellTypes {
			e := highestEntry{
				cellType: ct,
				organ:    b.organ,
				avg:      order.restoreRow(avg[r*k : (r+1)*k]),
				frac:     order.restoreRow(frac[r*k : (r+1)*k]),
			}
			e.score = logMean(e.avg[:len(pos)]) - logMean(e.avg[len(pos):])
			if rawScore {
				e.score = e.avg[0]
			}
			organEntries[r] = e
		}
		if perOrgan {
			entries = append(entries, topEntries(organEntries, number, false)...)
			continue
		}
		entries = append(entries, organEntries...)
	}
	if !perOrgan {
		entries = topEntries(entries, number, true)
	}

	res := &HighestResult{
		Organism:        organism,
		MeasurementType: mt,
		Unit:            s.Unit(mt),
		Features:        make([]string, len(pos)),
		CellTypes:       make([]string, len(entries)),
		Organs:          make([]string, len(entries)),
		Averages:        NewMatrix(len(pos), len(entries)),
		Fractions:       NewMatrix(len(pos), len(entries)),
		Scores:          make([]float32, len(entries)),
	}
	for j, i := range pos {
		res.Features[j] = fi.Name(i)
	}
	for e, entry := range entries {
		res.CellTypes[e] = entry.cellType
		res.Organs[e] = entry.organ
		res.Scores[e] = entry.score
		for j := range pos {
			res.Averages.Set(j, e, entry.avg[j])
			res.Fractions.Set(j, e, entry.frac[j])
		}
	}
	return res, nil
}

// topEntries sorts entries by score, highest first, and keeps number of
// them. With positiveOnly, entries scoring zero or less are dropped.
func topEntries(entries []highestEntry, number int, positiveOnly bool) []highestEntry {
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].score > entries[b].score })
	if len(entries) > number {
		entries = entries[:max(number, 0)]
	}
	if !positiveOnly {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if e.score > 0 {
			out = append(out, e)
		}
	}
	return out
}
