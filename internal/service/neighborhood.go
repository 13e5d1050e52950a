package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// Point is a 2D coordinate in embedding space.
type Point [2]float32

// NeighborhoodResult describes the neighborhoods of an organ.
type NeighborhoodResult struct {
	Organism        string
	Organ           string
	MeasurementType string
	Unit            string
	Features        []string
	CellTypes       []string
	Neighborhoods   []string
	// CellCounts is [neighborhoods, cell types].
	CellCounts [][]int64
	// Averages and Fractions hold one [neighborhoods, cell types] matrix per
	// feature. Fractions is nil when none are stored.
	Averages  []Matrix
	Fractions []Matrix
	Centroids []Point
	// ConvexHulls is nil unless the embedding was requested.
	ConvexHulls [][]Point
}

// neighborhoodBlock is an organ's neighborhood partition read inside a
// container scope.
type neighborhoodBlock struct {
	organ     string
	cellTypes []string
	names     []string
	group     *zarr.Group
	quantised bool
	slab      *slab

	cellCounts []int64
	countShape []int
	centroids  []float32
	hulls      [][]Point
}

// readNeighborhood reads [neighborhoods, cell types, cols] of subtype. With
// geometry it also reads cell counts, centroids and convex hulls.
func (c *atlasContainer) readNeighborhood(ctx context.Context, mt, organ, subtype string, cols []int, geometry bool) (*neighborhoodBlock, error) {
	m, err := c.measurement(ctx, mt)
	if err != nil {
		return nil, err
	}
	quantised, err := isQuantised(ctx, m)
	if err != nil {
		return nil, err
	}
	og, name, err := c.organ(ctx, mt, organ)
	if err != nil {
		return nil, err
	}
	nb, err := og.Group(ctx, "neighborhood")
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, &NeighborhoodNotFoundError{Organism: c.organism, Organ: name, MeasurementType: mt}
		}
		return nil, err
	}

	b := &neighborhoodBlock{organ: name, group: nb, quantised: quantised}
	if b.cellTypes, err = readStrings(ctx, og, "obs_names"); err != nil {
		return nil, err
	}
	if b.names, err = readStrings(ctx, nb, "obs_names"); err != nil {
		return nil, err
	}
	arr, err := openMeasurementArray(ctx, nb, subtype)
	if err != nil {
		return nil, err
	}
	if b.slab, err = readSlab(ctx, arr, zarr.Selection{nil, nil, cols}, quantised); err != nil {
		return nil, err
	}
	if !geometry {
		return b, nil
	}

	if b.cellCounts, b.countShape, err = readInts(ctx, nb, "cell_count"); err != nil {
		return nil, err
	}
	centroids, err := nb.Array(ctx, "coords_centroid")
	if err != nil {
		return nil, err
	}
	if b.centroids, _, err = centroids.ReadFloat32(ctx, nil); err != nil {
		return nil, err
	}
	hulls, err := nb.Group(ctx, "convex_hull")
	if err != nil && !errors.Is(err, zarr.ErrNotFound) {
		return nil, err
	}
	if hulls != nil {
		b.hulls = make([][]Point, len(b.names))
		for i := range b.names {
			arr, err := hulls.Array(ctx, strconv.Itoa(i))
			if err != nil {
				if errors.Is(err, zarr.ErrNotFound) {
					continue
				}
				return nil, err
			}
			xy, _, err := arr.ReadFloat32(ctx, nil)
			if err != nil {
				return nil, err
			}
			b.hulls[i] = points(xy)
		}
	}
	return b, nil
}

// perFeature splits a [nb, ct, k] block into one [nb, ct] matrix per
// feature, in request order.
func (b *neighborhoodBlock) perFeature(values []float32, order columnOrder) []Matrix {
	nNb, nCt, k := len(b.names), len(b.cellTypes), len(order.pos)
	out := make([]Matrix, k)
	for slot, p := range order.pos {
		m := NewMatrix(nNb, nCt)
		for i := 0; i < nNb*nCt; i++ {
			m.Data[i] = values[i*k+slot]
		}
		out[p] = m
	}
	return out
}

func points(xy []float32) []Point {
	out := make([]Point, len(xy)/2)
	for i := range out {
		out[i] = Point{xy[2*i], xy[2*i+1]}
	}
	return out
}

// Neighborhoods reads the neighborhood partition of an organ with averages
// and fractions of features.
func (s *Service) Neighborhoods(ctx context.Context, organism, organ string, features []string, mt string, includeEmbedding bool) (*NeighborhoodResult, error) {
	mt = defaultMT(mt)
	if len(features) > s.maxFeaturesNeighborhood {
		return nil, &TooManyFeaturesError{Requested: len(features), Max: s.maxFeaturesNeighborhood}
	}
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	cols, err := fi.indices(organism, features)
	if err != nil {
		return nil, err
	}
	order := newColumnOrder(cols)

	readFraction := !s.mtypes[mt].FractionIsAverage
	var (
		b        *neighborhoodBlock
		fraction *slab
	)
	err = s.withContainer(ctx, organism, func(c *atlasContainer) error {
		var err error
		b, err = c.readNeighborhood(ctx, mt, organ, SubtypeAverage, order.sorted, true)
		if err != nil {
			return err
		}
		if !readFraction {
			return nil
		}
		arr, err := b.group.Array(ctx, SubtypeFraction)
		if err != nil {
			if errors.Is(err, zarr.ErrNotFound) {
				return nil
			}
			return err
		}
		fraction, err = readSlab(ctx, arr, zarr.Selection{nil, nil, order.sorted}, b.quantised)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &NeighborhoodResult{
		Organism:        organism,
		Organ:           b.organ,
		MeasurementType: mt,
		Unit:            s.Unit(mt),
		CellTypes:       b.cellTypes,
		Neighborhoods:   b.names,
	}
	res.Features = make([]string, len(cols))
	for k, i := range cols {
		res.Features[k] = fi.Name(i)
	}
	if res.CellCounts, err = countRows(b.cellCounts, b.countShape, len(b.names)); err != nil {
		return nil, err
	}
	res.Centroids = points(b.centroids)
	if includeEmbedding {
		res.ConvexHulls = b.hulls
	}

	values, err := s.decode(ctx, organism, mt, b.slab)
	if err != nil {
		return nil, err
	}
	res.Averages = b.perFeature(values, order)
	if fraction != nil {
		values, err := s.decode(ctx, organism, mt, fraction)
		if err != nil {
			return nil, err
		}
		res.Fractions = b.perFeature(values, order)
	}
	return res, nil
}

// countRows splits neighborhood cell counts into one row per neighborhood.
func countRows(counts []int64, shape []int, n int) ([][]int64, error) {
	if len(shape) == 0 || shape[0] != n {
		return nil, fmt.Errorf("neighborhood cell_count has shape %v for %d neighborhoods", shape, n)
	}
	width := 1
	if len(shape) > 1 {
		width = shape[1]
	}
	out := make([][]int64, n)
	for i := range out {
		out[i] = counts[i*width : (i+1)*width]
	}
	return out, nil
}
