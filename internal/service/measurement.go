package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/atlasapprox/server/internal/data/zarr"
)

const (
	SubtypeAverage  = "average"
	SubtypeFraction = "fraction"
)

// MeasurementQuery selects a block of average or fraction values. Exactly
// one of Organ and CellType must be set.
type MeasurementQuery struct {
	Organism        string
	Features        []string // nil selects every feature
	MeasurementType string
	Subtype         string // "average" (default) or "fraction"
	Organ           string
	CellType        string
	// IncludeNeighborhood reads the neighborhood partition of Organ.
	IncludeNeighborhood bool
}

// MeasurementResult holds the values of a measurement query. In organ mode
// Values is [features, cell types]; in cell type mode it is [organs,
// features]. In neighborhood mode NeighborhoodValues holds one
// [neighborhoods, cell types] matrix per feature.
type MeasurementResult struct {
	Organism        string
	MeasurementType string
	Subtype         string
	Unit            string
	Features        []string

	Organ     string
	CellTypes []string

	CellType string
	Organs   []string

	Values Matrix

	Neighborhoods      []string
	NeighborhoodValues []Matrix
}

// Averages reads average measurements.
func (s *Service) Averages(ctx context.Context, q MeasurementQuery) (*MeasurementResult, error) {
	q.Subtype = SubtypeAverage
	return s.Measurement(ctx, q)
}

// FractionDetected reads the fraction of cells with a nonzero measurement.
func (s *Service) FractionDetected(ctx context.Context, q MeasurementQuery) (*MeasurementResult, error) {
	q.Subtype = SubtypeFraction
	return s.Measurement(ctx, q)
}

// storedSubtype names the array holding a subtype.
func (s *Service) storedSubtype(mt, subtype string) string {
	if subtype == "" {
		return SubtypeAverage
	}
	if subtype == SubtypeFraction && s.mtypes[mt].FractionIsAverage {
		return SubtypeAverage
	}
	return subtype
}

// Measurement reads a block of values for features in one organ, or for one
// cell type across every organ containing it.
func (s *Service) Measurement(ctx context.Context, q MeasurementQuery) (*MeasurementResult, error) {
	mt := defaultMT(q.MeasurementType)
	if (q.Organ == "") == (q.CellType == "") {
		return nil, &OrganCellTypeError{Organ: q.Organ, CellType: q.CellType}
	}
	if q.IncludeNeighborhood && q.CellType != "" {
		return nil, &NeighborhoodScopeError{CellType: q.CellType}
	}
	limit := s.maxFeatures
	if q.IncludeNeighborhood {
		limit = s.maxFeaturesNeighborhood
	}
	if q.Features != nil && len(q.Features) > limit {
		return nil, &TooManyFeaturesError{Requested: len(q.Features), Max: limit}
	}

	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	var cols []int
	if q.Features == nil {
		cols = make([]int, fi.Len())
		for i := range cols {
			cols[i] = i
		}
	} else {
		cols, err = fi.indices(q.Organism, q.Features)
		if err != nil {
			return nil, err
		}
	}
	features := make([]string, len(cols))
	for k, i := range cols {
		features[k] = fi.Name(i)
	}

	subtype := s.storedSubtype(mt, q.Subtype)
	res := &MeasurementResult{
		Organism:        q.Organism,
		MeasurementType: mt,
		Subtype:         q.Subtype,
		Unit:            s.Unit(mt),
		Features:        features,
	}
	if res.Subtype == "" {
		res.Subtype = SubtypeAverage
	}
	order := newColumnOrder(cols)

	switch {
	case q.IncludeNeighborhood:
		err = s.neighborhoodMeasurement(ctx, res, q.Organ, subtype, order)
	case q.Organ != "":
		err = s.organMeasurement(ctx, res, q.Organ, subtype, order)
	default:
		err = s.cellTypeMeasurement(ctx, res, q.CellType, subtype, order)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) organMeasurement(ctx context.Context, res *MeasurementResult, organ, subtype string, order columnOrder) error {
	var b *organBlock
	err := s.withContainer(ctx, res.Organism, func(c *atlasContainer) error {
		var err error
		b, err = c.readOrgan(ctx, res.MeasurementType, organ, subtype, order.sorted)
		return err
	})
	if err != nil {
		return err
	}
	values, err := s.decode(ctx, res.Organism, res.MeasurementType, b.slab)
	if err != nil {
		return err
	}
	res.Organ = b.organ
	res.CellTypes = b.cellTypes
	res.Values = order.restoreRows(values, len(b.cellTypes))
	return nil
}

func (s *Service) cellTypeMeasurement(ctx context.Context, res *MeasurementResult, cellType, subtype string, order columnOrder) error {
	var rows []*organBlock
	err := s.withContainer(ctx, res.Organism, func(c *atlasContainer) error {
		var err error
		rows, err = s.readCellTypeRows(ctx, c, res.MeasurementType, cellType, subtype, order.sorted)
		return err
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &CellTypeNotFoundError{CellType: cellType, Organism: res.Organism}
	}

	res.CellType = rows[0].cellTypes[0]
	res.Organs = make([]string, len(rows))
	res.Values = NewMatrix(len(rows), len(order.sorted))
	for i, b := range rows {
		values, err := s.decode(ctx, res.Organism, res.MeasurementType, b.slab)
		if err != nil {
			return err
		}
		res.Organs[i] = b.organ
		copy(res.Values.Row(i), order.restoreRow(values))
	}
	return nil
}

func (s *Service) neighborhoodMeasurement(ctx context.Context, res *MeasurementResult, organ, subtype string, order columnOrder) error {
	var b *neighborhoodBlock
	err := s.withContainer(ctx, res.Organism, func(c *atlasContainer) error {
		var err error
		b, err = c.readNeighborhood(ctx, res.MeasurementType, organ, subtype, order.sorted, false)
		return err
	})
	if err != nil {
		return err
	}
	values, err := s.decode(ctx, res.Organism, res.MeasurementType, b.slab)
	if err != nil {
		return err
	}
	res.Organ = b.organ
	res.CellTypes = b.cellTypes
	res.Neighborhoods = b.names
	res.NeighborhoodValues = b.perFeature(values, order)
	return nil
}

// organBlock is one organ's block of a measurement array, read inside a
// container scope.
type organBlock struct {
	organ     string
	cellTypes []string
	slab      *slab
}

// organGroup opens an organ by its stored name.
func (c *atlasContainer) organGroup(ctx context.Context, mt, organ string) (*zarr.Group, error) {
	return zarr.OpenGroup(ctx, c.Store(), "measurements/"+mt+"/data/"+organ)
}

// readOrgan reads [cell types, cols] of a measurement array in one organ.
func (c *atlasContainer) readOrgan(ctx context.Context, mt, organ, subtype string, cols []int) (*organBlock, error) {
	m, err := c.measurement(ctx, mt)
	if err != nil {
		return nil, err
	}
	quantised, err := isQuantised(ctx, m)
	if err != nil {
		return nil, err
	}
	g, name, err := c.organ(ctx, mt, organ)
	if err != nil {
		return nil, err
	}
	cellTypes, err := readStrings(ctx, g, "obs_names")
	if err != nil {
		return nil, err
	}
	arr, err := openMeasurementArray(ctx, g, subtype)
	if err != nil {
		return nil, err
	}
	sl, err := readSlab(ctx, arr, zarr.Selection{nil, cols}, quantised)
	if err != nil {
		return nil, err
	}
	return &organBlock{organ: name, cellTypes: cellTypes, slab: sl}, nil
}

func openMeasurementArray(ctx context.Context, g *zarr.Group, subtype string) (*zarr.Array, error) {
	arr, err := g.Array(ctx, subtype)
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, fmt.Errorf("no %s values stored in %s: %w", subtype, g.Path(), err)
		}
		return nil, err
	}
	return arr, nil
}

// readCellTypeRows reads the row of cellType in every organ containing it,
// in organ order. Organs are read concurrently.
func (s *Service) readCellTypeRows(ctx context.Context, c *atlasContainer, mt, cellType, subtype string, cols []int) ([]*organBlock, error) {
	m, err := c.measurement(ctx, mt)
	if err != nil {
		return nil, err
	}
	quantised, err := isQuantised(ctx, m)
	if err != nil {
		return nil, err
	}
	organs, err := c.organs(ctx, mt)
	if err != nil {
		return nil, err
	}

	blocks := make([]*organBlock, len(organs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxReads)
	for i, organ := range organs {
		g.Go(func() error {
			og, err := c.organGroup(gctx, mt, organ)
			if err != nil {
				return err
			}
			cellTypes, err := readStrings(gctx, og, "obs_names")
			if err != nil {
				return err
			}
			idx := matchCellType(cellTypes, cellType)
			if idx < 0 {
				return nil
			}
			arr, err := openMeasurementArray(gctx, og, subtype)
			if err != nil {
				return err
			}
			sl, err := readSlab(gctx, arr, zarr.Selection{{idx}, cols}, quantised)
			if err != nil {
				return err
			}
			blocks[i] = &organBlock{organ: organ, cellTypes: []string{cellTypes[idx]}, slab: sl}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := blocks[:0]
	for _, b := range blocks {
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// matchCellType finds a cell type by exact name, then case-insensitively.
func matchCellType(names []string, cellType string) int {
	for i, n := range names {
		if n == cellType {
			return i
		}
	}
	for i, n := range names {
		if strings.EqualFold(n, cellType) {
			return i
		}
	}
	return -1
}
