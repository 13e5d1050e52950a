package service

import (
	"context"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// SimilarFeaturesQuery searches features whose profile across the cell types
// of an organ resembles a focal feature.
type SimilarFeaturesQuery struct {
	Organism        string
	Organ           string
	Feature         string
	Number          int
	Method          string
	MeasurementType string
}

type SimilarFeaturesResult struct {
	Organism  string
	Organ     string
	Feature   string
	Method    string
	Features  []string
	Distances []float32
}

// SimilarFeatures returns the features closest to the focal one, nearest
// first. The focal feature is never part of the result.
func (s *Service) SimilarFeatures(ctx context.Context, q SimilarFeaturesQuery) (*SimilarFeaturesResult, error) {
	if !validMethod(q.Method) {
		return nil, &SimilarityMethodError{Method: q.Method}
	}
	mt := defaultMT(q.MeasurementType)
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	focal, ok := fi.Lookup(q.Feature)
	if !ok {
		return nil, &FeatureNotFoundError{Feature: q.Feature, Organism: q.Organism}
	}

	subtype := SubtypeAverage
	if usesFraction(q.Method) {
		subtype = s.storedSubtype(mt, SubtypeFraction)
	}
	b, m, err := s.organMatrix(ctx, q.Organism, mt, q.Organ, subtype)
	if err != nil {
		return nil, err
	}

	vectors := m.Transpose().RowSlices()
	prepareVectors(q.Method, vectors)
	idx, dist := nearest(q.Method, vectors, focal, q.Number)

	res := &SimilarFeaturesResult{
		Organism:  q.Organism,
		Organ:     b.organ,
		Feature:   fi.Name(focal),
		Method:    q.Method,
		Features:  make([]string, len(idx)),
		Distances: dist,
	}
	for k, i := range idx {
		res.Features[k] = fi.Name(i)
	}
	return res, nil
}

// SimilarCellTypesQuery searches (cell type, organ) pairs whose profile over
// a set of features resembles a focal cell type.
type SimilarCellTypesQuery struct {
	Organism        string
	Organ           string
	CellType        string
	Features        []string
	Number          int
	Method          string
	MeasurementType string
}

// SimilarCellTypesResult lists similar pairs; CellTypes, Organs and
// Distances are parallel. Method is the method actually used.
type SimilarCellTypesResult struct {
	Organism  string
	Organ     string
	CellType  string
	Method    string
	Features  []string
	CellTypes []string
	Organs    []string
	Distances []float32
}

// SimilarCellTypes returns the (cell type, organ) pairs closest to the focal
// cell type across every organ. Correlation and cosine are undefined for a
// single feature, which falls back to euclidean.
func (s *Service) SimilarCellTypes(ctx context.Context, q SimilarCellTypesQuery) (*SimilarCellTypesResult, error) {
	if !validMethod(q.Method) {
		return nil, &SimilarityMethodError{Method: q.Method}
	}
	method := q.Method
	if len(q.Features) == 1 && usesFraction(method) {
		method = MethodEuclidean
	}
	if len(q.Features) > s.maxFeatures {
		return nil, &TooManyFeaturesError{Requested: len(q.Features), Max: s.maxFeatures}
	}
	mt := defaultMT(q.MeasurementType)
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	cols, err := fi.indices(q.Organism, q.Features)
	if err != nil {
		return nil, err
	}
	order := newColumnOrder(cols)

	subtype := SubtypeAverage
	if usesFraction(method) {
		subtype = s.storedSubtype(mt, SubtypeFraction)
	}
	var blocks []*organBlock
	focalOrgan := ""
	err = s.withContainer(ctx, q.Organism, func(c *atlasContainer) error {
		organs, err := c.organs(ctx, mt)
		if err != nil {
			return err
		}
		if focalOrgan = resolveOrgan(organs, q.Organ); focalOrgan == "" {
			return &OrganNotFoundError{Organ: q.Organ, Organism: q.Organism}
		}
		m, err := c.measurement(ctx, mt)
		if err != nil {
			return err
		}
		quantised, err := isQuantised(ctx, m)
		if err != nil {
			return err
		}
		for _, organ := range organs {
			g, err := c.organGroup(ctx, mt, organ)
			if err != nil {
				return err
			}
			cellTypes, err := readStrings(ctx, g, "obs_names")
			if err != nil {
				return err
			}
			arr, err := openMeasurementArray(ctx, g, subtype)
			if err != nil {
				return err
			}
			sl, err := readSlab(ctx, arr, zarr.Selection{nil, order.sorted}, quantised)
			if err != nil {
				return err
			}
			blocks = append(blocks, &organBlock{organ: organ, cellTypes: cellTypes, slab: sl})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &SimilarCellTypesResult{Organism: q.Organism, Organ: focalOrgan, Method: method}
	res.Features = make([]string, len(cols))
	for k, i := range cols {
		res.Features[k] = fi.Name(i)
	}
	var (
		vectors  [][]float32
		cellType []string
		organ    []string
	)
	focal := -1
	for _, b := range blocks {
		values, err := s.decode(ctx, q.Organism, mt, b.slab)
		if err != nil {
			return nil, err
		}
		k := len(cols)
		if b.organ == focalOrgan {
			i, ok := resolveCellType(b.cellTypes, q.CellType)
			if !ok {
				return nil, &CellTypeNotFoundError{CellType: q.CellType, Organism: q.Organism, Organ: focalOrgan}
			}
			focal = len(vectors) + i
			res.CellType = b.cellTypes[i]
		}
		for r, ct := range b.cellTypes {
			vectors = append(vectors, values[r*k:(r+1)*k])
			cellType = append(cellType, ct)
			organ = append(organ, b.organ)
		}
	}

	prepareVectors(method, vectors)
	idx, dist := nearest(method, vectors, focal, q.Number)
	res.Distances = dist
	res.CellTypes = make([]string, len(idx))
	res.Organs = make([]string, len(idx))
	for k, i := range idx {
		res.CellTypes[k] = cellType[i]
		res.Organs[k] = organ[i]
	}
	return res, nil
}
