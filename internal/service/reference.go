package service

import (
	"context"
	"errors"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/atlasapprox/server/internal/refstore"
)

func (s *Service) loadSurface(ctx context.Context, key string) (*roaring.Bitmap, error) {
	organism, mt := splitKey(key)
	if s.ref == nil {
		return nil, &ReferenceDataNotFoundError{Organism: organism, Kind: "surface protein"}
	}
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	names, err := s.ref.SurfaceFeatures(ctx, organism)
	if err != nil {
		if errors.Is(err, refstore.ErrNoData) {
			return nil, &ReferenceDataNotFoundError{Organism: organism, Kind: "surface protein"}
		}
		return nil, err
	}
	bm := roaring.New()
	for _, n := range names {
		if i, ok := fi.Lookup(n); ok {
			bm.Add(uint32(i))
		}
	}
	bm.RunOptimize()
	s.log.Debug().Str("organism", organism).Uint64("features", bm.GetCardinality()).Msg("surface set loaded")
	return bm, nil
}

// SurfaceColumns returns the columns of the surface protein features of an
// organism.
func (s *Service) SurfaceColumns(ctx context.Context, organism, mt string) (*roaring.Bitmap, error) {
	return s.surfaces.Get(ctx, cacheKey(organism, defaultMT(mt)))
}

// SurfaceFeatures lists the surface protein features an organism measures,
// in storage order.
func (s *Service) SurfaceFeatures(ctx context.Context, organism, mt string) ([]string, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	bm, err := s.SurfaceColumns(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, fi.Name(int(it.Next())))
	}
	return out, nil
}

// Interactions holds interaction partners. Queries and Targets are
// parallel.
type Interactions struct {
	Organism string
	Queries  []string
	Targets  []string
}

// InteractionPartners finds the interaction partners of features. Only gene
// expression is supported.
func (s *Service) InteractionPartners(ctx context.Context, organism string, features []string, mt string) (*Interactions, error) {
	mt = defaultMT(mt)
	if mt != DefaultMeasurementType {
		return nil, &MeasurementTypeNotFoundError{MeasurementType: mt, Organism: organism}
	}
	canonical, err := s.CanonicalFeatures(ctx, organism, features, mt)
	if err != nil {
		return nil, err
	}
	if s.ref == nil {
		return nil, &ReferenceDataNotFoundError{Organism: organism, Kind: "interaction"}
	}
	pairs, err := s.ref.InteractionPartners(ctx, organism, canonical)
	if err != nil {
		if errors.Is(err, refstore.ErrNoData) {
			return nil, &ReferenceDataNotFoundError{Organism: organism, Kind: "interaction"}
		}
		return nil, err
	}
	res := &Interactions{Organism: organism}
	for _, p := range pairs {
		res.Queries = append(res.Queries, p.Source)
		res.Targets = append(res.Targets, p.Target)
	}
	return res, nil
}
