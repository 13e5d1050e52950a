package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/atlasapprox/server/internal/data/zarr"
)

const (
	DefaultMaxHomologyDistance = 60
	DefaultMaxDistanceOverMin  = 8

	// embeddingScale decodes integer embedding codes.
	embeddingScale = 256
)

// embeddingSet holds the protein embeddings of one organism.
type embeddingSet struct {
	index   *FeatureIndex
	vectors Matrix
}

func (e *embeddingSet) vector(feature string) ([]float32, string, bool) {
	i, ok := e.index.Lookup(feature)
	if !ok {
		return nil, "", false
	}
	return e.vectors.Row(i), e.index.Name(i), true
}

func (s *Service) loadEmbeddingSet(ctx context.Context, organism string) (*embeddingSet, error) {
	var (
		features []string
		codes    []float32
		shape    []int
	)
	err := s.withContainer(ctx, s.embeddings, func(c *atlasContainer) error {
		g, err := c.Root().Group(ctx, organism)
		if err != nil {
			return err
		}
		if features, err = readStrings(ctx, g, "features"); err != nil {
			return err
		}
		arr, err := g.Array(ctx, "embeddings")
		if err != nil {
			return err
		}
		codes, shape, err = arr.ReadFloat32(ctx, nil)
		return err
	})
	if err != nil {
		var notFound *OrganismNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, zarr.ErrNotFound) {
			return nil, &ReferenceDataNotFoundError{Organism: organism, Kind: "protein embedding"}
		}
		return nil, err
	}
	if len(shape) != 2 || shape[0] != len(features) {
		return nil, fmt.Errorf("embeddings of %s have shape %v for %d features", organism, shape, len(features))
	}
	vek32.DivNumber_Inplace(codes, embeddingScale)
	s.log.Debug().Str("organism", organism).Int("features", len(features)).Msg("embeddings loaded")
	return &embeddingSet{
		index:   NewFeatureIndex(features),
		vectors: Matrix{Rows: shape[0], Cols: shape[1], Data: codes},
	}, nil
}

// HomologyQuery searches homologs of features in another organism.
type HomologyQuery struct {
	QueryOrganism  string
	Features       []string
	TargetOrganism string
	// MaxDistance is an absolute L1 cutoff; MaxDistanceOverMin keeps hits
	// within that margin of the closest one. Zero selects the defaults.
	MaxDistance        float32
	MaxDistanceOverMin float32
}

// Homologies lists feature pairs; Queries, Targets and Distances are
// parallel.
type Homologies struct {
	QueryOrganism  string
	TargetOrganism string
	Queries        []string
	Targets        []string
	Distances      []float32
}

func (h *Homologies) add(query, target string, d float32) {
	h.Queries = append(h.Queries, query)
	h.Targets = append(h.Targets, target)
	h.Distances = append(h.Distances, d)
}

// Homologs finds, for each query feature, the target features closest in
// embedding space, nearest first. A feature without embedding or without a hit under the
// cutoff contributes nothing.
func (s *Service) Homologs(ctx context.Context, q HomologyQuery) (*Homologies, error) {
	maxDist := q.MaxDistance
	if maxDist <= 0 {
		maxDist = DefaultMaxHomologyDistance
	}
	overMin := q.MaxDistanceOverMin
	if overMin <= 0 {
		overMin = DefaultMaxDistanceOverMin
	}
	src, err := s.embeddingSets.Get(ctx, q.QueryOrganism)
	if err != nil {
		return nil, err
	}
	dst, err := s.embeddingSets.Get(ctx, q.TargetOrganism)
	if err != nil {
		return nil, err
	}

	res := &Homologies{QueryOrganism: q.QueryOrganism, TargetOrganism: q.TargetOrganism}
	dist := make([]float32, dst.vectors.Rows)
	var hits []int
	for _, f := range q.Features {
		v, name, ok := src.vector(f)
		if !ok {
			continue
		}
		best := float32(-1)
		for i := range dist {
			dist[i] = vek32.ManhattanDistance(v, dst.vectors.Row(i))
			if dist[i] < maxDist && (best < 0 || dist[i] < best) {
				best = dist[i]
			}
		}
		if best < 0 {
			continue
		}
		hits = hits[:0]
		for i, d := range dist {
			if d < maxDist && d <= best+overMin {
				hits = append(hits, i)
			}
		}
		sort.SliceStable(hits, func(a, b int) bool { return dist[hits[a]] < dist[hits[b]] })
		for _, i := range hits {
			res.add(name, dst.index.Name(i), dist[i])
		}
	}
	return res, nil
}

// HomologyDistances computes the embedding distance of position-paired
// features. Pairs where either feature lacks an embedding are omitted.
func (s *Service) HomologyDistances(ctx context.Context, queryOrganism string, queryFeatures []string, targetOrganism string, targetFeatures []string) (*Homologies, error) {
	if len(queryFeatures) != len(targetFeatures) {
		return nil, &FeaturesNotPairedError{Features1: queryFeatures, Features2: targetFeatures}
	}
	src, err := s.embeddingSets.Get(ctx, queryOrganism)
	if err != nil {
		return nil, err
	}
	dst, err := s.embeddingSets.Get(ctx, targetOrganism)
	if err != nil {
		return nil, err
	}
	res := &Homologies{QueryOrganism: queryOrganism, TargetOrganism: targetOrganism}
	for k, f := range queryFeatures {
		v, qn, ok := src.vector(f)
		if !ok {
			continue
		}
		w, tn, ok := dst.vector(targetFeatures[k])
		if !ok {
			continue
		}
		res.add(qn, tn, vek32.ManhattanDistance(v, w))
	}
	return res, nil
}
