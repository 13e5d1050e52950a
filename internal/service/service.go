// Package service implements the atlas queries: feature lookup, measurement
// reads, markers, similarity, homology and neighborhoods.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rs/zerolog"

	"github.com/atlasapprox/server/internal/cache"
	"github.com/atlasapprox/server/internal/data/store"
	"github.com/atlasapprox/server/internal/data/zarr"
	"github.com/atlasapprox/server/internal/refstore"
)

const (
	DefaultMaxFeatures             = 50
	DefaultMaxFeaturesNeighborhood = 100
	DefaultMaxConcurrentReads      = 8
	DefaultMeasurementType         = "gene_expression"
	DefaultEmbeddings              = "protein_embeddings"
)

// MeasurementTypeInfo describes how a measurement type is served.
type MeasurementTypeInfo struct {
	Unit string
	// FractionIsAverage serves the average matrix for fraction queries.
	FractionIsAverage bool
}

// Config contains service configuration.
type Config struct {
	Backend store.Backend
	// Reference is optional; surface-only markers and interaction partners
	// need it.
	Reference *refstore.Store
	// Embeddings names the protein embedding container.
	Embeddings string

	MaxFeatures             int
	MaxFeaturesNeighborhood int
	MaxConcurrentReads      int
	MeasurementTypes        map[string]MeasurementTypeInfo

	Logger zerolog.Logger
}

// Service answers atlas queries. Each operation opens the containers it needs
// and closes them before returning; only immutable lookup tables are kept
// between calls.
type Service struct {
	backend    store.Backend
	ref        *refstore.Store
	embeddings string

	maxFeatures             int
	maxFeaturesNeighborhood int
	maxReads                int
	mtypes                  map[string]MeasurementTypeInfo
	log                     zerolog.Logger

	features      *cache.Loader[*FeatureIndex]
	quantisations *cache.Loader[[]float32]
	organisms     *cache.Loader[[]string]
	surfaces      *cache.Loader[*roaring.Bitmap]
	embeddingSets *cache.Loader[*embeddingSet]
}

// New creates a new service.
func New(cfg Config) *Service {
	s := &Service{
		backend:                 cfg.Backend,
		ref:                     cfg.Reference,
		embeddings:              cfg.Embeddings,
		maxFeatures:             cfg.MaxFeatures,
		maxFeaturesNeighborhood: cfg.MaxFeaturesNeighborhood,
		maxReads:                cfg.MaxConcurrentReads,
		mtypes:                  cfg.MeasurementTypes,
		log:                     cfg.Logger,
	}
	if s.embeddings == "" {
		s.embeddings = DefaultEmbeddings
	}
	if s.maxFeatures <= 0 {
		s.maxFeatures = DefaultMaxFeatures
	}
	if s.maxFeaturesNeighborhood <= 0 {
		s.maxFeaturesNeighborhood = DefaultMaxFeaturesNeighborhood
	}
	if s.maxReads <= 0 {
		s.maxReads = DefaultMaxConcurrentReads
	}
	if s.mtypes == nil {
		s.mtypes = map[string]MeasurementTypeInfo{
			"gene_expression":         {Unit: "cptt"},
			"chromatin_accessibility": {FractionIsAverage: true},
		}
	}

	s.features = cache.NewLoader(s.loadFeatureIndex)
	s.quantisations = cache.NewLoader(s.loadQuantisation)
	s.organisms = cache.NewLoader(s.loadOrganisms)
	s.surfaces = cache.NewLoader(s.loadSurface)
	s.embeddingSets = cache.NewLoader(s.loadEmbeddingSet)
	return s
}

// Unit returns the measurement unit of a measurement type, if known.
func (s *Service) Unit(mt string) string {
	return s.mtypes[mt].Unit
}

func cacheKey(organism, mt string) string {
	return organism + "|" + mt
}

func splitKey(key string) (string, string) {
	organism, mt, _ := strings.Cut(key, "|")
	return organism, mt
}

func defaultMT(mt string) string {
	if mt == "" {
		return DefaultMeasurementType
	}
	return mt
}

// atlasContainer is one organism's opened container.
type atlasContainer struct {
	*zarr.Container
	organism string
}

// withContainer opens the organism's container for the duration of fn.
func (s *Service) withContainer(ctx context.Context, organism string, fn func(c *atlasContainer) error) error {
	st, err := s.backend.Open(ctx, organism)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &OrganismNotFoundError{Organism: organism}
		}
		return fmt.Errorf("failed to open container %s: %w", organism, err)
	}
	c, err := zarr.Open(ctx, st)
	if err != nil {
		s.log.Debug().Err(err).Str("organism", organism).Msg("container open failed")
		if errors.Is(err, zarr.ErrNotFound) {
			return &OrganismNotFoundError{Organism: organism}
		}
		return fmt.Errorf("failed to open container %s: %w", organism, err)
	}
	defer c.Close()
	return fn(&atlasContainer{Container: c, organism: organism})
}

func (c *atlasContainer) measurement(ctx context.Context, mt string) (*zarr.Group, error) {
	g, err := zarr.OpenGroup(ctx, c.Store(), "measurements/"+mt)
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, &MeasurementTypeNotFoundError{MeasurementType: mt, Organism: c.organism}
		}
		return nil, err
	}
	return g, nil
}

func (c *atlasContainer) measurementTypes(ctx context.Context) ([]string, error) {
	g, err := c.Root().Group(ctx, "measurements")
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return g.Children(ctx)
}

// organs lists the organs of a measurement type, sorted.
func (c *atlasContainer) organs(ctx context.Context, mt string) ([]string, error) {
	m, err := c.measurement(ctx, mt)
	if err != nil {
		return nil, err
	}
	data, err := m.Group(ctx, "data")
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data.Children(ctx)
}

// organ opens an organ group, matching the name exactly first and then
// case-insensitively. It returns the stored organ name.
func (c *atlasContainer) organ(ctx context.Context, mt, organ string) (*zarr.Group, string, error) {
	organs, err := c.organs(ctx, mt)
	if err != nil {
		return nil, "", err
	}
	name := resolveOrgan(organs, organ)
	if name == "" {
		return nil, "", &OrganNotFoundError{Organ: organ, Organism: c.organism}
	}
	g, err := zarr.OpenGroup(ctx, c.Store(), "measurements/"+mt+"/data/"+name)
	if err != nil {
		return nil, "", err
	}
	return g, name, nil
}

// resolveOrgan returns the stored name of an organ, or "" if absent.
func resolveOrgan(organs []string, organ string) string {
	for _, o := range organs {
		if o == organ {
			return o
		}
	}
	for _, o := range organs {
		if strings.EqualFold(o, organ) {
			return o
		}
	}
	return ""
}

func readStrings(ctx context.Context, g *zarr.Group, name string) ([]string, error) {
	arr, err := g.Array(ctx, name)
	if err != nil {
		return nil, err
	}
	out, _, err := arr.ReadStrings(ctx, nil)
	return out, err
}

func readInts(ctx context.Context, g *zarr.Group, name string) ([]int64, []int, error) {
	arr, err := g.Array(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return arr.ReadInt64(ctx, nil)
}
