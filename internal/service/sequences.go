package service

import (
	"context"
	"errors"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// Sequences holds the sequences of features.
type Sequences struct {
	Organism  string
	Type      string
	Features  []string
	Sequences []string
}

// FeatureSequences reads the sequences of features, for measurement types
// that store them.
func (s *Service) FeatureSequences(ctx context.Context, organism string, features []string, mt string) (*Sequences, error) {
	mt = defaultMT(mt)
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	cols, err := fi.indices(organism, features)
	if err != nil {
		return nil, err
	}
	order := newColumnOrder(cols)

	res := &Sequences{Organism: organism, Features: make([]string, len(cols))}
	for k, i := range cols {
		res.Features[k] = fi.Name(i)
	}
	var sorted []string
	err = s.withContainer(ctx, organism, func(c *atlasContainer) error {
		m, err := c.measurement(ctx, mt)
		if err != nil {
			return err
		}
		g, err := m.Group(ctx, "feature_sequences")
		if err != nil {
			if errors.Is(err, zarr.ErrNotFound) {
				return &FeatureSequencesNotFoundError{Organism: organism, MeasurementType: mt}
			}
			return err
		}
		res.Type = g.Meta().StringAttr("type")
		arr, err := g.Array(ctx, "sequences")
		if err != nil {
			return err
		}
		sorted, _, err = arr.ReadStrings(ctx, zarr.Selection{order.sorted})
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Sequences = make([]string, len(sorted))
	for slot, p := range order.pos {
		res.Sequences[p] = sorted[slot]
	}
	return res, nil
}
