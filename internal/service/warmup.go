package service

import (
	"context"
)

// WarmTarget is an (organism, measurement type) pair whose lookup tables can
// be loaded ahead of traffic.
type WarmTarget struct {
	Organism        string
	MeasurementType string
}

// WarmTargets lists every (organism, measurement type) pair served.
func (s *Service) WarmTargets(ctx context.Context) ([]WarmTarget, error) {
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	var out []WarmTarget
	for _, name := range names {
		if name == s.embeddings {
			continue
		}
		mts, err := s.MeasurementTypes(ctx, name)
		if err != nil {
			s.log.Warn().Err(err).Str("container", name).Msg("skipping container")
			continue
		}
		for _, mt := range mts {
			out = append(out, WarmTarget{Organism: name, MeasurementType: mt})
		}
	}
	return out, nil
}

// Warm loads the feature index and quantisation table of a target.
func (s *Service) Warm(ctx context.Context, t WarmTarget) error {
	if _, err := s.featureIndex(ctx, t.Organism, t.MeasurementType); err != nil {
		return err
	}
	quantised := false
	err := s.withContainer(ctx, t.Organism, func(c *atlasContainer) error {
		m, err := c.measurement(ctx, t.MeasurementType)
		if err != nil {
			return err
		}
		quantised, err = isQuantised(ctx, m)
		return err
	})
	if err != nil || !quantised {
		return err
	}
	_, err = s.Quantisation(ctx, t.Organism, t.MeasurementType)
	return err
}
