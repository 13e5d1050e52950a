package service

import (
	"context"
	"strconv"
	"strings"
)

// FeatureIndex maps lowercase feature names to column positions. Features
// keep their stored order; the first of several names differing only in
// case wins.
type FeatureIndex struct {
	names []string
	index map[string]int
}

func NewFeatureIndex(names []string) *FeatureIndex {
	fi := &FeatureIndex{
		names: names,
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		key := strings.ToLower(n)
		if _, ok := fi.index[key]; !ok {
			fi.index[key] = i
		}
	}
	return fi
}

// Lookup returns the column of a feature, matched case-insensitively.
func (fi *FeatureIndex) Lookup(name string) (int, bool) {
	i, ok := fi.index[strings.ToLower(name)]
	return i, ok
}

func (fi *FeatureIndex) Name(i int) string { return fi.names[i] }

func (fi *FeatureIndex) Len() int { return len(fi.names) }

func (s *Service) loadFeatureIndex(ctx context.Context, key string) (*FeatureIndex, error) {
	organism, mt := splitKey(key)
	var names []string
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		m, err := c.measurement(ctx, mt)
		if err != nil {
			return err
		}
		names, err = readStrings(ctx, m, "var_names")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("organism", organism).Str("measurement_type", mt).Int("features", len(names)).Msg("feature index loaded")
	return NewFeatureIndex(names), nil
}

func (s *Service) featureIndex(ctx context.Context, organism, mt string) (*FeatureIndex, error) {
	return s.features.Get(ctx, cacheKey(organism, defaultMT(mt)))
}

// Features returns the lowercased feature names of an organism in storage
// order. Names differing only in case appear once.
func (s *Service) Features(ctx context.Context, organism, mt string) ([]string, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fi.index))
	for i, n := range fi.names {
		key := strings.ToLower(n)
		if fi.index[key] == i {
			out = append(out, key)
		}
	}
	return out, nil
}

// DisplayFeatures returns every stored feature name in storage order.
func (s *Service) DisplayFeatures(ctx context.Context, organism, mt string) ([]string, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), fi.names...), nil
}

// FeatureIndex returns the column of a single feature.
func (s *Service) FeatureIndex(ctx context.Context, organism, feature, mt string) (int, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return 0, err
	}
	i, ok := fi.Lookup(feature)
	if !ok {
		return 0, &FeatureNotFoundError{Feature: feature, Organism: organism}
	}
	return i, nil
}

// FeatureIndices returns the columns of features in request order. Every
// missing feature is reported at once.
func (s *Service) FeatureIndices(ctx context.Context, organism string, features []string, mt string) ([]int, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	return fi.indices(organism, features)
}

func (fi *FeatureIndex) indices(organism string, features []string) ([]int, error) {
	out := make([]int, len(features))
	var missing []string
	for k, f := range features {
		i, ok := fi.Lookup(f)
		if !ok {
			missing = append(missing, f)
			continue
		}
		out[k] = i
	}
	if len(missing) > 0 {
		return nil, &SomeFeaturesNotFoundError{Features: missing, Organism: organism}
	}
	return out, nil
}

// FeatureNames maps columns back to stored feature names.
func (s *Service) FeatureNames(ctx context.Context, organism string, indices []int, mt string) ([]string, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(indices))
	for k, i := range indices {
		if i < 0 || i >= fi.Len() {
			return nil, &FeatureNotFoundError{Feature: "#" + strconv.Itoa(i), Organism: organism}
		}
		out[k] = fi.names[i]
	}
	return out, nil
}

// CanonicalFeatures maps query names to their stored spelling.
func (s *Service) CanonicalFeatures(ctx context.Context, organism string, features []string, mt string) ([]string, error) {
	idx, err := s.FeatureIndices(ctx, organism, features, mt)
	if err != nil {
		return nil, err
	}
	return s.FeatureNames(ctx, organism, idx, mt)
}

// HasFeatures reports for each query name whether the organism measures it.
func (s *Service) HasFeatures(ctx context.Context, organism string, features []string, mt string) ([]bool, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(features))
	for k, f := range features {
		_, out[k] = fi.Lookup(f)
	}
	return out, nil
}

// FilterExistingFeatures keeps the features the organism measures, in their
// stored spelling.
func (s *Service) FilterExistingFeatures(ctx context.Context, organism string, features []string, mt string) ([]string, error) {
	fi, err := s.featureIndex(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(features))
	for _, f := range features {
		if i, ok := fi.Lookup(f); ok {
			out = append(out, fi.names[i])
		}
	}
	return out, nil
}
