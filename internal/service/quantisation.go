package service

import (
	"context"
	"fmt"

	"github.com/atlasapprox/server/internal/data/zarr"
)

// QuantisationLevels is the size of a quantisation table.
const QuantisationLevels = 256

func (s *Service) loadQuantisation(ctx context.Context, key string) ([]float32, error) {
	organism, mt := splitKey(key)
	var table []float32
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		m, err := c.measurement(ctx, mt)
		if err != nil {
			return err
		}
		ok, err := m.Has(ctx, "quantisation")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no quantisation table for %s %s", organism, mt)
		}
		arr, err := m.Array(ctx, "quantisation")
		if err != nil {
			return err
		}
		table, _, err = arr.ReadFloat32(ctx, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(table) != QuantisationLevels {
		return nil, fmt.Errorf("quantisation table for %s %s has %d entries", organism, mt, len(table))
	}
	return table, nil
}

// Quantisation returns the decoding table of a quantised measurement type.
func (s *Service) Quantisation(ctx context.Context, organism, mt string) ([]float32, error) {
	return s.quantisations.Get(ctx, cacheKey(organism, defaultMT(mt)))
}

// Dequantise maps 8-bit codes through a table.
func Dequantise(table []float32, codes []uint8) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = table[c]
	}
	return out
}

// slab is a block read inside a container scope, decoded after the scope
// closes.
type slab struct {
	shape     []int
	codes     []uint8
	values    []float32
	quantised bool
}

func readSlab(ctx context.Context, arr *zarr.Array, sel zarr.Selection, quantised bool) (*slab, error) {
	if quantised && arr.IsUint8() {
		codes, shape, err := arr.ReadUint8(ctx, sel)
		if err != nil {
			return nil, err
		}
		return &slab{shape: shape, codes: codes, quantised: true}, nil
	}
	values, shape, err := arr.ReadFloat32(ctx, sel)
	if err != nil {
		return nil, err
	}
	return &slab{shape: shape, values: values}, nil
}

// decode returns the slab's values, dequantising if needed.
func (s *Service) decode(ctx context.Context, organism, mt string, sl *slab) ([]float32, error) {
	if !sl.quantised {
		return sl.values, nil
	}
	table, err := s.Quantisation(ctx, organism, mt)
	if err != nil {
		return nil, err
	}
	return Dequantise(table, sl.codes), nil
}

// isQuantised reports whether a measurement group stores 8-bit codes.
func isQuantised(ctx context.Context, m *zarr.Group) (bool, error) {
	return m.Has(ctx, "quantisation")
}
