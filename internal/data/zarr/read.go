package zarr

import (
	"context"
	"fmt"
)

// ReadFloat32 reads a selection of any numeric array, converting to float32.
func (a *Array) ReadFloat32(ctx context.Context, sel Selection) ([]float32, []int, error) {
	raw, shape, err := a.readRaw(ctx, sel)
	if err != nil {
		return nil, nil, err
	}
	n := product(shape)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(a.dt.float64At(raw, i, a.codecs.order))
	}
	return out, shape, nil
}

// ReadInt64 reads a selection of an integer array.
func (a *Array) ReadInt64(ctx context.Context, sel Selection) ([]int64, []int, error) {
	raw, shape, err := a.readRaw(ctx, sel)
	if err != nil {
		return nil, nil, err
	}
	n := product(shape)
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = a.dt.int64At(raw, i, a.codecs.order)
	}
	return out, shape, nil
}

// ReadUint8 reads a selection of a uint8 array without conversion.
func (a *Array) ReadUint8(ctx context.Context, sel Selection) ([]uint8, []int, error) {
	if a.dt.name != "uint8" {
		return nil, nil, fmt.Errorf("array %q is %s, not uint8", a.path, a.dt.name)
	}
	return a.readRaw(ctx, sel)
}

// ReadStrings reads a selection of a string array.
func (a *Array) ReadStrings(ctx context.Context, sel Selection) ([]string, []int, error) {
	if a.dt.kind != kindString {
		return nil, nil, fmt.Errorf("array %q is %s, not string", a.path, a.dt.name)
	}
	var out []string
	shape, err := a.walk(ctx, sel,
		func(shape []int) { out = make([]string, product(shape)) },
		func(c *chunk, in, o int) { out[o] = c.strs[in] })
	if err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

// IsUint8 reports whether the array stores uint8 codes.
func (a *Array) IsUint8() bool { return a.dt.name == "uint8" }

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func strides(shape []int) []int {
	out := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		out[d] = s
		s *= shape[d]
	}
	return out
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, len(fill)*n)
	allZero := true
	for _, b := range fill {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return out
	}
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):(i+1)*len(fill)], fill)
	}
	return out
}
