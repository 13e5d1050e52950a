package zarr

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
)

// Selection picks indices along each dimension of an array. A nil entry
// selects the whole dimension; a nil Selection selects everything. Indices
// may be unsorted or repeated; the output follows their order.
type Selection [][]int

// All returns a selection of every element of an n-dimensional array.
func All(ndim int) Selection {
	return make(Selection, ndim)
}

// Array is a chunked Zarr v3 array node.
type Array struct {
	store  Store
	path   string
	meta   *NodeMeta
	dt     dtype
	codecs *pipeline
}

// OpenArray opens the array at path p.
func OpenArray(ctx context.Context, s Store, p string) (*Array, error) {
	meta, err := loadNode(ctx, s, p)
	if err != nil {
		return nil, err
	}
	if meta.NodeType != NodeArray {
		return nil, fmt.Errorf("zarr node %q is not an array", p)
	}
	dt, err := dtypeOf(meta.DataType)
	if err != nil {
		return nil, err
	}
	codecs, err := newPipeline(meta.Codecs)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", p, err)
	}
	if (dt.kind == kindString) != codecs.vlenUTF8 {
		return nil, fmt.Errorf("array %q: data_type %s incompatible with codecs", p, dt.name)
	}
	return &Array{store: s, path: p, meta: meta, dt: dt, codecs: codecs}, nil
}

func (a *Array) Path() string { return a.path }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) DataType() string { return a.dt.name }

func (a *Array) Meta() *NodeMeta { return a.meta }

// chunk is one decoded chunk laid out in C order over shape.
type chunk struct {
	raw   []byte
	strs  []string
	shape []int
}

// dimProjection maps the selected indices of one dimension that fall into a
// single chunk.
type dimProjection struct {
	chunk   int
	inChunk []int
	out     []int
}

func (a *Array) project(sel Selection) ([][]dimProjection, []int, error) {
	nd := len(a.meta.Shape)
	if sel == nil {
		sel = All(nd)
	}
	if len(sel) != nd {
		return nil, nil, fmt.Errorf("selection has %d dims, array %q has %d", len(sel), a.path, nd)
	}

	projs := make([][]dimProjection, nd)
	outShape := make([]int, nd)
	for d := 0; d < nd; d++ {
		size := a.meta.Shape[d]
		chunkLen := a.meta.ChunkGrid.Configuration.ChunkShape[d]
		idx := sel[d]
		if idx == nil {
			idx = make([]int, size)
			for i := range idx {
				idx[i] = i
			}
		}
		outShape[d] = len(idx)

		byChunk := make(map[int]*dimProjection)
		for out, i := range idx {
			if i < 0 || i >= size {
				return nil, nil, fmt.Errorf("index %d out of range [0, %d) at dim %d of %q", i, size, d, a.path)
			}
			c := i / chunkLen
			p, ok := byChunk[c]
			if !ok {
				p = &dimProjection{chunk: c}
				byChunk[c] = p
			}
			p.inChunk = append(p.inChunk, i-c*chunkLen)
			p.out = append(p.out, out)
		}
		list := make([]dimProjection, 0, len(byChunk))
		for _, p := range byChunk {
			list = append(list, *p)
		}
		sort.Slice(list, func(x, y int) bool { return list[x].chunk < list[y].chunk })
		projs[d] = list
	}
	return projs, outShape, nil
}

// walk visits every selected element, fetching each touched chunk exactly
// once in ascending chunk order. prepare is called with the output shape
// before the first visit; visit receives the chunk, the flat offset inside
// the chunk and the flat offset in the output.
func (a *Array) walk(ctx context.Context, sel Selection, prepare func(shape []int), visit func(c *chunk, in, out int)) ([]int, error) {
	projs, outShape, err := a.project(sel)
	if err != nil {
		return nil, err
	}
	prepare(outShape)
	if product(outShape) == 0 {
		return outShape, nil
	}
	nd := len(outShape)
	outStrides := strides(outShape)

	pick := make([]int, nd)
	coords := make([]int, nd)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for d := 0; d < nd; d++ {
			coords[d] = projs[d][pick[d]].chunk
		}
		c, err := a.readChunk(ctx, coords)
		if err != nil {
			return nil, err
		}
		inStrides := strides(c.shape)

		item := make([]int, nd)
		for {
			in, out := 0, 0
			for d := 0; d < nd; d++ {
				p := &projs[d][pick[d]]
				in += p.inChunk[item[d]] * inStrides[d]
				out += p.out[item[d]] * outStrides[d]
			}
			visit(c, in, out)
			if !advance(item, func(d int) int { return len(projs[d][pick[d]].inChunk) }) {
				break
			}
		}

		if !advance(pick, func(d int) int { return len(projs[d]) }) {
			break
		}
	}
	return outShape, nil
}

// advance increments a C-order odometer; it returns false after the last
// position.
func advance(pos []int, limit func(d int) int) bool {
	for d := len(pos) - 1; d >= 0; d-- {
		pos[d]++
		if pos[d] < limit(d) {
			return true
		}
		pos[d] = 0
	}
	return false
}

func (a *Array) readChunk(ctx context.Context, coords []int) (*chunk, error) {
	full := a.meta.ChunkGrid.Configuration.ChunkShape
	key := path.Join(a.path, a.meta.chunkKey(coords))

	raw, err := a.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
		}
		return a.fillChunk(full)
	}

	data, err := a.codecs.decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}

	c := &chunk{}
	var n int
	if a.codecs.vlenUTF8 {
		c.strs, err = decodeVlenUTF8(data)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", key, err)
		}
		n = len(c.strs)
	} else {
		if len(data)%a.dt.size != 0 {
			return nil, fmt.Errorf("chunk %s: %d bytes is not a multiple of %s", key, len(data), a.dt.name)
		}
		c.raw = data
		n = len(data) / a.dt.size
	}

	// Edge chunks are normally padded to the full chunk shape; truncated
	// edge chunks are accepted too.
	switch {
	case n == product(full):
		c.shape = full
	case n == product(a.truncatedShape(coords)):
		c.shape = a.truncatedShape(coords)
	default:
		return nil, fmt.Errorf("chunk %s: unexpected element count %d", key, n)
	}
	return c, nil
}

func (a *Array) fillChunk(shape []int) (*chunk, error) {
	n := product(shape)
	if a.dt.kind == kindString {
		fill, _ := a.meta.FillValue.(string)
		strs := make([]string, n)
		for i := range strs {
			strs[i] = fill
		}
		return &chunk{strs: strs, shape: shape}, nil
	}
	fill, err := a.dt.fillBytes(a.meta.FillValue, a.codecs.order)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", a.path, err)
	}
	return &chunk{raw: repeatFillBytes(fill, n), shape: shape}, nil
}

func (a *Array) truncatedShape(coords []int) []int {
	out := make([]int, len(coords))
	for d, c := range coords {
		chunkLen := a.meta.ChunkGrid.Configuration.ChunkShape[d]
		out[d] = min(chunkLen, a.meta.Shape[d]-c*chunkLen)
	}
	return out
}

// readRaw returns the selected elements as raw bytes in the array's byte
// order, laid out in C order over the returned shape.
func (a *Array) readRaw(ctx context.Context, sel Selection) ([]byte, []int, error) {
	if a.dt.kind == kindString {
		return nil, nil, fmt.Errorf("array %q holds strings", a.path)
	}
	size := a.dt.size
	var out []byte
	shape, err := a.walk(ctx, sel,
		func(shape []int) { out = make([]byte, product(shape)*size) },
		func(c *chunk, in, o int) {
			copy(out[o*size:(o+1)*size], c.raw[in*size:(in+1)*size])
		})
	if err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}
