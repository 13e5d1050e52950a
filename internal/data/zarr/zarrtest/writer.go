// Package zarrtest writes small Zarr v3 hierarchies for tests.
package zarrtest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

// Array describes an array to write. Data is a flat C-order slice of one of
// []float32, []float64, []uint8, []int8, []int16, []int32, []int64 or
// []string.
type Array struct {
	Shape  []int
	Chunks []int
	Data   any

	// Codec is "zstd" (default), "gzip", "lz4" or "none".
	Codec string
	// KeyEncoding is "default" (c/0/1) or "v2" (0.1).
	KeyEncoding string
	FillValue   any
	Attributes  map[string]any
	// Truncate writes edge chunks at their truncated size instead of
	// padding them to the full chunk shape.
	Truncate bool
	// Skip omits chunks so they read back as fill value.
	Skip func(coords []int) bool
}

// WriteGroup writes group metadata at path p under root.
func WriteGroup(t testing.TB, root, p string, attrs map[string]any) {
	t.Helper()
	meta := map[string]any{
		"zarr_format": 3,
		"node_type":   "group",
	}
	if attrs != nil {
		meta["attributes"] = attrs
	}
	writeJSON(t, filepath.Join(root, filepath.FromSlash(p), "zarr.json"), meta)
}

// WriteArray writes array metadata and every chunk at path p under root.
func WriteArray(t testing.TB, root, p string, a Array) {
	t.Helper()
	if a.Chunks == nil {
		a.Chunks = a.Shape
	}
	require.Equal(t, len(a.Shape), len(a.Chunks), "shape/chunks rank mismatch for %s", p)

	dtype, size := dtypeOf(t, a.Data)
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	require.Equal(t, n, length(a.Data), "data length mismatch for %s", p)

	codecs := []map[string]any{}
	if dtype == "string" {
		codecs = append(codecs, map[string]any{"name": "vlen-utf8", "configuration": map[string]any{}})
	} else {
		codecs = append(codecs, map[string]any{"name": "bytes", "configuration": map[string]any{"endian": "little"}})
	}
	switch a.Codec {
	case "", "zstd":
		codecs = append(codecs, map[string]any{"name": "zstd", "configuration": map[string]any{"level": 0, "checksum": false}})
	case "gzip":
		codecs = append(codecs, map[string]any{"name": "gzip", "configuration": map[string]any{"level": 5}})
	case "lz4":
		codecs = append(codecs, map[string]any{"name": "lz4"})
	case "none":
	default:
		t.Fatalf("unknown codec %q", a.Codec)
	}

	keyEncoding := map[string]any{"name": "default", "configuration": map[string]any{"separator": "/"}}
	if a.KeyEncoding == "v2" {
		keyEncoding = map[string]any{"name": "v2", "configuration": map[string]any{"separator": "."}}
	}

	fill := a.FillValue
	if fill == nil {
		if dtype == "string" {
			fill = ""
		} else {
			fill = 0
		}
	}

	meta := map[string]any{
		"zarr_format":        3,
		"node_type":          "array",
		"shape":              a.Shape,
		"data_type":          dtype,
		"chunk_grid":         map[string]any{"name": "regular", "configuration": map[string]any{"chunk_shape": a.Chunks}},
		"chunk_key_encoding": keyEncoding,
		"fill_value":         fill,
		"codecs":             codecs,
	}
	if a.Attributes != nil {
		meta["attributes"] = a.Attributes
	}
	dir := filepath.Join(root, filepath.FromSlash(p))
	writeJSON(t, filepath.Join(dir, "zarr.json"), meta)

	nd := len(a.Shape)
	grid := make([]int, nd)
	for d := range grid {
		grid[d] = (a.Shape[d] + a.Chunks[d] - 1) / a.Chunks[d]
		if grid[d] == 0 {
			return
		}
	}
	strides := make([]int, nd)
	s := 1
	for d := nd - 1; d >= 0; d-- {
		strides[d] = s
		s *= a.Shape[d]
	}

	coords := make([]int, nd)
	for {
		if a.Skip == nil || !a.Skip(coords) {
			layout := make([]int, nd)
			for d := range layout {
				layout[d] = a.Chunks[d]
				if a.Truncate {
					layout[d] = min(a.Chunks[d], a.Shape[d]-coords[d]*a.Chunks[d])
				}
			}

			var raw []byte
			var strs []string
			local := make([]int, nd)
			for {
				global, inside := 0, true
				for d := 0; d < nd; d++ {
					g := coords[d]*a.Chunks[d] + local[d]
					if g >= a.Shape[d] {
						inside = false
						break
					}
					global += g * strides[d]
				}
				if dtype == "string" {
					v := ""
					if inside {
						v = a.Data.([]string)[global]
					}
					strs = append(strs, v)
				} else if inside {
					raw = append(raw, encodeAt(a.Data, global)...)
				} else {
					raw = append(raw, make([]byte, size)...)
				}
				if !advance(local, layout) {
					break
				}
			}
			if dtype == "string" {
				raw = encodeVlen(strs)
			}

			data := compress(t, a.Codec, raw)
			writeFile(t, filepath.Join(dir, filepath.FromSlash(chunkKey(a.KeyEncoding, coords))), data)
		}
		if !advance(coords, grid) {
			break
		}
	}
}

func advance(pos, limit []int) bool {
	for d := len(pos) - 1; d >= 0; d-- {
		pos[d]++
		if pos[d] < limit[d] {
			return true
		}
		pos[d] = 0
	}
	return false
}

func chunkKey(encoding string, coords []int) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	if encoding == "v2" {
		return strings.Join(parts, ".")
	}
	return "c/" + strings.Join(parts, "/")
}

func compress(t testing.TB, codec string, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch codec {
	case "", "zstd":
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(raw, nil)
	case "gzip":
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case "lz4":
		zw := lz4.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	default:
		return raw
	}
	return buf.Bytes()
}

func encodeVlen(strs []string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(strs)))
	for _, s := range strs {
		binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
		buf.WriteString(s)
	}
	return buf.Bytes()
}

func dtypeOf(t testing.TB, data any) (string, int) {
	switch data.(type) {
	case []float32:
		return "float32", 4
	case []float64:
		return "float64", 8
	case []uint8:
		return "uint8", 1
	case []int8:
		return "int8", 1
	case []int16:
		return "int16", 2
	case []int32:
		return "int32", 4
	case []int64:
		return "int64", 8
	case []string:
		return "string", 0
	}
	t.Fatalf("unsupported data type %T", data)
	return "", 0
}

func length(data any) int {
	switch v := data.(type) {
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []uint8:
		return len(v)
	case []int8:
		return len(v)
	case []int16:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []string:
		return len(v)
	}
	return -1
}

func encodeAt(data any, i int) []byte {
	le := binary.LittleEndian
	switch v := data.(type) {
	case []float32:
		return le.AppendUint32(nil, math.Float32bits(v[i]))
	case []float64:
		return le.AppendUint64(nil, math.Float64bits(v[i]))
	case []uint8:
		return []byte{v[i]}
	case []int8:
		return []byte{byte(v[i])}
	case []int16:
		return le.AppendUint16(nil, uint16(v[i]))
	case []int32:
		return le.AppendUint32(nil, uint32(v[i]))
	case []int64:
		return le.AppendUint64(nil, uint64(v[i]))
	}
	panic(fmt.Sprintf("unsupported data type %T", data))
}

func writeJSON(t testing.TB, p string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	writeFile(t, p, data)
}

func writeFile(t testing.TB, p string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}
