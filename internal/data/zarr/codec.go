package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstdDecoder is shared; DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// pipeline is the decoded view of an array's codec list.
type pipeline struct {
	order    binary.ByteOrder
	vlenUTF8 bool
	bytes    []string // bytes->bytes codecs in encode order
}

func newPipeline(codecs []Codec) (*pipeline, error) {
	p := &pipeline{order: binary.LittleEndian}
	seenArray := false
	for _, c := range codecs {
		switch c.Name {
		case "bytes":
			if endian, _ := c.Configuration["endian"].(string); endian == "big" {
				p.order = binary.BigEndian
			}
			seenArray = true
		case "vlen-utf8":
			p.vlenUTF8 = true
			seenArray = true
		case "zstd", "gzip", "lz4":
			if !seenArray {
				return nil, fmt.Errorf("codec %s before array->bytes codec", c.Name)
			}
			p.bytes = append(p.bytes, c.Name)
		default:
			return nil, fmt.Errorf("unsupported codec: %s", c.Name)
		}
	}
	return p, nil
}

// decompress reverses the bytes->bytes codecs.
func (p *pipeline) decompress(raw []byte) ([]byte, error) {
	data := raw
	for i := len(p.bytes) - 1; i >= 0; i-- {
		var err error
		switch p.bytes[i] {
		case "zstd":
			data, err = zstdDecoder.DecodeAll(data, nil)
		case "gzip":
			data, err = gunzip(data)
		case "lz4":
			data, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s chunk: %w", p.bytes[i], err)
		}
	}
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// decodeVlenUTF8 parses a vlen-utf8 chunk: a uint32 item count followed by
// length-prefixed items, all little endian.
func decodeVlenUTF8(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vlen-utf8 chunk too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	out := make([]string, n)
	pos := 4
	for i := 0; i < n; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+l > len(data) {
			return nil, fmt.Errorf("vlen-utf8 chunk truncated at item %d", i)
		}
		out[i] = string(data[pos : pos+l])
		pos += l
	}
	return out, nil
}
