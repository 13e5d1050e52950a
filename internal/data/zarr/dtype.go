package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

type kind int

const (
	kindInt kind = iota
	kindUint
	kindFloat
	kindString
)

type dtype struct {
	name string
	kind kind
	size int
}

var dtypes = map[string]dtype{
	"int8":    {"int8", kindInt, 1},
	"uint8":   {"uint8", kindUint, 1},
	"int16":   {"int16", kindInt, 2},
	"uint16":  {"uint16", kindUint, 2},
	"int32":   {"int32", kindInt, 4},
	"uint32":  {"uint32", kindUint, 4},
	"int64":   {"int64", kindInt, 8},
	"uint64":  {"uint64", kindUint, 8},
	"float32": {"float32", kindFloat, 4},
	"float64": {"float64", kindFloat, 8},
	"string":  {"string", kindString, 0},
}

func dtypeOf(name string) (dtype, error) {
	dt, ok := dtypes[name]
	if !ok {
		return dtype{}, fmt.Errorf("unsupported zarr data_type: %s", name)
	}
	return dt, nil
}

// fillBytes returns the encoded fill value for a single element.
func (dt dtype) fillBytes(fill interface{}, order binary.ByteOrder) ([]byte, error) {
	out := make([]byte, dt.size)
	if fill == nil {
		return out, nil
	}

	var f float64
	switch v := fill.(type) {
	case float64:
		f = v
	case string:
		switch v {
		case "NaN":
			f = math.NaN()
		case "Infinity":
			f = math.Inf(1)
		case "-Infinity":
			f = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill_value %q", v)
		}
	case bool:
		if v {
			f = 1
		}
	default:
		return nil, fmt.Errorf("unsupported fill_value type %T", fill)
	}

	switch dt.name {
	case "int8":
		out[0] = byte(int8(f))
	case "uint8":
		out[0] = byte(uint8(f))
	case "int16":
		order.PutUint16(out, uint16(int16(f)))
	case "uint16":
		order.PutUint16(out, uint16(f))
	case "int32":
		order.PutUint32(out, uint32(int32(f)))
	case "uint32":
		order.PutUint32(out, uint32(f))
	case "int64":
		order.PutUint64(out, uint64(int64(f)))
	case "uint64":
		order.PutUint64(out, uint64(f))
	case "float32":
		order.PutUint32(out, math.Float32bits(float32(f)))
	case "float64":
		order.PutUint64(out, math.Float64bits(f))
	}
	return out, nil
}

// float64At decodes element i of a raw little/big endian buffer.
func (dt dtype) float64At(buf []byte, i int, order binary.ByteOrder) float64 {
	off := i * dt.size
	b := buf[off : off+dt.size]
	switch dt.name {
	case "int8":
		return float64(int8(b[0]))
	case "uint8":
		return float64(b[0])
	case "int16":
		return float64(int16(order.Uint16(b)))
	case "uint16":
		return float64(order.Uint16(b))
	case "int32":
		return float64(int32(order.Uint32(b)))
	case "uint32":
		return float64(order.Uint32(b))
	case "int64":
		return float64(int64(order.Uint64(b)))
	case "uint64":
		return float64(order.Uint64(b))
	case "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "float64":
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

func (dt dtype) int64At(buf []byte, i int, order binary.ByteOrder) int64 {
	off := i * dt.size
	b := buf[off : off+dt.size]
	switch dt.name {
	case "int8":
		return int64(int8(b[0]))
	case "uint8":
		return int64(b[0])
	case "int16":
		return int64(int16(order.Uint16(b)))
	case "uint16":
		return int64(order.Uint16(b))
	case "int32":
		return int64(int32(order.Uint32(b)))
	case "uint32":
		return int64(order.Uint32(b))
	case "int64":
		return int64(order.Uint64(b))
	case "uint64":
		return int64(order.Uint64(b))
	default:
		return int64(dt.float64At(buf, i, order))
	}
}
