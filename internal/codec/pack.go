package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors identifying the failure category of a Pack/Unpack call.
// The root package (stream.go) maps these to the shared structured error
// type via errors.Is, keeping this package free of a dependency on the root
// package so it stays importable from anywhere without a cycle.
var (
	ErrMissingField   = errors.New("field value is required to build packet")
	ErrBadField       = errors.New("field value outside its declared width or shape")
	ErrShortBuffer    = errors.New("buffer shorter than the calculated packing length")
	ErrLengthMismatch = errors.New("declared variable payload length does not match buffer")
)

// Pack builds a little-endian byte buffer from values according to fields,
// using a precomputed PackingInfo.
func Pack(values Values, fields []FieldDescriptor, info PackingInfo) ([]byte, error) {
	buf := make([]byte, 0, info.ExpectedLength)

	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrMissingField)
		}

		enc, err := encodeField(f, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w: %v", f.Name, ErrBadField, err)
		}
		buf = append(buf, enc...)
	}

	return buf, nil
}

func encodeField(f FieldDescriptor, v any) ([]byte, error) {
	switch f.Type {
	case U8:
		n, err := asUint(v, 0xFF)
		if err != nil {
			return nil, err
		}
		return []byte{byte(n)}, nil
	case I8:
		n, err := asInt(v, -0x80, 0x7F)
		if err != nil {
			return nil, err
		}
		return []byte{byte(int8(n))}, nil
	case U16:
		n, err := asUint(v, 0xFFFF)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(n))
		return b, nil
	case I16:
		n, err := asInt(v, -0x8000, 0x7FFF)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(n)))
		return b, nil
	case U32:
		n, err := asUint(v, 0xFFFFFFFF)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(n))
		return b, nil
	case I32:
		n, err := asInt(v, -0x80000000, 0x7FFFFFFF)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(n)))
		return b, nil
	case F32:
		f32, ok := v.(float32)
		if !ok {
			if f64, ok2 := v.(float64); ok2 {
				f32 = float32(f64)
			} else {
				return nil, fmt.Errorf("value %v is not a float", v)
			}
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(f32))
		return b, nil
	case MAC6:
		mac, ok := v.([]byte)
		if !ok || len(mac) != 6 {
			return nil, fmt.Errorf("value %v is not a 6-byte MAC address", v)
		}
		out := make([]byte, 6)
		copy(out, mac)
		return out, nil
	case BlobL8V:
		blob, err := asBlob(v)
		if err != nil {
			return nil, err
		}
		if len(blob) > 0xFF {
			return nil, fmt.Errorf("blob length %d exceeds 1-byte length prefix", len(blob))
		}
		out := make([]byte, 0, 1+len(blob))
		out = append(out, byte(len(blob)))
		out = append(out, blob...)
		return out, nil
	case BlobL16V:
		blob, err := asBlob(v)
		if err != nil {
			return nil, err
		}
		if len(blob) > 0xFFFF {
			return nil, fmt.Errorf("blob length %d exceeds 2-byte length prefix", len(blob))
		}
		prefix := make([]byte, 2)
		binary.LittleEndian.PutUint16(prefix, uint16(len(blob)))
		return append(prefix, blob...), nil
	case BlobGreedy:
		return asBlob(v)
	case BlobFixed:
		blob, err := asBlob(v)
		if err != nil {
			return nil, err
		}
		if len(blob) != f.Width {
			return nil, fmt.Errorf("blob length %d does not match fixed width %d", len(blob), f.Width)
		}
		return blob, nil
	default:
		return nil, fmt.Errorf("unknown field type %d", f.Type)
	}
}

func asBlob(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("value %v is not byte-convertible", v)
	}
}

func asUint(v any, max uint64) (uint64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		return uint64(x), checkUintRange(uint64(x), max)
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), checkUintRange(uint64(x), max)
	case uint32:
		return uint64(x), checkUintRange(uint64(x), max)
	case uint64:
		return x, checkUintRange(x, max)
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d is negative, expected unsigned", n)
	}
	return uint64(n), checkUintRange(uint64(n), max)
}

func checkUintRange(n, max uint64) error {
	if n > max {
		return fmt.Errorf("value %d exceeds maximum %d", n, max)
	}
	return nil
}

func asInt(v any, min, max int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, min, max)
	}
	return n, nil
}
