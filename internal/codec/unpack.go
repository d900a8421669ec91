package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Unpack decodes buffer into a Values map according to fields, using a
// precomputed PackingInfo. It follows the reference semantics exactly: the
// fixed prefix must fit within buffer, and any length-prefixed blob's
// declared length must exactly account for the remainder of buffer (greedy
// blobs consume whatever remains, by definition).
func Unpack(buffer []byte, fields []FieldDescriptor, info PackingInfo) (Values, error) {
	if info.ExpectedLength > len(buffer) {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", info.ExpectedLength, len(buffer), ErrShortBuffer)
	}

	values := make(Values, len(fields))
	offset := 0

	for _, f := range fields {
		switch f.Type {
		case U8:
			values[f.Name] = buffer[offset]
			offset++
		case I8:
			values[f.Name] = int8(buffer[offset])
			offset++
		case U16:
			values[f.Name] = binary.LittleEndian.Uint16(buffer[offset : offset+2])
			offset += 2
		case I16:
			values[f.Name] = int16(binary.LittleEndian.Uint16(buffer[offset : offset+2]))
			offset += 2
		case U32:
			values[f.Name] = binary.LittleEndian.Uint32(buffer[offset : offset+4])
			offset += 4
		case I32:
			values[f.Name] = int32(binary.LittleEndian.Uint32(buffer[offset : offset+4]))
			offset += 4
		case F32:
			values[f.Name] = math.Float32frombits(binary.LittleEndian.Uint32(buffer[offset : offset+4]))
			offset += 4
		case MAC6:
			mac := make([]byte, 6)
			copy(mac, buffer[offset:offset+6])
			values[f.Name] = mac
			offset += 6
		case BlobL8V:
			declared := int(buffer[offset])
			offset++
			remaining := len(buffer) - info.ExpectedLength
			if declared != remaining {
				return nil, fmt.Errorf("field %q: declared %d, remaining %d: %w", f.Name, declared, remaining, ErrLengthMismatch)
			}
			values[f.Name] = append([]byte{}, buffer[offset:]...)
		case BlobL16V:
			declared := int(binary.LittleEndian.Uint16(buffer[offset : offset+2]))
			offset += 2
			remaining := len(buffer) - info.ExpectedLength
			if declared != remaining {
				return nil, fmt.Errorf("field %q: declared %d, remaining %d: %w", f.Name, declared, remaining, ErrLengthMismatch)
			}
			values[f.Name] = append([]byte{}, buffer[offset:]...)
		case BlobGreedy:
			values[f.Name] = append([]byte{}, buffer[offset:]...)
		case BlobFixed:
			if offset+f.Width > len(buffer) {
				return nil, fmt.Errorf("field %q: fixed width %d exceeds buffer: %w", f.Name, f.Width, ErrShortBuffer)
			}
			values[f.Name] = append([]byte(nil), buffer[offset:offset+f.Width]...)
			offset += f.Width
		default:
			return nil, fmt.Errorf("field %q: unknown field type %d: %w", f.Name, f.Type, ErrBadField)
		}
	}

	return values, nil
}
