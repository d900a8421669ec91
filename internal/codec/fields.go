// Package codec implements the binary field packing layer: a closed set of
// typed field descriptors, a cached packing layout per field list, and
// little-endian pack/unpack routines driven by that layout.
package codec

// FieldType is the closed set of wire field types a packet definition may
// describe. Mirrors the teacher's small-integer enum idiom rather than the
// string-keyed type table the reference implementation uses, since these
// values never leave the process as user-facing text.
type FieldType uint8

const (
	U8 FieldType = iota
	I8
	U16
	I16
	U32
	I32
	F32
	MAC6
	BlobL8V
	BlobL16V
	BlobGreedy
	BlobFixed
)

// width reports the fixed portion of a field's on-wire size. Variable blob
// fields report only their length-prefix width here; the payload itself is
// sized at pack/unpack time.
func (t FieldType) width() int {
	switch t {
	case U8, I8, BlobL8V:
		return 1
	case U16, I16, BlobL16V:
		return 2
	case U32, I32, F32:
		return 4
	case MAC6:
		return 6
	case BlobGreedy, BlobFixed:
		return 0
	default:
		return 0
	}
}

// FieldDescriptor names one field in a packet's fixed layout.
type FieldDescriptor struct {
	Name string
	Type FieldType

	// Width is only meaningful for BlobFixed: the fixed number of payload
	// bytes that field occupies, specified by the packet definition itself.
	Width int
}

// PackingInfo is the cached, identity-keyed layout derived from a field
// list: the fixed prefix length every instance of this field list shares,
// regardless of the variable-length blob payloads any one instance carries.
type PackingInfo struct {
	Fields         []FieldDescriptor
	ExpectedLength int
}

// CalculatePackingInfo computes the fixed-prefix byte count for fields. It
// is pure given the field list's identity, so callers should compute it
// once per packet Definition and reuse it (see protocol.Definition).
func CalculatePackingInfo(fields []FieldDescriptor) PackingInfo {
	length := 0
	for _, f := range fields {
		length += f.Type.width()
		if f.Type == BlobFixed {
			length += f.Width
		}
	}
	return PackingInfo{Fields: fields, ExpectedLength: length}
}

// FieldOffset returns the byte offset of the named field within the fixed
// prefix, or -1 if the field is not part of fields.
func FieldOffset(fields []FieldDescriptor, name string) int {
	offset := 0
	for _, f := range fields {
		if f.Name == name {
			return offset
		}
		offset += f.Type.width()
		if f.Type == BlobFixed {
			offset += f.Width
		}
	}
	return -1
}

// Values is the keyed argument/result container a packet definition packs
// from and unpacks into. Kept as a plain map rather than compiled per-packet
// structs so schemas stay data-driven, matching the three supplied generic
// protocols.
type Values map[string]any
