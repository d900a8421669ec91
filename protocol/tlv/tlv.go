// Package tlv implements the type-length-value stream protocol: a single
// packet shape of [type][length][value...] where length counts the value
// bytes only.
package tlv

import (
	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/protocol"
)

const PacketName = "tlv_packet"

// New builds the TLV protocol. A buffer is complete once its length
// exceeds one byte and equals buf[1]+2 (the type and length bytes plus the
// declared value length).
func New() *protocol.Protocol {
	def := protocol.NewDefinition(PacketName, []codec.FieldDescriptor{
		{Name: "type", Type: codec.U8},
		{Name: "length", Type: codec.U8},
		{Name: "value", Type: codec.BlobGreedy},
	}, "")

	return protocol.New([]protocol.Definition{def}, protocol.WithCompleteTest(completeTest))
}

func completeTest(buf []byte) protocol.ParseStatus {
	if len(buf) > 1 && len(buf) == int(buf[1])+2 {
		return protocol.StatusComplete
	}
	return protocol.StatusInProgress
}
