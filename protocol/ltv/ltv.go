// Package ltv implements the length-type-value stream protocol: a single
// packet shape of [length][type][value...] where length counts every byte
// after itself.
package ltv

import (
	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/protocol"
)

const PacketName = "ltv_packet"

// New builds the LTV protocol. A buffer is complete once its length equals
// buf[0]+1, a formula the lone byte 0x00 also satisfies: a single length
// byte declaring zero following bytes. The schema's type/value fields don't
// fit in that one byte, so that case unpacks to a degenerate packet with
// only length populated rather than a short-buffer error.
func New() *protocol.Protocol {
	def := protocol.NewDefinition(PacketName, []codec.FieldDescriptor{
		{Name: "length", Type: codec.U8},
		{Name: "type", Type: codec.U8},
		{Name: "value", Type: codec.BlobGreedy},
	}, "")

	p := protocol.New([]protocol.Definition{def}, protocol.WithCompleteTest(completeTest))
	p.UnpackPacket = unpackPacket(p)
	return p
}

func completeTest(buf []byte) protocol.ParseStatus {
	if len(buf) > 0 && len(buf) == int(buf[0])+1 {
		return protocol.StatusComplete
	}
	return protocol.StatusInProgress
}

func unpackPacket(p *protocol.Protocol) func([]byte, bool) (*protocol.Packet, error) {
	return func(buf []byte, isTx bool) (*protocol.Packet, error) {
		if len(buf) == 1 && buf[0] == 0 {
			return &protocol.Packet{
				Name:   PacketName,
				Values: codec.Values{"length": uint8(0)},
				Buffer: buf,
			}, nil
		}

		def, _ := p.Lookup(PacketName)
		values, err := codec.Unpack(buf, def.Fields, codec.CalculatePackingInfo(def.Fields))
		if err != nil {
			return nil, protocol.WrapBadPacket(PacketName, err)
		}
		return &protocol.Packet{Name: PacketName, Values: values, Buffer: buf}, nil
	}
}
