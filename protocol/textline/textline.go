// Package textline implements a terminal-delimited text protocol: lines end
// at 0x0A, accept interactive backspace/delete erasure while in progress,
// and have their line-ending bytes trimmed from the final packet.
package textline

import (
	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/protocol"
)

const PacketName = "textline_packet"

// New builds the text-line protocol: backspace (0x08) and delete (0x7F)
// erase the preceding byte while a line is being entered, 0x0A terminates
// the line, and both 0x0A and 0x0D are trimmed from the completed buffer
// before it's split into its single greedy text field.
func New() *protocol.Protocol {
	def := protocol.NewDefinition(PacketName, []codec.FieldDescriptor{
		{Name: "text", Type: codec.BlobGreedy},
	}, "")

	return protocol.New(
		[]protocol.Definition{def},
		protocol.WithBackspaceBytes(0x08, 0x7F),
		protocol.WithTerminalBytes(0x0A),
		protocol.WithTrimBytes(0x0A, 0x0D),
	)
}
