package protocol

import (
	"errors"
	"testing"

	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/stretchr/testify/require"
)

func echoDefinition() Definition {
	return NewDefinition("echo", []codec.FieldDescriptor{
		{Name: "value", Type: codec.U8},
	}, "")
}

func TestDefaultProtocolTreatsEveryByteAsAPacket(t *testing.T) {
	p := New([]Definition{echoDefinition()})

	require.Equal(t, StatusInProgress, p.StartTest([]byte{0x01}))
	require.Equal(t, StatusComplete, p.CompleteTest([]byte{0x01}))
}

func TestPacketFromNameAndArgsRoundTrip(t *testing.T) {
	p := New([]Definition{echoDefinition()})

	pkt, err := p.PacketFromNameAndArgs("echo", codec.Values{"value": uint8(9)})
	require.NoError(t, err)
	require.Equal(t, []byte{0x09}, pkt.Buffer)

	out, err := p.PacketFromBuffer(pkt.Buffer, false)
	require.NoError(t, err)
	require.Equal(t, "echo", out.Name)
	require.Equal(t, uint8(9), out.Values["value"])
}

func TestUnknownPacketName(t *testing.T) {
	p := New([]Definition{echoDefinition()})

	_, err := p.PacketFromNameAndArgs("nope", codec.Values{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownPacket))
}

func TestTerminalByteCompleteTest(t *testing.T) {
	p := New([]Definition{echoDefinition()}, WithTerminalBytes(0x0A))

	require.Equal(t, StatusInProgress, p.CompleteTest([]byte{0x41}))
	require.Equal(t, StatusComplete, p.CompleteTest([]byte{0x41, 0x0A}))
}

func TestBadPacketWraps(t *testing.T) {
	p := New([]Definition{echoDefinition()})

	_, err := p.PacketFromBuffer([]byte{}, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadPacket))
	require.True(t, errors.Is(err, codec.ErrShortBuffer))
}
