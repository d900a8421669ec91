package framing

import (
	"sync"
	"testing"
	"time"

	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/protocol"
	"github.com/ehrlich-b/perilib/protocol/textline"
	"github.com/ehrlich-b/perilib/protocol/tlv"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance wall-clock time deterministically instead of
// sleeping in real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// discardWriter satisfies Writer without a real transport.
type discardWriter struct {
	written [][]byte
}

func (w *discardWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	w.written = append(w.written, cp)
	return len(p), nil
}

func TestChunkedVsByteByByteEquivalence(t *testing.T) {
	frame := []byte{0x02, 0x05, 0x77, 0x6F, 0x72, 0x6C, 0x64} // tlv: type2 len5 "world"

	var viaBytes []*protocol.Packet
	pg1 := New(tlv.New())
	pg1.OnRxPacket = func(p *protocol.Packet) { viaBytes = append(viaBytes, p) }
	for _, b := range frame {
		pg1.Feed(b)
	}

	var viaChunk []*protocol.Packet
	pg2 := New(tlv.New())
	pg2.OnRxPacket = func(p *protocol.Packet) { viaChunk = append(viaChunk, p) }
	pg2.Queue(frame)
	pg2.Process()

	require.Len(t, viaBytes, 1)
	require.Len(t, viaChunk, 1)
	require.Equal(t, viaBytes[0].Values, viaChunk[0].Values)
}

func TestTLVContiguous(t *testing.T) {
	pg := New(tlv.New())
	var got *protocol.Packet
	pg.OnRxPacket = func(p *protocol.Packet) { got = p }

	for _, b := range []byte{0x01, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F} {
		pg.Feed(b)
	}

	require.NotNil(t, got)
	require.EqualValues(t, 0x01, got.Values["type"])
	require.EqualValues(t, 0x05, got.Values["length"])
	require.Equal(t, []byte("Hello"), got.Values["value"])
}

func TestTextLineBackspaceErasure(t *testing.T) {
	pg := New(textline.New())
	var got *protocol.Packet
	pg.OnRxPacket = func(p *protocol.Packet) { got = p }

	// "TEST ERR" + three backspaces + "CMD" + newline => "TEST CMD"
	input := []byte{
		0x54, 0x45, 0x53, 0x54, 0x20, 0x45, 0x52, 0x52,
		0x08, 0x08, 0x08,
		0x43, 0x4D, 0x44,
		0x0A,
	}
	for _, b := range input {
		pg.Feed(b)
	}

	require.NotNil(t, got)
	require.Equal(t, []byte("TEST CMD"), got.Values["text"])
}

func TestTwoPacketsInOrder(t *testing.T) {
	pg := New(tlv.New())
	var got []*protocol.Packet
	pg.OnRxPacket = func(p *protocol.Packet) { got = append(got, p) }

	frames := []byte{
		0x02, 0x05, 0x77, 0x6F, 0x72, 0x6C, 0x64, // type2 len5 "world"
		0x03, 0x03, 0x54, 0x4C, 0x56, // type3 len3 "TLV"
	}
	for _, b := range frames {
		pg.Feed(b)
	}

	require.Len(t, got, 2)
	require.EqualValues(t, 2, got[0].Values["type"])
	require.EqualValues(t, 3, got[1].Values["type"])
	require.Equal(t, []byte("world"), got[0].Values["value"])
	require.Equal(t, []byte("TLV"), got[1].Values["value"])
}

func TestJunkByteResilience(t *testing.T) {
	// a malformed length-prefixed frame should not wedge the parser: once a
	// packet errors out of PacketFromBuffer, the state resets and the next
	// well-formed packet still arrives.
	fields := []codec.FieldDescriptor{{Name: "blob", Type: codec.BlobL8V}}

	p := protocol.New(
		[]protocol.Definition{protocol.NewDefinition("blob", fields, "")},
		protocol.WithTerminalBytes(0x00),
	)

	pg := New(p)
	var got []*protocol.Packet
	var errs []error
	pg.OnRxPacket = func(pkt *protocol.Packet) { got = append(got, pkt) }
	pg.OnRxError = func(err error, buf []byte) { errs = append(errs, err) }

	// malformed: declares 5 trailing bytes but only the terminal byte follows
	for _, b := range []byte{0x05, 0x00} {
		pg.Feed(b)
	}
	require.Len(t, errs, 1)
	require.Len(t, got, 0)

	// well-formed: declares 1 trailing byte, which is the terminal byte itself
	for _, b := range []byte{0x01, 0x00} {
		pg.Feed(b)
	}
	require.Len(t, got, 1)
}

func TestIncomingPacketTimeoutMonotonicity(t *testing.T) {
	clock := newFakeClock()
	p := protocol.New(
		[]protocol.Definition{protocol.NewDefinition("p", nil, "")},
		protocol.WithIncomingPacketTimeout(5*time.Second),
		protocol.WithCompleteTest(func(buf []byte) protocol.ParseStatus { return protocol.StatusInProgress }),
	)
	pg := New(p)
	pg.Clock = clock

	var timedOut bool
	pg.OnIncomingPacketTimeout = func(buf []byte) { timedOut = true }

	pg.Feed(0x01)
	pg.Process() // no time elapsed yet
	require.False(t, timedOut)

	clock.Advance(3 * time.Second)
	pg.Process()
	require.False(t, timedOut, "should not time out before the deadline")

	clock.Advance(3 * time.Second)
	pg.Process()
	require.True(t, timedOut, "should time out once elapsed exceeds the deadline")
}

func TestSendAndWaitRendezvous(t *testing.T) {
	clock := newFakeClock()

	w := &discardWriter{}
	pg := New(buildPingPongProtocol())
	pg.Clock = clock
	pg.Writer = w

	done := make(chan struct{})
	var result *protocol.Packet
	var err error
	go func() {
		result, err = pg.SendAndWait("ping", nil)
		close(done)
	}()

	// give the goroutine a moment to enter WaitPacket
	time.Sleep(10 * time.Millisecond)

	// simulate the transport looping the "pong" response back
	pg.Feed(0x02)
	pg.Process()

	<-done
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "pong", result.Name)
}

// buildPingPongProtocol defines a minimal two-packet protocol where the
// single payload byte (0x01 or 0x02) tags which packet arrived, used only
// to exercise the waiting-packet rendezvous.
func buildPingPongProtocol() *protocol.Protocol {
	ping := protocol.NewDefinition("ping", nil, "pong")
	pong := protocol.NewDefinition("pong", nil, "")

	var p *protocol.Protocol
	p = protocol.New(
		[]protocol.Definition{ping, pong},
		protocol.WithWaitingPacketTimeout(5*time.Second),
		protocol.WithIdentifyPacket(func(buf []byte, isTx bool) (*protocol.Definition, error) {
			if len(buf) > 0 && buf[0] == 0x01 {
				d, _ := p.Lookup("ping")
				return d, nil
			}
			d, _ := p.Lookup("pong")
			return d, nil
		}),
	)
	return p
}

func TestWaitPacketBusy(t *testing.T) {
	pg := New(buildPingPongProtocol())
	pg.Writer = &discardWriter{}

	done := make(chan struct{})
	go func() {
		_, _ = pg.SendAndWait("ping", nil)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := pg.WaitPacket("pong", time.Second)
	require.ErrorIs(t, err, ErrBusy)

	pg.Feed(0x02)
	pg.Process()
	<-done
}
