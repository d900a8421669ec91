package perilib

import (
	"errors"
	"sync"
	"time"

	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/internal/framing"
	"github.com/ehrlich-b/perilib/protocol"
)

// Stream is the transport contract a concrete device (devices/serial,
// devices/loopback) must satisfy. Open and Close are idempotent; Write sends
// outbound bytes synchronously; PollRx returns whatever bytes are currently
// available without blocking, and an empty slice (not an error) when none
// are.
type Stream interface {
	Open() error
	Close() error
	Write(p []byte) (int, error)
	PollRx() ([]byte, error)
}

// StreamHooks mirrors the stream-level observer surface: on_open, on_close,
// on_rx_data, on_tx_data, on_open_error, on_disconnect_device. Every hook is
// optional.
type StreamHooks struct {
	OnOpen             func(*StreamRunner)
	OnClose            func(*StreamRunner)
	OnRxData           func(data []byte, s *StreamRunner)
	OnTxData           func(data []byte, s *StreamRunner)
	OnOpenError        func(s *StreamRunner, err error)
	OnDisconnectDevice func(s *StreamRunner)
}

// StreamOption configures a StreamRunner at construction time.
type StreamOption func(*StreamRunner)

// WithStreamHooks attaches the stream-level observer hooks.
func WithStreamHooks(h StreamHooks) StreamOption {
	return func(sr *StreamRunner) { sr.hooks = h }
}

// WithPacketObservers attaches the packet-level observer hooks directly to
// the underlying ParserGenerator (on_rx_packet, on_tx_packet, on_rx_error,
// on_incoming_packet_timeout, on_waiting_packet_timeout).
func WithPacketObservers(
	onRxPacket func(*protocol.Packet),
	onTxPacket func(*protocol.Packet),
	onRxError func(kind ErrorCode, buf []byte),
	onIncomingTimeout func(partial []byte),
	onWaitingTimeout func(pendingName string),
) StreamOption {
	return func(sr *StreamRunner) {
		sr.pg.OnRxPacket = onRxPacket
		sr.pg.OnTxPacket = onTxPacket
		if onRxError != nil {
			sr.pg.OnRxError = func(err error, buf []byte) { onRxError(classifyRxError(err), buf) }
		}
		sr.pg.OnIncomingPacketTimeout = onIncomingTimeout
		sr.pg.OnWaitingPacketTimeout = onWaitingTimeout
	}
}

// WithObserver attaches a metrics Observer to the stream's rx/tx/latency
// events.
func WithObserver(o Observer) StreamOption {
	return func(sr *StreamRunner) { sr.observer = o }
}

// WithClock overrides the ParserGenerator's clock, for deterministic tests.
func WithClock(c framing.Clock) StreamOption {
	return func(sr *StreamRunner) { sr.pg.Clock = c }
}

// StreamRunner binds a Stream to a Protocol via a ParserGenerator, and is
// the unit the host application drives with Process(). It mirrors the
// teacher's queue runner in spirit: one process step per call, no hidden
// goroutines beyond the one the caller's event loop provides.
type StreamRunner struct {
	stream Stream
	pg     *framing.ParserGenerator
	hooks  StreamHooks

	observer Observer

	mu     sync.Mutex
	opened bool
	closed bool
}

// NewStreamRunner creates a StreamRunner over stream using proto as its
// Protocol.
func NewStreamRunner(stream Stream, proto *protocol.Protocol, opts ...StreamOption) *StreamRunner {
	sr := &StreamRunner{
		stream:   stream,
		pg:       framing.New(proto),
		observer: NoOpObserver{},
	}
	sr.pg.Writer = writerFunc(func(p []byte) (int, error) { return sr.writeThrough(p) })

	for _, opt := range opts {
		opt(sr)
	}

	// Wrap whatever rx/tx hooks the options installed so the Observer always
	// sees every packet, even if the caller also supplied its own hook.
	innerRx := sr.pg.OnRxPacket
	sr.pg.OnRxPacket = func(p *protocol.Packet) {
		sr.observer.ObserveRx(uint64(len(p.Buffer)), true)
		if innerRx != nil {
			innerRx(p)
		}
	}
	innerTx := sr.pg.OnTxPacket
	sr.pg.OnTxPacket = func(p *protocol.Packet) {
		sr.observer.ObserveTx(uint64(len(p.Buffer)), true)
		if innerTx != nil {
			innerTx(p)
		}
	}
	innerErr := sr.pg.OnRxError
	sr.pg.OnRxError = func(err error, buf []byte) {
		sr.observer.ObserveRx(uint64(len(buf)), false)
		if innerErr != nil {
			innerErr(err, buf)
		}
	}
	innerTimeout := sr.pg.OnIncomingPacketTimeout
	sr.pg.OnIncomingPacketTimeout = func(buf []byte) {
		sr.observer.ObserveTimeout()
		if innerTimeout != nil {
			innerTimeout(buf)
		}
	}
	innerWaitTimeout := sr.pg.OnWaitingPacketTimeout
	sr.pg.OnWaitingPacketTimeout = func(name string) {
		sr.observer.ObserveTimeout()
		if innerWaitTimeout != nil {
			innerWaitTimeout(name)
		}
	}

	return sr
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (sr *StreamRunner) writeThrough(p []byte) (int, error) {
	n, err := sr.stream.Write(p)
	if err != nil {
		return n, NewError("stream.write", ErrCodeTransport, err.Error()).WithInner(err)
	}
	if sr.hooks.OnTxData != nil {
		sr.hooks.OnTxData(p, sr)
	}
	return n, nil
}

// Open acquires the underlying transport. Idempotent.
func (sr *StreamRunner) Open() error {
	sr.mu.Lock()
	if sr.opened {
		sr.mu.Unlock()
		return nil
	}
	sr.mu.Unlock()

	if err := sr.stream.Open(); err != nil {
		if sr.hooks.OnOpenError != nil {
			sr.hooks.OnOpenError(sr, err)
		}
		return NewError("stream.open", ErrCodeTransport, err.Error()).WithInner(err)
	}

	sr.mu.Lock()
	sr.opened = true
	sr.closed = false
	sr.mu.Unlock()

	if sr.hooks.OnOpen != nil {
		sr.hooks.OnOpen(sr)
	}
	return nil
}

// Close releases the underlying transport and releases any pending
// WaitPacket/SendAndWait rendezvous with a timed-out signal, so a goroutine
// blocked on a response that will now never arrive doesn't hang forever.
// Idempotent.
func (sr *StreamRunner) Close() error {
	sr.mu.Lock()
	if sr.closed {
		sr.mu.Unlock()
		return nil
	}
	sr.closed = true
	sr.mu.Unlock()

	sr.pg.Cancel()

	err := sr.stream.Close()
	if sr.hooks.OnClose != nil {
		sr.hooks.OnClose(sr)
	}
	if err != nil {
		return NewError("stream.close", ErrCodeTransport, err.Error()).WithInner(err)
	}
	return nil
}

// Process is the external-event-loop hook: it polls the transport for new
// bytes, queues them into the ParserGenerator, and drives one framing step.
// A read failure from PollRx terminates the stream per spec.md §4.D: the
// stream is closed and on_disconnect_device fires.
func (sr *StreamRunner) Process() {
	data, err := sr.stream.PollRx()
	if err != nil {
		_ = sr.Close()
		if sr.hooks.OnDisconnectDevice != nil {
			sr.hooks.OnDisconnectDevice(sr)
		}
		return
	}
	if len(data) > 0 {
		sr.pg.Queue(data)
		if sr.hooks.OnRxData != nil {
			sr.hooks.OnRxData(data, sr)
		}
	}
	sr.pg.Process()
}

// Send packs and writes a named packet.
func (sr *StreamRunner) Send(name string, values codec.Values) (*protocol.Packet, error) {
	pkt, err := sr.pg.SendPacket(name, values)
	if err != nil {
		return nil, mapSendErr(name, err)
	}
	return pkt, nil
}

// SendAndWait sends a named packet and blocks for its configured response.
// Process must be running concurrently (typically on the host's event
// loop) for this to ever unblock.
func (sr *StreamRunner) SendAndWait(name string, values codec.Values) (*protocol.Packet, error) {
	start := time.Now()
	pkt, err := sr.pg.SendAndWait(name, values)
	sr.observer.ObserveWaitLatency(uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		return nil, mapSendErr(name, err)
	}
	return pkt, nil
}

// WaitPacket blocks until the named packet arrives or timeout elapses.
func (sr *StreamRunner) WaitPacket(name string, timeout time.Duration) (*protocol.Packet, error) {
	pkt, err := sr.pg.WaitPacket(name, timeout)
	if err != nil {
		return nil, mapSendErr(name, err)
	}
	return pkt, nil
}

// LastRxPacket returns the most recently completed received packet.
func (sr *StreamRunner) LastRxPacket() *protocol.Packet {
	return sr.pg.LastRxPacket()
}

// Reset clears the framing state without touching the pending rendezvous.
func (sr *StreamRunner) Reset() {
	sr.pg.Reset()
}

func mapSendErr(packetName string, err error) error {
	switch {
	case errors.Is(err, framing.ErrBusy):
		return NewFieldError("stream.send", packetName, ErrCodeBusy, err.Error()).WithInner(err)
	case errors.Is(err, framing.ErrTimeout):
		return NewFieldError("stream.send", packetName, ErrCodeTimeout, err.Error()).WithInner(err)
	case errors.Is(err, protocol.ErrUnknownPacket):
		return NewFieldError("stream.send", packetName, ErrCodeUnknownPacket, err.Error()).WithInner(err)
	case errors.Is(err, codec.ErrMissingField):
		return NewFieldError("stream.send", packetName, ErrCodeMissingField, err.Error()).WithInner(err)
	case errors.Is(err, codec.ErrBadField):
		return NewFieldError("stream.send", packetName, ErrCodeBadField, err.Error()).WithInner(err)
	default:
		return NewFieldError("stream.send", packetName, ErrCodeTransport, err.Error()).WithInner(err)
	}
}

func classifyRxError(err error) ErrorCode {
	switch {
	case errors.Is(err, codec.ErrShortBuffer):
		return ErrCodeShortBuffer
	case errors.Is(err, codec.ErrLengthMismatch):
		return ErrCodeLengthMismatch
	case errors.Is(err, codec.ErrMissingField):
		return ErrCodeMissingField
	case errors.Is(err, codec.ErrBadField):
		return ErrCodeBadField
	case errors.Is(err, protocol.ErrUnknownPacket):
		return ErrCodeUnknownPacket
	case errors.Is(err, protocol.ErrBadPacket):
		return ErrCodeBadPacket
	default:
		return ErrCodeBadPacket
	}
}

// ErrStreamClosed is returned by devices when an operation is attempted on
// an already-closed stream.
var ErrStreamClosed = errors.New("stream is closed")
