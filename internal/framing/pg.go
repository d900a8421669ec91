// Package framing implements the parser/generator: the component that
// turns a raw byte stream into complete packets (one byte at a time) and
// turns outgoing packet requests into bytes, including the synchronous
// send/wait rendezvous built on top of both directions.
package framing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/perilib/internal/codec"
	"github.com/ehrlich-b/perilib/internal/constants"
	"github.com/ehrlich-b/perilib/protocol"
)

// Sentinel errors. Callers above this package (stream.go's mapSendErr) map
// these to the shared structured error type, the same way the protocol and
// codec packages keep their own sentinels free of a dependency on root.
var (
	ErrBusy    = errors.New("a wait_packet call is already pending")
	ErrTimeout = errors.New("deadline exceeded waiting for packet")
)

// Clock abstracts wall-clock time so deadline logic can be driven by a fake
// clock in tests instead of real time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Writer is the minimal transport contract SendPacket needs: somewhere to
// put outgoing bytes. Stream implementations satisfy this directly.
type Writer interface {
	Write(p []byte) (int, error)
}

// ParserGenerator owns the receive buffer, per-packet parser state,
// incoming/waiting deadlines, and the pending-packet rendezvous for one
// attached Protocol. It is not safe for concurrent Feed/Process calls from
// multiple goroutines, but Feed/Process and WaitPacket are meant to run on
// different goroutines (typically a stream's read loop and a caller
// blocked in WaitPacket), so its exported surface is internally
// synchronized for that one producer/one-or-more-waiters pattern.
type ParserGenerator struct {
	Protocol *protocol.Protocol
	Clock    Clock
	Writer   Writer

	OnRxPacket              func(*protocol.Packet)
	OnTxPacket              func(*protocol.Packet)
	OnRxError               func(err error, buf []byte)
	OnIncomingPacketTimeout func(buf []byte)
	OnWaitingPacketTimeout  func(packetName string)

	mu sync.Mutex

	state parserState

	rxQueue []byte

	incomingT0 time.Time

	packetPending  string
	waitingT0      time.Time
	waitingTimeout time.Duration
	lastRxPacket   *protocol.Packet
	lastPending    *protocol.Packet
	waitTimedOut   bool
	waitCh         chan struct{}
}

// New creates a ParserGenerator bound to proto. Clock defaults to the real
// wall clock; callers in tests should override it before using the PG.
func New(proto *protocol.Protocol) *ParserGenerator {
	pg := &ParserGenerator{
		Protocol: proto,
		Clock:    realClock{},
		rxQueue:  make([]byte, 0, constants.DefaultRxQueueCapacity),
		waitCh:   make(chan struct{}, 1),
	}
	pg.state.reset()
	return pg
}

// Queue appends data to the receive queue for later processing by Process.
// Safe to call from a stream's read loop concurrently with a caller
// blocked in WaitPacket.
func (pg *ParserGenerator) Queue(data []byte) {
	pg.mu.Lock()
	pg.rxQueue = append(pg.rxQueue, data...)
	pg.mu.Unlock()
}

// Process drains any queued bytes through the framing state machine and
// checks the incoming/waiting deadlines against the current clock time.
// The host is expected to call this continuously from an event loop (see
// perilib.StreamRunner.Process).
func (pg *ParserGenerator) Process() {
	pg.mu.Lock()
	queued := pg.rxQueue
	pg.rxQueue = nil
	pg.mu.Unlock()

	for _, b := range queued {
		pg.feedByte(b, false)
	}

	pg.checkTimeouts()
}

// Feed parses a single byte immediately, bypassing the queue. Useful when
// the caller already owns synchronization (e.g. test code driving the PG
// byte by byte).
func (pg *ParserGenerator) Feed(b byte) {
	pg.feedByte(b, false)
}

func (pg *ParserGenerator) feedByte(b byte, isTx bool) {
	pg.mu.Lock()

	wasIdle := pg.state.status == protocol.StatusIdle
	result := pg.state.step(b, pg.Protocol)

	if wasIdle && pg.state.status != protocol.StatusIdle && pg.Protocol.IncomingPacketTimeout > 0 {
		pg.incomingT0 = pg.Clock.Now()
	}

	if !result.completed {
		if pg.state.status == protocol.StatusIdle {
			pg.incomingT0 = time.Time{}
		}
		pg.mu.Unlock()
		return
	}

	pg.incomingT0 = time.Time{}
	pg.mu.Unlock()

	pkt, err := pg.Protocol.PacketFromBuffer(result.buf, isTx)
	if err != nil {
		if pg.OnRxError != nil {
			pg.OnRxError(err, result.buf)
		}
		return
	}
	if pkt == nil {
		return
	}

	pg.mu.Lock()
	pg.lastRxPacket = pkt
	release := pkt.Name == pg.packetPending
	if release {
		pg.lastPending = pkt
		pg.waitingT0 = time.Time{}
	}
	pg.mu.Unlock()

	if pg.OnRxPacket != nil {
		pg.OnRxPacket(pkt)
	}

	if release {
		pg.mu.Lock()
		pg.packetPending = ""
		pg.waitTimedOut = false
		pg.mu.Unlock()
		pg.signalWait()
	}
}

func (pg *ParserGenerator) checkTimeouts() {
	now := pg.Clock.Now()

	pg.mu.Lock()
	incomingTimedOut := pg.Protocol.IncomingPacketTimeout > 0 &&
		!pg.incomingT0.IsZero() &&
		now.Sub(pg.incomingT0) > pg.Protocol.IncomingPacketTimeout
	var timedOutBuf []byte
	if incomingTimedOut {
		timedOutBuf = append([]byte(nil), pg.state.buf...)
		pg.state.reset()
		pg.incomingT0 = time.Time{}
	}

	waitingTimedOut := pg.waitingTimeout > 0 &&
		!pg.waitingT0.IsZero() &&
		now.Sub(pg.waitingT0) > pg.waitingTimeout
	var timedOutPending string
	if waitingTimedOut {
		timedOutPending = pg.packetPending
		pg.packetPending = ""
		pg.waitingT0 = time.Time{}
		pg.waitTimedOut = true
	}
	pg.mu.Unlock()

	if incomingTimedOut && pg.OnIncomingPacketTimeout != nil {
		pg.OnIncomingPacketTimeout(timedOutBuf)
	}

	if waitingTimedOut {
		if pg.OnWaitingPacketTimeout != nil {
			pg.OnWaitingPacketTimeout(timedOutPending)
		}
		pg.signalWait()
	}
}

func (pg *ParserGenerator) signalWait() {
	select {
	case pg.waitCh <- struct{}{}:
	default:
	}
}

// SendPacket builds name from values, writes it through Writer, and - if
// its Definition names a ResponseName - arms the waiting-packet deadline
// for that response.
func (pg *ParserGenerator) SendPacket(name string, values codec.Values) (*protocol.Packet, error) {
	pkt, err := pg.Protocol.PacketFromNameAndArgs(name, values)
	if err != nil {
		return nil, err
	}

	if pg.OnTxPacket != nil {
		pg.OnTxPacket(pkt)
	}

	if _, err := pg.Writer.Write(pkt.Buffer); err != nil {
		return nil, fmt.Errorf("write packet %q: %w", name, err)
	}

	if def, ok := pg.Protocol.Lookup(name); ok && def.ResponseName != "" {
		pg.mu.Lock()
		pg.packetPending = def.ResponseName
		pg.waitingTimeout = pg.Protocol.WaitingPacketTimeout
		pg.waitingT0 = pg.Clock.Now()
		pg.mu.Unlock()
	}

	return pkt, nil
}

// WaitPacket blocks until the named packet arrives or timeout elapses (the
// protocol's configured WaitingPacketTimeout if timeout is zero). If name
// is empty, it waits for whatever response SendPacket already armed, or
// returns immediately if nothing is pending. Process must be called
// concurrently (typically by a stream's read/process loop) for the
// deadline and packet-arrival checks inside it to ever unblock this call.
func (pg *ParserGenerator) WaitPacket(name string, timeout time.Duration) (*protocol.Packet, error) {
	pg.mu.Lock()
	if name != "" {
		if pg.packetPending != "" {
			pg.mu.Unlock()
			return nil, ErrBusy
		}
		pg.packetPending = name
		if timeout == 0 {
			timeout = pg.Protocol.WaitingPacketTimeout
		}
		pg.waitingTimeout = timeout
		pg.waitingT0 = pg.Clock.Now()
	}

	if pg.packetPending == "" {
		pg.mu.Unlock()
		return nil, nil
	}
	pg.mu.Unlock()

	<-pg.waitCh

	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.waitTimedOut {
		return nil, ErrTimeout
	}
	return pg.lastPending, nil
}

// SendAndWait sends name and then waits for its configured response, if
// any.
func (pg *ParserGenerator) SendAndWait(name string, values codec.Values) (*protocol.Packet, error) {
	if _, err := pg.SendPacket(name, values); err != nil {
		return nil, err
	}
	return pg.WaitPacket("", 0)
}

// Cancel force-releases any pending WaitPacket/SendAndWait rendezvous as a
// timeout, so a waiting goroutine doesn't block forever once nothing will
// ever call Process again (typically on stream teardown). A no-op if no
// wait is pending.
func (pg *ParserGenerator) Cancel() {
	pg.mu.Lock()
	pending := pg.packetPending != ""
	if pending {
		pg.packetPending = ""
		pg.waitingT0 = time.Time{}
		pg.waitTimedOut = true
	}
	pg.mu.Unlock()

	if pending {
		pg.signalWait()
	}
}

// LastRxPacket returns the most recently completed received packet, or nil
// if none has arrived yet.
func (pg *ParserGenerator) LastRxPacket() *protocol.Packet {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.lastRxPacket
}

// Reset returns the parser to an idle, empty state, discarding any partial
// packet in progress.
func (pg *ParserGenerator) Reset() {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	pg.state.reset()
	pg.incomingT0 = time.Time{}
}
