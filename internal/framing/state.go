package framing

import "github.com/ehrlich-b/perilib/protocol"

// parserState holds the minimal per-packet framing state the byte-at-a-time
// transition function mutates: the accumulating receive buffer and the
// current boundary-test status. Kept separate from ParserGenerator so the
// transition logic itself has no dependency on deadlines or the rendezvous
// primitive.
type parserState struct {
	buf    []byte
	status protocol.ParseStatus
}

func (s *parserState) reset() {
	s.buf = s.buf[:0]
	s.status = protocol.StatusIdle
}

// stepResult reports the outcome of feeding one byte through the state
// machine.
type stepResult struct {
	completed bool
	buf       []byte
}

// step feeds one byte into the framing state machine for the given
// Protocol, mutating s in place. It mirrors the reference parser's
// byte-at-a-time transition exactly: new data first extends the buffer,
// backspace bytes erase the byte before them instead, and a completed
// buffer is trimmed before being handed back to the caller.
func (s *parserState) step(b byte, p *protocol.Protocol) stepResult {
	s.buf = append(s.buf, b)

	if s.status == protocol.StatusIdle {
		s.status = p.StartTest(s.buf)
	}

	if s.status != protocol.StatusIdle {
		backspace := false
		for _, bb := range p.BackspaceBytes {
			if b == bb {
				backspace = true
				break
			}
		}

		if backspace {
			if len(s.buf) > 1 {
				s.buf = s.buf[:len(s.buf)-2]
			} else {
				s.buf = s.buf[:len(s.buf)-1]
			}
			if len(s.buf) == 0 {
				s.status = protocol.StatusIdle
			}
		} else {
			if s.status == protocol.StatusStarting {
				s.status = p.StartTest(s.buf)
			}
			if s.status == protocol.StatusInProgress {
				s.status = p.CompleteTest(s.buf)
			}
		}

		if s.status == protocol.StatusComplete {
			for _, tb := range p.TrimBytes {
				if s.buf[len(s.buf)-1] == tb {
					s.buf = s.buf[:len(s.buf)-1]
				}
			}
			out := append([]byte(nil), s.buf...)
			s.reset()
			return stepResult{completed: true, buf: out}
		}
	} else {
		// still idle after parsing a byte: junk data, drop it
		s.reset()
	}

	return stepResult{}
}
