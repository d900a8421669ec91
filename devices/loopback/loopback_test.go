package loopback

import (
	"testing"

	"github.com/ehrlich-b/perilib"
)

func TestLoopbackPairEchoesBytes(t *testing.T) {
	a, b := NewPair()
	if err := a.Open(); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	if err := b.Open(); err != nil {
		t.Fatalf("Open b: %v", err)
	}

	if _, err := a.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := b.PollRx()
	if err != nil {
		t.Fatalf("PollRx: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}

	if got, _ := b.PollRx(); len(got) != 0 {
		t.Errorf("expected empty PollRx on second call, got %q", got)
	}
}

func TestLoopbackWriteAfterCloseFails(t *testing.T) {
	a, b := NewPair()
	_ = a.Open()
	_ = b.Open()
	_ = a.Close()

	if _, err := a.Write([]byte("x")); err != perilib.ErrStreamClosed {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}
