package registry

import (
	"errors"
	"testing"
)

func TestConnector_SendAndClose(t *testing.T) {
	c := NewConnector(ConnectMetadata{Transport: "test"}, 2)

	if c.State() != StateOpen {
		t.Fatalf("new connector state = %s, want open", c.State())
	}

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("send a: %v", err)
	}
	if err := c.Send([]byte("b")); err != nil {
		t.Fatalf("send b: %v", err)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("send c: got %v, want ErrBufferFull", err)
	}

	if got := string(<-c.Recv()); got != "a" {
		t.Errorf("first frame = %q, want a", got)
	}

	c.Close()
	c.Close()

	if c.State() != StateClosed {
		t.Errorf("state after close = %s, want closed", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after Close")
	}
	select {
	case f := <-c.Recv():
		t.Errorf("queued frame %q survived close", f)
	default:
	}
	if err := c.Send([]byte("d")); !errors.Is(err, ErrConnNotOpen) {
		t.Errorf("send after close: got %v, want ErrConnNotOpen", err)
	}
}

func TestConnector_DroppedCount(t *testing.T) {
	c := NewConnector(ConnectMetadata{}, 1).(*connect)

	_ = c.Send([]byte("1"))
	_ = c.Send([]byte("2"))
	_ = c.Send([]byte("3"))

	if got := c.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestConnector_SendLosesToConcurrentClose(t *testing.T) {
	// Close has signalled done but the state is not updated yet: a Send that already passed
	// the state gate must still refuse the frame.
	for range 200 {
		c := NewConnector(ConnectMetadata{}, 4).(*connect)
		close(c.doneCh)

		if err := c.Send([]byte("late")); !errors.Is(err, ErrConnNotOpen) {
			t.Fatalf("send after done: got %v, want ErrConnNotOpen", err)
		}
		if len(c.sendCh) != 0 {
			t.Fatal("frame queued on a closing connection")
		}
	}
}
