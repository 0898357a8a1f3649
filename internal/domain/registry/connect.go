package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnNotOpen = errors.New("connection is not open")
	ErrBufferFull  = errors.New("connection send buffer is full")
)

// ConnState mirrors the transport-level readiness of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (HUB/TRANSPORTS)
// The Hub only holds Connectors for iteration; the transport owns the lifecycle.
type Connector interface {
	GetID() uuid.UUID
	State() ConnState
	Send(frame []byte) error // Non-blocking enqueue; never waits on the network
	Recv() <-chan []byte
	Done() <-chan struct{}
	Close()
	Metadata() ConnectMetadata
	Dropped() uint64 // frames shed because the buffer was full
}

// [METADATA] EXPORTED FOR TRANSPORT AND LOGGING
type ConnectMetadata struct {
	Transport string
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id        uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time

	state  atomic.Int32
	sendCh chan []byte
	doneCh chan struct{}

	closeOnce    sync.Once
	droppedCount atomic.Uint64
}

// NewConnector creates a connection handle in the open state. Transports create it only
// after their own handshake has completed.
func NewConnector(meta ConnectMetadata, bufferSize int) Connector {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	c := &connect{
		id:        uuid.New(),
		metadata:  meta,
		createdAt: time.Now(),
		sendCh:    make(chan []byte, bufferSize),
		doneCh:    make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))
	return c
}

func (c *connect) GetID() uuid.UUID { return c.id }

func (c *connect) State() ConnState { return ConnState(c.state.Load()) }

func (c *connect) Metadata() ConnectMetadata { return c.metadata }

// Send enqueues one encoded frame for the transport writer.
func (c *connect) Send(frame []byte) error {
	// 1. [LIFECYCLE_GATE] closing or closed connections take nothing new.
	if c.State() != StateOpen {
		return ErrConnNotOpen
	}

	// a select with both cases ready picks at random, so Close must win first
	select {
	case <-c.doneCh:
		return ErrConnNotOpen
	default:
	}

	select {
	case <-c.doneCh:
		return ErrConnNotOpen
	case c.sendCh <- frame:
		return nil
	default:
		// 2. [BACKPRESSURE] a stalled consumer loses the frame rather than stalling the fan-out.
		c.droppedCount.Add(1)
		return ErrBufferFull
	}
}

// Recv is read by the transport writer. The channel is never closed; writers select on Done.
func (c *connect) Recv() <-chan []byte { return c.sendCh }

func (c *connect) Done() <-chan struct{} { return c.doneCh }

// Dropped reports how many frames were shed because of a full buffer.
func (c *connect) Dropped() uint64 { return c.droppedCount.Load() }

// Close cancels every queued and future send. Safe to call from any goroutine, any number of times.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.doneCh)

		// [DRAIN] frames still queued are discarded, never written.
		for {
			select {
			case <-c.sendCh:
				continue
			default:
			}
			break
		}

		c.state.Store(int32(StateClosed))
	})
}
