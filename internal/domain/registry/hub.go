/*
Package registry holds the set of live realtime connections and fans change events out to them.

Key Architectural Concepts:
  - Explicit Ownership: the Hub is built at process start and torn down at shutdown. Transports
    pass it by reference; there is no package-level registry.
  - Snapshot Fan-out: Broadcast copies the membership under a read lock and sends outside of it,
    so register/unregister never wait on a slow socket and iteration never sees a mutating map.
  - Per-connection Mailboxes: a send only enqueues into the connection's buffer. The transport's
    writer goroutine owns the network write.
  - Explicit Failure Fold: every send outcome is accumulated into a Report instead of being
    swallowed, and one failure never short-circuits the loop.
*/
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/change-relay/internal/domain/model"
)

// Hubber defines the gateway for connection registration and change fan-out.
type Hubber interface {
	Register(conn Connector)
	Unregister(conn Connector)
	Broadcast(ev *model.ChangeEvent) Report
	Len() int
	Stats() model.HubStats
	Shutdown()
}

// SendFailure records one connection that did not accept a frame.
type SendFailure struct {
	ConnID uuid.UUID
	Err    error
}

// Report is the outcome of one fan-out.
type Report struct {
	Delivered int // frames enqueued to open connections
	Skipped   int // connections not open at send time
	Failures  []SendFailure
}

// Targets is the number of connections that were open at send time.
func (r Report) Targets() int { return r.Delivered + len(r.Failures) }

// Hub implements the change notifier.
type Hub struct {
	config hubConfig
	logger *slog.Logger

	// [CONCURRENCY_CONTROL] guards conns only; never held across a Send.
	mu     sync.RWMutex
	conns  map[uuid.UUID]Connector
	closed bool // set by Shutdown; later registrations are refused

	startedAt    time.Time
	broadcasts   atomic.Uint64
	deliveries   atomic.Uint64
	sendFailures atomic.Uint64
	lastEvent    atomic.Pointer[lastEvent]
	shutdownOnce sync.Once
	instruments  *instruments
}

type lastEvent struct {
	kind model.Kind
	at   time.Time
}

var _ Hubber = (*Hub)(nil)

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config:    defaultHubConfig(),
		conns:     make(map[uuid.UUID]Connector),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.config.logger
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.instruments = newInstruments(h.config.meter, h.logger)

	return h
}

// Register adds conn to the registry. Subsequent broadcasts include it.
// After Shutdown the connection is closed instead, so its transport releases it at once.
func (h *Hub) Register(conn Connector) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		h.logger.Debug("REGISTER_AFTER_SHUTDOWN", "conn_id", conn.GetID())
		return
	}
	_, existed := h.conns[conn.GetID()]
	h.conns[conn.GetID()] = conn
	h.mu.Unlock()

	if !existed {
		h.instruments.connections.Add(context.Background(), 1)
	}
}

// Unregister removes conn. Removing an absent connection is a no-op.
func (h *Hub) Unregister(conn Connector) {
	h.mu.Lock()
	_, ok := h.conns[conn.GetID()]
	delete(h.conns, conn.GetID())
	h.mu.Unlock()

	if ok {
		h.instruments.connections.Add(context.Background(), -1)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []Connector {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]Connector, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends ev to every connection that is open at send time.
// It never fails as a whole: per-connection errors are returned in the Report.
func (h *Hub) Broadcast(ev *model.ChangeEvent) Report {
	var report Report

	frame, err := ev.Encode()
	if err != nil {
		h.logger.Error("BROADCAST_ENCODE_FAILED", "kind", ev.Kind, "err", err)
		return report
	}

	for _, conn := range h.snapshot() {
		// [STATE_GATE] close and broadcast race; anything not open is skipped, not queued.
		if conn.State() != StateOpen {
			report.Skipped++
			continue
		}
		if err := conn.Send(frame); err != nil {
			report.Failures = append(report.Failures, SendFailure{ConnID: conn.GetID(), Err: err})
			continue
		}
		report.Delivered++
	}

	h.record(ev, report)
	return report
}

func (h *Hub) record(ev *model.ChangeEvent, report Report) {
	h.broadcasts.Add(1)
	h.deliveries.Add(uint64(report.Delivered))
	h.sendFailures.Add(uint64(len(report.Failures)))
	h.lastEvent.Store(&lastEvent{kind: ev.Kind, at: time.Now()})

	h.instruments.recordBroadcast(ev.Kind, report)

	for _, f := range report.Failures {
		level := slog.LevelWarn
		if errors.Is(f.Err, ErrConnNotOpen) {
			// lost the close race; the transport is already unregistering it
			level = slog.LevelDebug
		}
		h.logger.Log(context.Background(), level, "BROADCAST_SEND_FAILED",
			"conn_id", f.ConnID, "kind", ev.Kind, "err", f.Err)
	}

	h.logger.Debug("BROADCAST_FANOUT",
		"kind", ev.Kind,
		"items", ev.Payload.Len(),
		"delivered", report.Delivered,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
	)
}

func (h *Hub) Stats() model.HubStats {
	conns := h.snapshot()
	open := 0
	for _, c := range conns {
		if c.State() == StateOpen {
			open++
		}
	}

	stats := model.HubStats{
		Connections:     len(conns),
		OpenConnections: open,
		Broadcasts:      h.broadcasts.Load(),
		Deliveries:      h.deliveries.Load(),
		SendFailures:    h.sendFailures.Load(),
		StartedAt:       h.startedAt,
		Uptime:          time.Since(h.startedAt).Truncate(time.Second).String(),
	}
	if last := h.lastEvent.Load(); last != nil {
		stats.LastEventKind = last.kind
		stats.LastEventAt = last.at
	}
	return stats
}

// Shutdown closes every registered connection. Transports observe Done and unregister themselves;
// the map is cleared here as well so nothing lingers if a transport is already gone.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		conns := h.snapshot()
		for _, c := range conns {
			c.Close()
			h.Unregister(c)
		}
		h.logger.Info("HUB_SHUTDOWN", "closed", len(conns))
	})
}
