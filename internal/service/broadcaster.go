package service

import (
	"context"
	"log/slog"

	"github.com/webitel/change-relay/infra/server/httpsrv"
	"github.com/webitel/change-relay/internal/adapter/pubsub"
	"github.com/webitel/change-relay/internal/domain/model"
	"github.com/webitel/change-relay/internal/domain/registry"
)

// HubBroadcaster fans out on this node only. Hub.Broadcast just enqueues into connection
// mailboxes, so the call returns without waiting for any network write.
type HubBroadcaster struct {
	hub registry.Hubber
}

func NewHubBroadcaster(hub registry.Hubber) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

func (b *HubBroadcaster) Broadcast(_ context.Context, ev *model.ChangeEvent) error {
	b.hub.Broadcast(ev)
	return nil
}

// BusBroadcaster publishes to the message bus; every node's bus router then fans out locally.
type BusBroadcaster struct {
	dispatcher pubsub.EventDispatcher
}

func NewBusBroadcaster(d pubsub.EventDispatcher) *BusBroadcaster {
	return &BusBroadcaster{dispatcher: d}
}

func (b *BusBroadcaster) Broadcast(ctx context.Context, ev *model.ChangeEvent) error {
	return b.dispatcher.Publish(ctx, ev)
}

// IngressMiddleware implements [DECORATOR_PATTERN] to add observability
// to submissions without touching validation logic.
type IngressMiddleware struct {
	Next   Ingester
	Logger *slog.Logger
}

func (m *IngressMiddleware) Submit(ctx context.Context, raw []byte) (Result, error) {
	res, err := m.Next.Submit(ctx, raw)

	l := m.Logger
	if caller, ok := httpsrv.CallerFromContext(ctx); ok {
		l = l.With("caller", caller)
	}

	switch {
	case err != nil:
		l.Error("INGRESS_SUBMIT_FAILED", "err", err, "bytes", len(raw))
	case !res.Accepted:
		l.Info("INGRESS_REJECTED", "reason", res.Error, "bytes", len(raw))
	default:
		l.Debug("INGRESS_ACCEPTED",
			"kind", res.Event.Kind,
			"items", res.Event.Payload.Len(),
		)
	}

	return res, err
}
