package service

import (
	"github.com/webitel/change-relay/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/long-poll)
type Deliverer interface {
	Subscribe(meta registry.ConnectMetadata) registry.Connector
	Unsubscribe(conn registry.Connector)
}

type DeliveryService struct {
	hub        registry.Hubber
	bufferSize int
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(hub registry.Hubber, cfg DeliveryConfig) *DeliveryService {
	size := cfg.SendBuffer
	if size <= 0 {
		size = registry.DefaultSendBuffer
	}
	return &DeliveryService{
		hub:        hub,
		bufferSize: size,
	}
}

// DeliveryConfig carries the per-connection mailbox size.
type DeliveryConfig struct {
	SendBuffer int
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(meta registry.ConnectMetadata) registry.Connector {
	// 1. Create a connector with its own mailbox
	conn := registry.NewConnector(meta, s.bufferSize)

	// 2. Make it visible to the next fan-out
	s.hub.Register(conn)

	return conn
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP
// Order matters: the connection leaves the registry first, then pending sends are cancelled.
func (s *DeliveryService) Unsubscribe(conn registry.Connector) {
	s.hub.Unregister(conn)
	conn.Close()
}
