package model

import "time"

type HubStats struct {
	Connections     int       `json:"connections"`
	OpenConnections int       `json:"open_connections"`
	Broadcasts      uint64    `json:"broadcasts"`
	Deliveries      uint64    `json:"deliveries"`
	SendFailures    uint64    `json:"send_failures"`
	LastEventKind   Kind      `json:"last_event_kind,omitempty"`
	LastEventAt     time.Time `json:"last_event_at,omitzero"`
	StartedAt       time.Time `json:"started_at"`
	Uptime          string    `json:"uptime"`
}
