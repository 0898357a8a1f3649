package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// Event is a change event as pushed by the relay. The client treats it as a hint only.
type Event struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type SubscriberOptions struct {
	// OnEvent runs for every pushed event, on the read goroutine.
	OnEvent func(Event)
	// OnReconnect runs after a connection was re-established (not after the first one).
	OnReconnect func()
	// OnState reports connectivity changes.
	OnState func(connected bool)

	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Subscriber holds a websocket to the relay open, redialling with exponential backoff.
type Subscriber struct {
	url    string
	opts   SubscriberOptions
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewSubscriber(url string, opts SubscriberOptions) *Subscriber {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Subscriber{
		url:    url,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger: opts.Logger.With("component", "subscriber"),
	}
}

// Run blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.MinBackoff
	b.MaxInterval = s.opts.MaxBackoff

	connectedBefore := false
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err == nil {
			b.Reset()
			s.setState(true)
			if connectedBefore && s.opts.OnReconnect != nil {
				s.opts.OnReconnect()
			}
			connectedBefore = true

			err = s.consume(ctx, conn)
			s.setState(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		s.logger.Debug("SUBSCRIBER_REDIAL", "url", s.url, "in", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Subscriber) setState(connected bool) {
	if s.opts.OnState != nil {
		s.opts.OnState(connected)
	}
}

func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		// pings from the relay are answered by the default handler while reading
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.logger.Info("SUBSCRIBER_CLOSED", "code", closeErr.Code, "text", closeErr.Text)
			}
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("SUBSCRIBER_BAD_FRAME", "err", err, "bytes", len(data))
			continue
		}
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(ev)
		}
	}
}
