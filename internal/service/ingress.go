package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/change-relay/internal/domain/model"
	"github.com/webitel/change-relay/internal/service/dto"
)

// Broadcaster accepts a validated event for delivery. Returning nil means
// "accepted for delivery", never "delivered".
type Broadcaster interface {
	Broadcast(ctx context.Context, ev *model.ChangeEvent) error
}

// Ingester validates raw change-event submissions from trusted internal callers.
type Ingester interface {
	Submit(ctx context.Context, raw []byte) (Result, error)
}

// Result is the caller-visible verdict for one submission.
type Result struct {
	Accepted bool
	Error    string
	Event    *model.ChangeEvent // set when accepted
}

type IngressService struct {
	broadcaster Broadcaster
}

func NewIngressService(b Broadcaster) *IngressService {
	return &IngressService{broadcaster: b}
}

// Submit validates raw and hands the event to the broadcaster. Validation failures are reported
// through Result and never reach the broadcaster. A non-nil error means the event was valid but
// could not be accepted (for example the bus refused it).
func (s *IngressService) Submit(ctx context.Context, raw []byte) (Result, error) {
	ev, err := dto.DecodeChangeEvent(raw)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return Result{Accepted: false, Error: verr.Error()}, nil
		}
		return Result{}, fmt.Errorf("decode change event: %w", err)
	}

	if err := s.broadcaster.Broadcast(ctx, ev); err != nil {
		return Result{}, fmt.Errorf("broadcast %s: %w", ev.Kind, err)
	}

	return Result{Accepted: true, Event: ev}, nil
}
