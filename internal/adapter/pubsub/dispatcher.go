// internal/adapter/pubsub/dispatcher.go

package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/change-relay/internal/domain/model"
)

const (
	MetadataKind    = "kind"
	MetadataTraceID = "trace_id"
)

// EventDispatcher defines the high-level contract for events leaving this node.
// This allows the ingress to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev *model.ChangeEvent) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
	topic     string
}

func NewEventDispatcher(pub message.Publisher, topic string) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		topic:     topic,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev *model.ChangeEvent) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("event dispatcher: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataKind, ev.Kind.String())
	msg.Metadata.Set(MetadataTraceID, uuid.NewString())
	msg.SetContext(ctx)

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", d.topic, err)
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
