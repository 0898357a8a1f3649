package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/change-relay/internal/domain/model"
)

func TestEventDispatcher_PublishOverGoChannel(t *testing.T) {
	ps, err := NewPubSub(Config{Driver: DriverGoChannel}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewPubSub: %v", err)
	}
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := ps.Subscriber.Subscribe(ctx, "relay.changes")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d := NewEventDispatcher(ps.Publisher, "relay.changes")
	if err := d.Publish(ctx, model.NewIDsEvent(model.KindDelete, []string{"id1"})); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		if got := string(msg.Payload); got != `{"kind":"DELETE","data":["id1"]}` {
			t.Errorf("payload = %s", got)
		}
		if got := msg.Metadata.Get(MetadataKind); got != "DELETE" {
			t.Errorf("kind metadata = %q", got)
		}
		if msg.Metadata.Get(MetadataTraceID) == "" {
			t.Error("trace id metadata missing")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestEventDispatcher_NilEvent(t *testing.T) {
	ps, err := NewPubSub(Config{Driver: DriverGoChannel}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewPubSub: %v", err)
	}
	defer ps.Close()

	if err := NewEventDispatcher(ps.Publisher, "t").Publish(context.Background(), nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestNewPubSub_Validation(t *testing.T) {
	if _, err := NewPubSub(Config{Driver: "kafka"}, watermill.NopLogger{}); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := NewPubSub(Config{Driver: DriverAMQP}, watermill.NopLogger{}); err == nil {
		t.Error("expected error for amqp without url")
	}
}
