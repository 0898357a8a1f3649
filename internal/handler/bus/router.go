package bus

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/service/dto"
)

const HandlerName = "ON_CHANGE_EVENT"

// ChangeHandler moves bus messages into the local hub.
type ChangeHandler struct {
	hub    registry.Hubber
	logger *slog.Logger
}

func NewChangeHandler(hub registry.Hubber, logger *slog.Logger) *ChangeHandler {
	return &ChangeHandler{hub: hub, logger: logger.With("component", "bus")}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
}

// Handle decodes one message and fans it out on this node.
func (h *ChangeHandler) Handle(msg *message.Message) (err error) {
	// [PANIC_RECOVERY]
	// Safely handle runtime panics to keep the consumer alive.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("PANIC_RECOVERED",
				"err", r,
				"stack", string(debug.Stack()),
				"msg_id", msg.UUID)
			err = nil
		}
	}()

	ev, decodeErr := dto.DecodeChangeEvent(msg.Payload)
	if decodeErr != nil {
		h.logger.Error("DECODE_FAILED", "err", decodeErr, "msg_id", msg.UUID)
		return nil // ACK: Poison Pill protection.
	}

	// [FAN_OUT_DISPATCH] local delivery only; every node consumes its own copy.
	h.hub.Broadcast(ev)
	return nil
}

// [REGISTRATION_PIPELINE]
func (h *ChangeHandler) Register(router *message.Router, sub message.Subscriber, topic string) {
	router.AddConsumerHandler(HandlerName, topic, sub, h.Handle).AddMiddleware(
		TraceIDMiddleware,
		LoggingMiddleware(h.logger),
		middleware.Recoverer,
		middleware.Timeout(10*time.Second),
	)

	h.logger.Info("BUS_PIPELINE_READY", "topic", topic)
}

func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("bus: topic must not be empty")
	}
	return nil
}
