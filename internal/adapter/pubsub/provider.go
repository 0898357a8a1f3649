package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	DriverNone      = "none"
	DriverGoChannel = "gochannel"
	DriverAMQP      = "amqp"
)

// Config selects and addresses the bus.
type Config struct {
	Driver string
	URL    string
	Topic  string
	// NodeID suffixes the per-node AMQP queue so every relay node receives every event.
	NodeID string
}

// PubSub bundles both sides of one bus connection.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

func (p *PubSub) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewPubSub builds the bus for cfg.Driver.
func NewPubSub(cfg Config, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch cfg.Driver {
	case DriverGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil

	case DriverAMQP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("bus: amqp driver requires a url")
		}
		// [NON_DURABLE] events are hints; a node that is down misses them by contract.
		amqpCfg := amqp.NewNonDurablePubSubConfig(cfg.URL, amqp.GenerateQueueNameTopicNameWithSuffix(cfg.NodeID))

		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("bus: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("bus: amqp subscriber: %w", err)
		}
		return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil

	default:
		return nil, fmt.Errorf("bus: unsupported driver %q", cfg.Driver)
	}
}
