// Package events publishes approval workflow events through Watermill.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ayo6706/branch-transactions/internal/observability"
	"go.uber.org/zap"
)

const (
	DriverNone      = "none"
	DriverGoChannel = "gochannel"
	DriverKafka     = "kafka"
)

const (
	MetadataEventType = "event_type"
	MetadataSource    = "source"
)

var ErrNoBrokers = errors.New("kafka driver needs at least one broker")

// Publisher sends events without ever failing the caller. Publish errors are
// logged and counted; the workflow row is the record of truth.
type Publisher struct {
	pub    message.Publisher
	source string
	logger *zap.Logger
}

func NewPublisher(pub message.Publisher, source string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{pub: pub, source: source, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload any) {
	if p == nil || p.pub == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		observability.IncrementEventPublish(topic, "encode_error")
		p.logger.Error("encode event", zap.String("topic", topic), zap.Error(err))
		return
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), body)
	msg.Metadata.Set(MetadataEventType, topic)
	msg.Metadata.Set(MetadataSource, p.source)
	msg.SetContext(ctx)

	if err := p.pub.Publish(topic, msg); err != nil {
		observability.IncrementEventPublish(topic, "error")
		p.logger.Warn("publish event failed", zap.String("topic", topic), zap.String("message_id", msg.UUID), zap.Error(err))
		return
	}
	observability.IncrementEventPublish(topic, "success")
}

func (p *Publisher) Close() error {
	if p == nil || p.pub == nil {
		return nil
	}
	return p.pub.Close()
}

type Config struct {
	Driver  string
	Brokers []string
	Source  string
}

// Open builds the publisher for cfg.Driver. The gochannel driver also returns
// its subscriber side; kafka and none return a nil subscriber.
func Open(cfg Config, logger *zap.Logger) (*Publisher, message.Subscriber, error) {
	wlog := watermill.NewStdLogger(false, false)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return NewPublisher(nil, cfg.Source, logger), nil, nil
	case DriverGoChannel:
		ch := NewGoChannel(wlog)
		return NewPublisher(ch, cfg.Source, logger), ch, nil
	case DriverKafka:
		pub, err := NewKafkaPublisher(cfg.Brokers, wlog)
		if err != nil {
			return nil, nil, err
		}
		return NewPublisher(pub, cfg.Source, logger), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}

func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
}

func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (*kafka.Publisher, error) {
	var clean []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			clean = append(clean, b)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoBrokers
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               clean,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		OTELEnabled:           true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// Consume hands every message on topic to handler until ctx ends or the
// subscriber closes. A handler error nacks the message.
func Consume(ctx context.Context, sub message.Subscriber, topic string, handler func(ctx context.Context, msg *message.Message) error) error {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range messages {
			if err := handler(msg.Context(), msg); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()
	return nil
}
