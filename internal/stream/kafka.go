package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/honeypulse/honeypulse/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaPublisher writes events to a topic, one message per event keyed by event ID.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher connects a writer to brokers for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.LeastBytes{},
		},
	}
}

// Publish implements replay.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e models.Event) error {
	msg, err := encodeMessage(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending writes and disconnects.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeMessage(e models.Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.ID),
		Value: data,
		Time:  e.Timestamp,
	}, nil
}

// KafkaConsumer reads events as a member of a consumer group. Offsets are
// committed as each message is read.
type KafkaConsumer struct {
	reader messageReader
	logger *slog.Logger
}

// KafkaConsumerConfig configures a KafkaConsumer.
type KafkaConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	FromBeginning bool
}

// NewKafkaConsumer joins the consumer group described by cfg.
func NewKafkaConsumer(logger *slog.Logger, cfg KafkaConsumerConfig) *KafkaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			StartOffset: start,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
		}),
		logger: logger,
	}
}

// Run implements Source. It returns nil once ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := decodeMessage(msg)
		if err != nil {
			c.logger.Warn("skipping undecodable message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err),
			)
			continue
		}
		handle(ctx, event)
	}
}

// Close leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func decodeMessage(msg kafka.Message) (models.Event, error) {
	var e models.Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return models.Event{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = msg.Time
	}
	if e.ID == "" && len(msg.Key) > 0 {
		e.ID = string(msg.Key)
	}
	return e, nil
}
