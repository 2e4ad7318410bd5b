package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type kafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher builds a producer whose messages are partitioned by key,
// so per-campaign ordering survives the trip through the broker.
func NewKafkaPublisher(brokers []string, l *zap.Logger) (Publisher, error) {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
		Logger:   zap.NewStdLog(l.With(zap.String("kafka_component", "producer"))),
	}

	l.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return &kafkaPublisher{writer: writer, logger: l}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message to Kafka topic",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("Published message to topic", zap.String("topic", topic), zap.String("key", key))
	return nil
}

func (p *kafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka producer", zap.Error(err))
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka producer closed.")
	return nil
}

// StartConsumer runs a consumer-group fetch loop for one topic. The offset is
// committed only after the handler returns nil; a handler error leaves the
// message uncommitted so the group redelivers it. Fatal broker errors stop
// the process rather than spin.
func StartConsumer(ctx context.Context, brokers []string, topic, groupID string, handler Handler, l *zap.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		Logger:   zap.NewStdLog(l.With(zap.String("kafka_component", "consumer"))),
	})

	l.Info("Kafka consumer started",
		zap.String("topic", topic),
		zap.String("group_id", groupID),
		zap.Strings("brokers", brokers))

	go func() {
		defer reader.Close()
		for {
			fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			m, err := reader.FetchMessage(fetchCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					l.Info("Kafka consumer stopping", zap.String("topic", topic))
					return
				}
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				l.Error("Error fetching message from Kafka", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			msg := Message{
				Topic:     m.Topic,
				Key:       string(m.Key),
				Payload:   m.Value,
				Partition: m.Partition,
				Offset:    m.Offset,
			}
			if err := handler(ctx, msg); err != nil {
				l.Error("Error handling Kafka message, leaving uncommitted for redelivery",
					zap.String("topic", m.Topic),
					zap.Int("partition", m.Partition),
					zap.Int64("offset", m.Offset),
					zap.Error(err))
				continue
			}

			if err := reader.CommitMessages(ctx, m); err != nil {
				l.Error("Failed to commit offset for message",
					zap.String("topic", m.Topic),
					zap.Int("partition", m.Partition),
					zap.Int64("offset", m.Offset),
					zap.Error(err))
			}
		}
	}()
	return nil
}
