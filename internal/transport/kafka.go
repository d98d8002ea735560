package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaDialer creates confluent-kafka-go producers.
type KafkaDialer struct {
	Brokers  string
	ClientID string
	// MetadataTimeout bounds the reachability check made on dial.
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// Dial creates a producer and confirms the cluster answers a metadata request.
func (d KafkaDialer) Dial(ctx context.Context) (Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": d.Brokers,
		"client.id":         d.ClientID,
		"acks":              "all",
		"retries":           3,
		"linger.ms":         5,
		"compression.type":  "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	timeout := d.MetadataTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if _, err := p.GetMetadata(nil, false, int(timeout.Milliseconds())); err != nil {
		p.Close()
		return nil, fmt.Errorf("kafka metadata: %w", err)
	}

	kp := &kafkaProducer{producer: p, logger: d.Logger}
	go kp.drainEvents()
	return kp, nil
}

type kafkaProducer struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// drainEvents consumes client-level events. Delivery reports go to the
// per-message channel, so only errors arrive here.
func (k *kafkaProducer) drainEvents() {
	for e := range k.producer.Events() {
		if err, ok := e.(kafka.Error); ok {
			k.logger.Warn("kafka client error", "code", err.Code().String(), "error", err)
		}
	}
}

// Produce sends one message and waits for its delivery report.
func (k *kafkaProducer) Produce(ctx context.Context, topic string, key, value []byte) error {
	// Buffered so a late report after ctx expiry does not block the client.
	deliveryChan := make(chan kafka.Event, 1)

	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}, deliveryChan)
	if err != nil {
		return err
	}

	select {
	case e := <-deliveryChan:
		if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
			return msg.TopicPartition.Error
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *kafkaProducer) Flush(timeout time.Duration) int {
	return k.producer.Flush(int(timeout.Milliseconds()))
}

func (k *kafkaProducer) Close() {
	k.producer.Close()
}
