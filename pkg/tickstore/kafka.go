package tickstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink journals ticks to a topic keyed by symbol. Keying by symbol keeps
// every symbol on one partition, so the processor sees provider order.
type KafkaSink struct {
	writer KafkaWriter
}

func NewKafkaSink(writer KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// NewKafkaWriter returns the production writer for the tick topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

func (k *KafkaSink) Set(ctx context.Context, tick models.Tick) error {
	symbol := models.CanonicalSymbol(tick.Symbol)
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("encode tick %s: %w", symbol, err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(symbol), Value: payload}); err != nil {
		return fmt.Errorf("write tick %s: %w", symbol, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
