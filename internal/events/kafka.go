package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter configures the producer for the order-created topic. Hash
// balancing keys by order id so one order's events stay on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}

// KafkaPublisher adapts a kafka.Writer to the Publisher interface.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

// KafkaSource adapts a kafka.Reader: offsets are committed explicitly, only
// after the index applied the delivery.
type KafkaSource struct {
	r *kafka.Reader
}

func NewKafkaSource(r *kafka.Reader) *KafkaSource {
	return &KafkaSource{r: r}
}

func (s *KafkaSource) Fetch(ctx context.Context) (Delivery, error) {
	m, err := s.r.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Key: string(m.Key), Value: m.Value, Meta: m}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, d Delivery) error {
	m, ok := d.Meta.(kafka.Message)
	if !ok {
		return nil
	}
	return s.r.CommitMessages(ctx, m)
}
