package store

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaPayload is the JSON body of one published attribute
type kafkaPayload struct {
	Device    string            `json:"device"`
	Attribute string            `json:"attribute"`
	Fields    map[string]string `json:"fields"`
}

// Kafka publishes one message per device attribute keyed device|attribute so
// that a compacted topic keeps the latest state of each.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a writer for the configured topic. Connections are opened
// lazily on the first publish.
func NewKafka(cfg config.KafkaConfig, timeout time.Duration) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: timeout,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (*Kafka) Name() string {
	return string(config.BackendKafka)
}

func (k *Kafka) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	msgs, err := kafkaMessages(records)
	if err != nil {
		return err
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return errors.New().Wrap(ErrStoreClose, err)
	}
	return nil
}

func kafkaMessages(records []Record) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(records))

	for _, rec := range records {
		value, err := json.Marshal(kafkaPayload{
			Device:    rec.Device,
			Attribute: string(rec.Attribute),
			Fields:    rec.Fields(),
		})
		if err != nil {
			return nil, errors.New().Wrap(ErrEncodeFailed, err)
		}

		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Key("")),
			Value: value,
			Time:  rec.PublishedAt,
		})
	}

	return msgs, nil
}
