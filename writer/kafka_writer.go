package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	appconfig "marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

// Publisher receives normalized datasets after a pipeline run.
type Publisher interface {
	Publish(ctx context.Context, dataset string, records []models.NormalizedRecord) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// recordMessage is the JSON value of each published message.
type recordMessage struct {
	BatchID   string    `json:"batch_id"`
	Dataset   string    `json:"dataset"`
	Published time.Time `json:"published_at"`
	models.NormalizedRecord
}

type KafkaWriter struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := &KafkaWriter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:    cfg.Storage.Kafka.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic: cfg.Storage.Kafka.Topic,
		log:   logger.GetLogger(),
	}
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

// Publish sends one message per record, keyed by asset code, all sharing a
// fresh batch id.
func (kw *KafkaWriter) Publish(ctx context.Context, dataset string, records []models.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	batchID := uuid.New().String()
	now := time.Now().UTC()

	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(recordMessage{
			BatchID:          batchID,
			Dataset:          dataset,
			Published:        now,
			NormalizedRecord: r,
		})
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r.Asset), Value: data})
	}

	if err := kw.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(msgs), kw.topic, err)
	}
	logger.RecordRowsPublished(len(msgs))
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"batch_id": batchID,
		"dataset":  dataset,
		"records":  len(msgs),
	}).Debug("batch written to kafka")
	return nil
}

func (kw *KafkaWriter) Close() error {
	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	return kw.writer.Close()
}
