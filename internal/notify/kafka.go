package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/result"
)

// completionEvent is the compact payload published when a run finishes.
type completionEvent struct {
	RunID      string    `json:"run_id"`
	Feature    string    `json:"feature"`
	Status     string    `json:"status"`
	PassRate   string    `json:"pass_rate"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// KafkaNotifier publishes run completions to a Kafka topic.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_0_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &KafkaNotifier{producer: producer, topic: topic}, nil
}

func (n *KafkaNotifier) RunFinished(_ context.Context, runID string, res *result.Specification) error {
	payload, err := json.Marshal(completionEvent{
		RunID:      runID,
		Feature:    res.Feature.Name,
		Status:     string(res.Status),
		PassRate:   res.Summary.PassRate,
		Total:      res.Summary.Total,
		Passed:     res.Summary.Passed,
		Failed:     res.Summary.Failed,
		FinishedAt: res.EndTime,
	})
	if err != nil {
		return fmt.Errorf("encoding completion event: %w", err)
	}

	partition, offset, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(runID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publishing completion event: %w", err)
	}
	log.Debug().
		Str("run_id", runID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("run completion published")
	return nil
}

func (n *KafkaNotifier) Close() error { return n.producer.Close() }
