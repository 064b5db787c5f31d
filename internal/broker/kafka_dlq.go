package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/segmentio/kafka-go"
)

// KafkaDLQClient sends URLs that could not be crawled to the dead-letter
// topic. Write failures are logged; the crawl goes on.
type KafkaDLQClient struct {
	kafkaWriter *kafka.Writer
	serviceName string
}

type dlqMessage struct {
	URL         string `json:"url"`
	Error       string `json:"error"`
	ServiceName string `json:"service_name"`
	Timestamp   string `json:"timestamp"`
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	kafkaWriter := kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.DeadLetterTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaDLQClient{
		kafkaWriter: &kafkaWriter,
		serviceName: serviceName,
	}
}

func (d *KafkaDLQClient) SendUrlToDLQ(url string, cause error) {
	msg := dlqMessage{
		URL:         url,
		ServiceName: d.serviceName,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal dlq message.", slog.String("err", err.Error()))
		return
	}

	err = d.kafkaWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(url),
		Value: body,
	})
	if err != nil {
		slog.Error("failed to send url to dlq.", slog.String("url", url),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("url sent to dlq.", slog.String("url", url))
}

func (d *KafkaDLQClient) Close() {
	err := d.kafkaWriter.Close()
	if err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
