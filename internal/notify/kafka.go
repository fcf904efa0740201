// Package notify fans out anomaly and new-wallet events to Kafka for
// downstream alerting consumers. Config-gated and never fatal to the
// pipeline: publish failures are logged as warnings only.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// Producer lazily opens one *kafka.Writer per topic, mirroring the
// compliance service's KafkaProducer.
type Producer struct {
	enabled bool
	brokers []string
	topics  config.KafkaTopicsConfig
	writers map[string]*kafka.Writer
	logger  *zap.Logger
}

// NewProducer constructs a producer. When cfg.Enabled is false, every
// publish call becomes a no-op.
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	return &Producer{
		enabled: cfg.Enabled,
		brokers: cfg.Brokers,
		topics:  cfg.Topics,
		writers: make(map[string]*kafka.Writer),
		logger:  logger,
	}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
	p.writers[topic] = w
	return w
}

func (p *Producer) publish(ctx context.Context, topic string, key string, v any) {
	if !p.enabled {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("notify: marshal event failed", zap.Error(err), zap.String("topic", topic))
		return
	}
	msg := kafka.Message{Key: []byte(key), Value: payload, Time: time.Now()}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("notify: publish failed", zap.Error(err), zap.String("topic", topic))
	}
}

// PublishAnomalies fans out one message per anomaly record.
func (p *Producer) PublishAnomalies(ctx context.Context, anomalies []domain.AnomalyRecord) {
	for _, a := range anomalies {
		p.publish(ctx, p.topics.Anomalies, string(a.TxHash), a)
	}
}

// PublishNewWallets fans out one message per newly observed wallet.
func (p *Producer) PublishNewWallets(ctx context.Context, events []domain.NewWalletEvent) {
	for _, e := range events {
		p.publish(ctx, p.topics.NewWallets, string(e.Address), e)
	}
}

// Close releases every opened writer.
func (p *Producer) Close() {
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Warn("notify: close writer failed", zap.Error(err), zap.String("topic", topic))
		}
	}
}
