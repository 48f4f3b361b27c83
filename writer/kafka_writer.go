// Package writer publishes normalized market events to Kafka for downstream
// consumers.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptostream/config"
	"cryptostream/logger"
	"cryptostream/models"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the value of every published message.
type Record[T any] struct {
	Kind  models.SubKind        `json:"kind"`
	Event models.MarketEvent[T] `json:"event"`
}

type KafkaWriter struct {
	writer    messageWriter
	topic     string
	published atomic.Int64
	failed    atomic.Int64
	log       *logger.Entry
}

// NewKafkaWriter returns nil when publishing is disabled.
func NewKafkaWriter(cfg appconfig.KafkaConfig) (*KafkaWriter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	kw := &KafkaWriter{
		topic: cfg.Topic,
		log:   logger.GetLogger().WithComponent("kafka_writer"),
	}
	kw.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion:   kw.completed,
	}
	kw.log.WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newWithWriter(w messageWriter, topic string) *KafkaWriter {
	return &KafkaWriter{writer: w, topic: topic, log: logger.GetLogger().WithComponent("kafka_writer")}
}

// completed is called by the async kafka writer once a batch is flushed.
func (kw *KafkaWriter) completed(msgs []kafka.Message, err error) {
	if err != nil {
		kw.failed.Add(int64(len(msgs)))
		kw.log.WithError(err).WithField("messages", len(msgs)).Warn("failed to write messages")
		return
	}
	kw.published.Add(int64(len(msgs)))
}

// Key groups the events of one instrument on one venue into one partition,
// so a partition preserves their order.
func Key(exchange models.ExchangeID, inst models.Instrument) []byte {
	return []byte(string(exchange) + "|" + inst.String())
}

// Publish enqueues one event. It is safe to call on a nil writer.
func Publish[T any](ctx context.Context, kw *KafkaWriter, kind models.SubKind, ev models.MarketEvent[T]) error {
	if kw == nil {
		return nil
	}
	data, err := json.Marshal(Record[T]{Kind: kind, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	msg := kafka.Message{
		Key:   Key(ev.Exchange, ev.Instrument),
		Value: data,
		Time:  ev.ReceivedTime,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "exchange", Value: []byte(ev.Exchange)},
		},
	}
	if err := kw.writer.WriteMessages(ctx, msg); err != nil {
		kw.failed.Add(1)
		return fmt.Errorf("write %s event: %w", kind, err)
	}
	return nil
}

// Stats reports flushed and failed message counts.
func (kw *KafkaWriter) Stats() (published, failed int64) {
	return kw.published.Load(), kw.failed.Load()
}

func (kw *KafkaWriter) Close() error {
	if kw == nil {
		return nil
	}
	start := time.Now()
	err := kw.writer.Close()
	published, failed := kw.Stats()
	logger.LogPerformanceEntry(kw.log, "kafka_writer", "close", time.Since(start), logger.Fields{
		"topic":     kw.topic,
		"published": published,
		"failed":    failed,
	})
	return err
}
