// Package events publishes resolved assistant turns to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// TurnEvent describes one resolved command.
type TurnEvent struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Source    string    `json:"source"` // http, ws, grpc
	Command   string    `json:"command"`
	Type      string    `json:"type"`
	UserInput string    `json:"userInput"`
	Response  string    `json:"response"`
	LatencyMS int64     `json:"latencyMs"`
	At        time.Time `json:"at"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// Recorder observes publish attempts.
type Recorder interface {
	RecordKafkaPublish(err error, elapsed time.Duration)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes turn events. When Kafka is disabled it only logs them.
type Publisher struct {
	writer    messageWriter
	brokers   []string
	topic     string
	principal string
	rec       Recorder
	logger    *slog.Logger
}

// New creates a publisher. rec may be nil.
func New(cfg Config, rec Recorder, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		brokers:   cfg.Brokers,
		topic:     cfg.Topic,
		principal: cfg.Principal,
		rec:       rec,
		logger:    logger.With("component", "events"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	p.logger.Info("Kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic, "principal", cfg.Principal)
	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// Publish writes ev keyed by user ID, so one user's turns stay ordered on a partition.
func (p *Publisher) Publish(ctx context.Context, ev TurnEvent) error {
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}

	p.logger.Debug("Publishing turn event", "topic", p.topic, "user_id", ev.UserID, "type", ev.Type)

	if p.writer == nil {
		p.record(nil, start)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("turn.resolved")},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to write to Kafka", "topic", p.topic, "user_id", ev.UserID, "error", err)
		p.record(err, start)
		return fmt.Errorf("publish turn event: %w", err)
	}

	p.record(nil, start)
	return nil
}

func (p *Publisher) record(err error, start time.Time) {
	if p.rec != nil {
		p.rec.RecordKafkaPublish(err, time.Since(start))
	}
}

// Ping checks that at least one broker accepts connections.
func (p *Publisher) Ping(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
