/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package outbox transfers templated messages between processes over Kafka.
// Messages are serialized without their cached template state and rebound to
// a local template store on the consuming side before sending.
package outbox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/mailtmpl/mailtmpl/pkg/config"
	"github.com/mailtmpl/mailtmpl/pkg/mail"
	"github.com/mailtmpl/mailtmpl/pkg/metrics"
	"github.com/mailtmpl/mailtmpl/pkg/templates"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Publisher serializes messages and writes them to the outbox topic.
type Publisher struct {
	writer messageWriter
	topic  string
	log    *zap.SugaredLogger
}

// NewPublisher creates a Kafka-backed publisher from the outbox configuration.
func NewPublisher(cfg config.Outbox, log *zap.SugaredLogger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	transport := &kafka.Transport{}
	if cfg.TLS.Enabled {
		transport.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // Configurable for testing
		}
	}
	if cfg.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
	}
	writer.Transport = transport

	log.Infow("Outbox publisher created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"tlsEnabled", cfg.TLS.Enabled,
		"saslEnabled", cfg.SASL.Mechanism != "")

	return &Publisher{
		writer: writer,
		topic:  cfg.Topic,
		log:    log.Named("outbox-publisher"),
	}, nil
}

// Publish serializes a message (cached template state excluded) and writes
// it to the outbox topic.
func (p *Publisher) Publish(ctx context.Context, msg *mail.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		metrics.OutboxPublishFailure.WithLabelValues(p.topic).Inc()
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	km := kafka.Message{
		Key:   []byte(uuid.NewString()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "template", Value: []byte(msg.TemplateName)},
		},
	}

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		metrics.OutboxPublishFailure.WithLabelValues(p.topic).Inc()
		p.log.Errorw("Failed to publish message to outbox",
			"error", err,
			"template", msg.TemplateName)
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}

	metrics.OutboxPublished.WithLabelValues(p.topic).Inc()
	p.log.Debugw("Message published to outbox", "template", msg.TemplateName)
	return nil
}

// Close closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads serialized messages from the outbox topic, rebinds them to
// a local template store and dispatches them to a sender.
type Consumer struct {
	reader messageReader
	topic  string
	store  *templates.Store
	sender mail.Sender
	log    *zap.SugaredLogger
}

// NewConsumer creates a Kafka-backed consumer from the outbox configuration.
func NewConsumer(cfg config.Outbox, store *templates.Store, sender mail.Sender, log *zap.SugaredLogger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "mailtmpl-outbox"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: groupID,
	})

	log.Infow("Outbox consumer created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"groupID", groupID)

	return &Consumer{
		reader: reader,
		topic:  cfg.Topic,
		store:  store,
		sender: sender,
		log:    log.Named("outbox-consumer"),
	}, nil
}

// Run consumes messages until the context is cancelled. Messages that cannot
// be decoded, rebound or sent are counted and logged, then skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		km, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("reading from outbox: %w", err)
		}

		if err := c.dispatch(ctx, km.Value); err != nil {
			metrics.OutboxConsumeFailure.WithLabelValues(c.topic).Inc()
			c.log.Errorw("Failed to dispatch outbox message",
				"error", err,
				"offset", km.Offset)
			continue
		}
		metrics.OutboxConsumed.WithLabelValues(c.topic).Inc()
	}
}

// dispatch decodes a serialized message, rebuilds its template state from
// the local store and sends it through the send gate.
func (c *Consumer) dispatch(ctx context.Context, value []byte) error {
	var msg mail.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if err := msg.Rebind(c.store); err != nil {
		return fmt.Errorf("rebinding message: %w", err)
	}
	if _, err := msg.Send(ctx, c.sender); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// buildSASLMechanism creates a SASL mechanism from the outbox configuration.
func buildSASLMechanism(cfg config.OutboxSASL) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
