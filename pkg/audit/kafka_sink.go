package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// KafkaSinkConfig configures a KafkaSink
type KafkaSinkConfig struct {
	Brokers []string
	Topic   string

	// TLS enables TLS with the system roots
	TLS bool

	// SASL mechanism: "PLAIN", "SCRAM-SHA-256" or "SCRAM-SHA-512"
	SASLMechanism string
	Username      string
	Password      string

	BatchSize    int           // default 100
	BatchTimeout time.Duration // default 1s
	WriteTimeout time.Duration // default 10s

	// RequiredAcks: -1 all replicas, 1 leader only. Default -1.
	RequiredAcks int

	// Compression: "none", "gzip", "snappy", "lz4" or "zstd". Default snappy.
	Compression string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per entry, keyed by entity and primary key
// so every change to a row lands on the same partition
type KafkaSink struct {
	writer messageWriter
	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a Kafka sink
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	transport := &kafka.Transport{}
	if cfg.TLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SASLMechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASLMechanism, cfg.Username, cfg.Password)
		if err != nil {
			return nil, err
		}
		transport.SASL = mechanism
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = -1
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequiredAcks(requiredAcks),
		Compression:            compression,
		Transport:              transport,
		AllowAutoTopicCreation: false,
	}
	return newKafkaSink(writer), nil
}

func newKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func parseCompression(codec string) (kafka.Compression, error) {
	switch codec {
	case "snappy", "":
		return kafka.Snappy, nil
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported kafka compression: %s", codec)
	}
}

func buildSASLMechanism(mechanism, username, password string) (sasl.Mechanism, error) {
	switch mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: username, Password: password}, nil
	case "SCRAM-SHA-256":
		m, err := scram.Mechanism(scram.SHA256, username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-256 mechanism: %w", err)
		}
		return m, nil
	case "SCRAM-SHA-512":
		m, err := scram.Mechanism(scram.SHA512, username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-512 mechanism: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", mechanism)
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Mode() DeliveryMode { return Detached }

func entryMessage(e *Entry) (kafka.Message, error) {
	value, err := e.ToJSON()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal audit entry %s: %w", e.ID, err)
	}

	headers := []kafka.Header{
		{Key: "commit-id", Value: []byte(e.CommitID)},
		{Key: "entity", Value: []byte(e.ShortName)},
		{Key: "state", Value: []byte(e.State)},
		{Key: "timestamp", Value: []byte(e.Timestamp.Format(time.RFC3339Nano))},
	}
	if e.Actor != "" {
		headers = append(headers, kafka.Header{Key: "actor", Value: []byte(e.Actor)})
	}
	if e.TraceID != "" {
		headers = append(headers, kafka.Header{Key: "trace-id", Value: []byte(e.TraceID)})
	}

	return kafka.Message{
		Key:     []byte(e.ShortName + ":" + e.PrimaryKey()),
		Value:   value,
		Headers: headers,
	}, nil
}

// Deliver writes the batch in one WriteMessages call
func (s *KafkaSink) Deliver(ctx context.Context, entries []*Entry) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	if len(entries) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := entryMessage(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
