package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the relay transport.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
	Close() error
}

// KafkaConfig describes a broker-relayed link: each device writes to the topic the
// other one reads.
type KafkaConfig struct {
	Brokers       []string
	OutboundTopic string
	InboundTopic  string
	GroupID       string
	DeviceID      string
}

// KafkaTransport relays peer messages through Kafka topics.
type KafkaTransport struct {
	cfg    KafkaConfig
	writer messageWriter
	reader Reader
	logger *log.Logger
}

// NewKafkaTransport dials nothing up front; writers are created lazily per topic and
// the reader joins cfg.GroupID on the inbound topic.
func NewKafkaTransport(cfg KafkaConfig, logger *log.Logger) *KafkaTransport {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.InboundTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newKafkaTransport(cfg, newTopicWriter(cfg.Brokers), reader, logger)
}

func newKafkaTransport(cfg KafkaConfig, writer messageWriter, reader Reader, logger *log.Logger) *KafkaTransport {
	if logger == nil {
		logger = log.New(log.Writer(), "[peer-kafka] ", log.LstdFlags|log.Lshortfile)
	}
	return &KafkaTransport{cfg: cfg, writer: writer, reader: reader, logger: logger}
}

// Send implements Transport.
func (t *KafkaTransport) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	record := kafka.Message{
		Key:   []byte(msg.ID),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "message_type", Value: []byte(msg.Type)},
			{Key: "device_id", Value: []byte(t.cfg.DeviceID)},
		},
	}
	if err := t.writer.WriteMessages(ctx, t.cfg.OutboundTopic, record); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Receive implements Transport. Records that cannot be decoded are committed and
// skipped so they do not block the partition.
func (t *KafkaTransport) Receive(ctx context.Context) (Delivery, error) {
	for {
		record, err := t.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Delivery{}, err
			}
			if errors.Is(err, io.EOF) {
				return Delivery{}, ErrClosed
			}
			return Delivery{}, fmt.Errorf("fetch: %w", err)
		}

		msg, decodeErr := decodeRecord(record)
		if decodeErr != nil {
			t.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", record.Topic, record.Partition, record.Offset, decodeErr)
			recordDecodeError(record.Topic)
			if commitErr := t.reader.CommitMessages(ctx, record); commitErr != nil {
				t.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		return Delivery{
			Message: msg,
			ack: func(ctx context.Context) error {
				return t.reader.CommitMessages(ctx, record)
			},
		}, nil
	}
}

// Probe implements Prober by opening and closing a connection to the first
// reachable broker.
func (t *KafkaTransport) Probe(ctx context.Context) error {
	var errs error
	for _, broker := range t.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		conn.Close()
		return nil
	}
	if errs == nil {
		errs = errors.New("no brokers configured")
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, errs)
}

// Close releases the reader and every writer.
func (t *KafkaTransport) Close() error {
	return errors.Join(t.reader.Close(), t.writer.Close())
}

func decodeRecord(record kafka.Message) (Message, error) {
	typ, ok := headerValue(record, "message_type")
	if !ok {
		return Message{}, errors.New("missing message_type header")
	}
	var msg Message
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if string(msg.Type) != string(typ) {
		return Message{}, fmt.Errorf("header type %q does not match envelope type %q", typ, msg.Type)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = record.Time
	}
	return msg, nil
}

func headerValue(record kafka.Message, key string) ([]byte, bool) {
	for _, header := range record.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

// topicWriter lazily manages writers per topic.
type topicWriter struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func newTopicWriter(brokers []string) *topicWriter {
	return &topicWriter{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

func (w *topicWriter) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return w.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (w *topicWriter) writerForTopic(topic string) *kafka.Writer {
	w.mu.Lock()
	defer w.mu.Unlock()

	if writer, ok := w.writers[topic]; ok {
		return writer
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(w.brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
	w.writers[topic] = writer
	return writer
}

func (w *topicWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs error
	for topic, writer := range w.writers {
		errs = errors.Join(errs, writer.Close())
		delete(w.writers, topic)
	}
	return errs
}
