package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/kafka-go"

	"cartsync/internal/kafkapub"
)

// Kind names a session transition.
type Kind string

const (
	KindSignIn    Kind = "sign_in"
	KindSignOut   Kind = "sign_out"
	KindCheckout  Kind = "checkout"
	KindReset     Kind = "reset"
	KindMutation  Kind = "cart_mutation"
	KindOrders    Kind = "orders_fetched"
	KindOrderStep Kind = "order_advanced"
	KindDiscarded Kind = "response_discarded"
)

// Event is one journal entry. Identity is empty for anonymous scope.
type Event struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	Kind          Kind   `json:"kind"`
	Identity      string `json:"identity,omitempty"`
	Lines         int    `json:"lines"`
	TotalQuantity int    `json:"totalQuantity"`
	TotalPrice    string `json:"totalPrice"`
	Detail        string `json:"detail,omitempty"`
	TS            int64  `json:"ts"`
}

type Writer interface {
	Append(e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(Event) error { return nil }

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(e Event) error {
	for _, w := range m.writers {
		if err := w.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// FileWriter appends JSON lines to a file.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(&e); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// KafkaWriter publishes events to a Kafka topic keyed by identity, so one
// user's transitions stay ordered within a partition.
type KafkaWriter struct {
	p *kafkapub.Producer
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{p: kafkapub.New(bootstrap, topic, kafka.RequireOne)}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkapub.MessageWriter) *KafkaWriter {
	return &KafkaWriter{p: kafkapub.With(w)}
}

func (k *KafkaWriter) Append(e Event) error {
	key := e.Identity
	if key == "" {
		key = "anonymous"
	}
	return k.p.Publish(context.Background(), key, &e)
}

func (k *KafkaWriter) Close() error { return k.p.Close() }
