package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PersistentPublisher wraps another publisher and appends every event to
// a JSONL log file. Log writes are best effort: a failed append is
// logged and dropped rather than failing the operation that produced
// the event.
type PersistentPublisher struct {
	inner  Publisher
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewPersistentPublisher creates a publisher that mirrors events to the
// JSONL file at path.
func NewPersistentPublisher(inner Publisher, path string, logger *slog.Logger) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentPublisher{inner: inner, path: path, logger: logger}
}

// Publish appends the event to the log file and forwards it.
func (p *PersistentPublisher) Publish(event Event) {
	if err := p.append(event); err != nil {
		p.logger.Warn("event log append failed", "error", err)
	}
	p.inner.Publish(event)
}

func (p *PersistentPublisher) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// Subscribe forwards to the inner publisher.
func (p *PersistentPublisher) Subscribe(workflowID string) <-chan Event {
	return p.inner.Subscribe(workflowID)
}

// Unsubscribe forwards to the inner publisher.
func (p *PersistentPublisher) Unsubscribe(workflowID string, ch <-chan Event) {
	p.inner.Unsubscribe(workflowID, ch)
}

// Close forwards to the inner publisher.
func (p *PersistentPublisher) Close() {
	p.inner.Close()
}

// ReadLog loads all events from a JSONL log file. Unknown fields are
// tolerated; blank lines are skipped. A missing file yields no events.
func ReadLog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse event log line: %w", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return out, nil
}
