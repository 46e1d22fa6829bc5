package tracer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	KeyTimestamp = "ts"
	KeyEvent     = "event"
)

// Fields is the free-form payload of one event record.
type Fields map[string]any

// Emitter is what workers, adapters and the scheduler record events through.
type Emitter interface {
	Emit(event string, fields Fields)
}

// Publisher receives a copy of every event line. message_broaker.MessageBroker satisfies it.
type Publisher interface {
	Publish(queue string, message []byte) error
}

// Tracer appends one flat JSON object per line to an event log file. Appends are
// serialized, so concurrent emitters never interleave partial lines.
type Tracer struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	file *os.File

	mirror      Publisher
	mirrorQueue string
}

type Option func(*Tracer)

// WithClock overrides the time source used for the ts field.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// WithMirror republishes every record to queue on pub. Mirror failures are logged and
// never affect the file log.
func WithMirror(pub Publisher, queue string) Option {
	return func(t *Tracer) {
		t.mirror = pub
		t.mirrorQueue = queue
	}
}

// New opens (creating when missing) the event log at path for appending.
func New(path string, logger *slog.Logger, opts ...Option) (*Tracer, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	t := &Tracer{
		path:   path,
		logger: logger,
		now:    time.Now,
		file:   f,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tracer) Path() string {
	return t.path
}

// Emit appends one record. ts and event are always set by the tracer; payload fields
// using those names are dropped. Write failures are logged, not returned, so auditing
// can never break the caller's control flow.
func (t *Tracer) Emit(event string, fields Fields) {
	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		if k == KeyTimestamp || k == KeyEvent {
			t.logger.Debug("dropping reserved event field", "event", event, "field", k)
			continue
		}
		record[k] = v
	}
	record[KeyTimestamp] = float64(t.now().UnixNano()) / float64(time.Second)
	record[KeyEvent] = event

	data, err := json.Marshal(record)
	if err != nil {
		t.logger.Error("marshal event", "event", event, "error", err)
		return
	}

	if err := t.append(data); err != nil {
		t.logger.Error("append event", "event", event, "path", t.path, "error", err)
	}

	if t.mirror != nil {
		if err := t.mirror.Publish(t.mirrorQueue, data); err != nil {
			t.logger.Warn("mirror event", "event", event, "queue", t.mirrorQueue, "error", err)
		}
	}
}

func (t *Tracer) append(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return os.ErrClosed
	}
	_, err := t.file.Write(append(data, '\n'))
	return err
}

func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Record is one decoded event line.
type Record map[string]any

func (r Record) Event() string {
	s, _ := r[KeyEvent].(string)
	return s
}

func (r Record) Timestamp() float64 {
	f, _ := r[KeyTimestamp].(float64)
	return f
}

// ReadEvents decodes every record of the event log at path, in append order.
func ReadEvents(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", lineNo, err)
		}
		records = append(records, record)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return records, nil
}
