// Package record writes a session's signal to a CSV file.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// Header is the first row of every recording.
var Header = []string{"event", "value", "timestamp"}

// AnnotationKey is the event column for user annotations.
const AnnotationKey = "Annotation"

var (
	// ErrAlreadyRecording is returned by Start while a file is open.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Save when no file is open.
	ErrNotRecording = errors.New("not recording")
)

// Emitter receives the recorder's status events.
type Emitter interface {
	Publish(e *types.Event) error
}

// Recorder appends one row per recorded event to a CSV file. At most one
// file is open at a time. Safe for concurrent use.
type Recorder struct {
	emit    Emitter
	logger  *log.Logger
	metrics *metrics.Collector

	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	rows int64
}

// NewRecorder creates an idle recorder. Any argument may be nil.
func NewRecorder(emit Emitter, logger *log.Logger, collector *metrics.Collector) *Recorder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Recorder{emit: emit, logger: logger, metrics: collector}
}

// DefaultFileName returns the suggested file name for a recording
// started at t.
func DefaultFileName(t time.Time) string {
	return "OpenHRV_" + t.Format("2006-01-02-15-04") + ".csv"
}

// Start opens path and writes the header. The file must not exist.
// Status events are published outside the lock.
func (r *Recorder) Start(path string) error {
	msg, err := r.start(path)
	r.status(msg)
	return err
}

func (r *Recorder) start(path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return fmt.Sprintf("Already writing to a file at %s.", r.file.Name()), ErrAlreadyRecording
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "File path is invalid or exists already.", fmt.Errorf("failed to create recording: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return fmt.Sprintf("Couldn't write to %s.", path), fmt.Errorf("failed to write header: %w", err)
	}

	r.file = f
	r.w = w
	r.rows = 0
	return fmt.Sprintf("Started recording to %s.", f.Name()), nil
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

// Write appends a row for e. Status, connection state and events without
// a value are ignored, as is everything while no file is open.
func (r *Recorder) Write(e *types.Event) {
	key, value, ok := row(e)
	if !ok {
		return
	}
	r.writeRow(key, value, e.Ts)
}

// Annotate appends a free-text annotation row.
func (r *Recorder) Annotate(text string, ts time.Time) {
	r.writeRow(AnnotationKey, text, ts)
}

func (r *Recorder) writeRow(key, value string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	if err := r.w.Write([]string{key, value, ts.Format(time.RFC3339Nano)}); err != nil {
		r.metrics.IncRecordErrors()
		r.logger.Warn("failed to write recording row", map[string]any{
			"error": err.Error(),
			"path":  r.file.Name(),
		})
		return
	}
	r.rows++
}

// Save flushes and closes the open file and returns its path.
func (r *Recorder) Save() (string, error) {
	r.mu.Lock()
	if r.file == nil {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	path := r.file.Name()
	rows := r.rows
	r.w.Flush()
	flushErr := r.w.Error()
	closeErr := r.file.Close()
	r.file = nil
	r.w = nil
	r.mu.Unlock()

	if err := errors.Join(flushErr, closeErr); err != nil {
		r.metrics.IncRecordErrors()
		r.status(fmt.Sprintf("Couldn't save recording at %s.", path))
		return path, fmt.Errorf("failed to save recording: %w", err)
	}
	r.logger.Info("recording saved", map[string]any{"path": path, "rows": rows})
	r.status(fmt.Sprintf("Saved recording at %s.", path))
	return path, nil
}

// row maps an event to its CSV key and value.
func row(e *types.Event) (key, value string, ok bool) {
	switch e.Type {
	case types.EventTypeStatus, types.EventTypeConnectionState:
		return "", "", false
	case types.EventTypeSensors:
		if len(e.Items) == 0 {
			return "", "", false
		}
		return string(e.Series), e.Items[len(e.Items)-1], true
	}
	if e.Values != nil && len(e.Values) == 0 {
		return "", "", false
	}
	return string(e.Series), strconv.FormatFloat(e.Value, 'f', -1, 64), true
}

func (r *Recorder) status(message string) {
	r.logger.Info(message, nil)
	if r.emit == nil {
		return
	}
	_ = r.emit.Publish(types.NewStatus(time.Now(), message))
}
