package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
)

// ErrTraceWriterClosed is returned when WriteStep is called after Close.
var ErrTraceWriterClosed = errors.New("jsonl trace writer is closed")

// JSONLTraceWriter writes one TraceStep per line. Safe for concurrent use.
type JSONLTraceWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	buf    *bufio.Writer
	closer io.Closer // set only when the writer owns the destination
	closed bool
}

func newJSONLTraceWriter(w io.Writer, size int, closer io.Closer) *JSONLTraceWriter {
	buf := bufio.NewWriterSize(w, size)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLTraceWriter{enc: enc, buf: buf, closer: closer}
}

// NewJSONLTraceWriter wraps w. Close flushes but does not close w.
func NewJSONLTraceWriter(w io.Writer) *JSONLTraceWriter {
	return newJSONLTraceWriter(w, 64*1024, nil)
}

// NewJSONLTraceWriterFile creates (or truncates) path; "-" writes to stdout.
func NewJSONLTraceWriterFile(path string) (*JSONLTraceWriter, error) {
	if path == "-" {
		return newJSONLTraceWriter(os.Stdout, 4*1024, nil), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newJSONLTraceWriter(f, 64*1024, f), nil
}

func (w *JSONLTraceWriter) WriteStep(step *TraceStep) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrTraceWriterClosed
	}
	return w.enc.Encode(step)
}

func (w *JSONLTraceWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrTraceWriterClosed
	}
	return w.buf.Flush()
}

// Close flushes and, for file writers, closes the file. Closing twice is a no-op.
func (w *JSONLTraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.buf.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
