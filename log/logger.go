package log

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	gethlog "github.com/ethereum/go-ethereum/log"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

var levelNames = map[slog.Level]string{
	LevelTrace: "trace",
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelCrit:  "crit",
}

// LevelString returns the lower case name of l.
func LevelString(l slog.Level) string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "unknown"
}

// Logger writes module-tagged key/value records to a slog.Handler.
type Logger interface {
	With(kv ...any) Logger
	Trace(module, msg string, kv ...any)
	Debug(module, msg string, kv ...any)
	Info(module, msg string, kv ...any)
	Warn(module, msg string, kv ...any)
	Error(module, msg string, kv ...any)
	// Crit logs and exits the process. Only cmd/avm may call it.
	Crit(module, msg string, kv ...any)
	Write(level slog.Level, module, msg string, kv ...any)
	Enabled(ctx context.Context, level slog.Level) bool
	Handler() slog.Handler

	// RecordLogs starts keeping a copy of every record, emitted or not.
	RecordLogs()
	GetRecordedLogs() ([]byte, error)
}

type logger struct {
	inner *slog.Logger
	rec   *recorder
}

// NewLogger returns a Logger writing to h.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h), rec: &recorder{}}
}

// NewTerminalHandler returns geth's human readable handler.
func NewTerminalHandler(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return gethlog.NewTerminalHandlerWithLevel(w, lvl, useColor)
}

// NewJSONHandler returns a handler emitting one JSON object per record.
func NewJSONHandler(w io.Writer, lvl slog.Level) slog.Handler {
	return gethlog.JSONHandlerWithLevel(w, lvl)
}

func DiscardHandler() slog.Handler {
	return gethlog.DiscardHandler()
}

func (l *logger) Handler() slog.Handler { return l.inner.Handler() }

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *logger) With(kv ...any) Logger {
	return &logger{inner: l.inner.With(kv...), rec: l.rec}
}

func (l *logger) Write(level slog.Level, module, msg string, kv ...any) {
	l.rec.add(level, module, msg, kv)
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	// skip Callers, Write and the level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if module != "" {
		r.AddAttrs(slog.String("module", module))
	}
	r.Add(kv...)
	_ = l.inner.Handler().Handle(ctx, r)
}

func (l *logger) Trace(module, msg string, kv ...any) { l.Write(LevelTrace, module, msg, kv...) }
func (l *logger) Debug(module, msg string, kv ...any) { l.Write(LevelDebug, module, msg, kv...) }
func (l *logger) Info(module, msg string, kv ...any)  { l.Write(LevelInfo, module, msg, kv...) }
func (l *logger) Warn(module, msg string, kv ...any)  { l.Write(LevelWarn, module, msg, kv...) }
func (l *logger) Error(module, msg string, kv ...any) { l.Write(LevelError, module, msg, kv...) }

func (l *logger) Crit(module, msg string, kv ...any) {
	l.Write(LevelCrit, module, msg, kv...)
	os.Exit(1)
}

func (l *logger) RecordLogs()                      { l.rec.start() }
func (l *logger) GetRecordedLogs() ([]byte, error) { return l.rec.json() }

// recorder keeps records in memory so tests and the debugger can inspect
// guest LOG output.
type recorder struct {
	mu      sync.Mutex
	on      bool
	records []recordedLog
}

type recordedLog struct {
	Level   string         `json:"level"`
	Module  string         `json:"module"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (r *recorder) start() {
	r.mu.Lock()
	r.on = true
	r.records = r.records[:0]
	r.mu.Unlock()
}

func (r *recorder) add(level slog.Level, module, msg string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.on {
		return
	}
	rec := recordedLog{Level: LevelString(level), Module: module, Message: msg}
	if len(kv) > 1 {
		rec.Attrs = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			rec.Attrs[fmt.Sprint(kv[i])] = kv[i+1]
		}
	}
	r.records = append(r.records, rec)
}

func (r *recorder) json() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(r.records)
}
