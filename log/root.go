package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	CPUMonitoring          = "avm_cpu"          // fetch/decode/execute loop
	OrchestratorMonitoring = "avm_orchestrator" // context stack, calls, transactions
	SyscallMonitoring      = "avm_syscall"
	StorageMonitoring      = "avm_storage"
	GuestMonitoring        = "avm_guest" // LOG syscall output from programs
	CLIMonitoring          = "avm_cli"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

// ParseLevel accepts trace, debug, info, warn(ing), error and crit(ical).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "warning":
		return LevelWarn, nil
	case "critical":
		return LevelCrit, nil
	}
	for lvl, name := range levelNames {
		if strings.EqualFold(s, name) {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("invalid level: %s", s)
}

// InitLogger installs a root logger on stderr; format "json" selects JSON
// records, anything else the terminal handler.
func InitLogger(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	h := NewTerminalHandler(os.Stderr, lvl, true)
	if strings.EqualFold(format, "json") {
		h = NewJSONHandler(os.Stderr, lvl)
	}
	SetDefault(NewLogger(h))
	return nil
}

func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

func Root() Logger {
	return root.Load().(Logger)
}

// modules gates Trace and Debug output per subsystem.
type modules struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

var (
	knownModules = []string{CPUMonitoring, OrchestratorMonitoring, SyscallMonitoring, StorageMonitoring, GuestMonitoring, CLIMonitoring}
	moduleSet    = &modules{enabled: map[string]bool{
		OrchestratorMonitoring: true,
		GuestMonitoring:        true,
		CLIMonitoring:          true,
	}}
)

func (m *modules) set(name string, on bool) {
	m.mu.Lock()
	m.enabled[name] = on
	m.mu.Unlock()
}

func (m *modules) on(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled[name]
}

func EnableModule(module string)  { moduleSet.set(module, true) }
func DisableModule(module string) { moduleSet.set(module, false) }

// EnableModules enables a comma separated list; "all" enables every known module.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		switch m = strings.TrimSpace(m); m {
		case "":
		case "all":
			for _, k := range knownModules {
				EnableModule(k)
			}
		default:
			EnableModule(m)
		}
	}
}

func IsModuleEnabled(module string) bool { return moduleSet.on(module) }

// Trace and Debug are dropped unless module is enabled. The other levels
// always reach the handler.
func Trace(module, msg string, kv ...any) {
	if IsModuleEnabled(module) {
		Root().Write(LevelTrace, module, msg, kv...)
	}
}

func Debug(module, msg string, kv ...any) {
	if IsModuleEnabled(module) {
		Root().Write(LevelDebug, module, msg, kv...)
	}
}

func Info(module, msg string, kv ...any)  { Root().Write(LevelInfo, module, msg, kv...) }
func Warn(module, msg string, kv ...any)  { Root().Write(LevelWarn, module, msg, kv...) }
func Error(module, msg string, kv ...any) { Root().Write(LevelError, module, msg, kv...) }

func Crit(module, msg string, kv ...any) {
	Root().Write(LevelCrit, module, msg, kv...)
	os.Exit(1)
}

func RecordLogs()                      { Root().RecordLogs() }
func GetRecordedLogs() ([]byte, error) { return Root().GetRecordedLogs() }
