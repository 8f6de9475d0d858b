package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	lvl, err = ParseLevel("TRACE")
	require.NoError(t, err)
	assert.Equal(t, LevelTrace, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleFilter(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewJSONHandler(&buf, LevelTrace)))

	DisableModule(CPUMonitoring)
	Debug(CPUMonitoring, "hidden")
	assert.Zero(t, buf.Len())

	EnableModule(CPUMonitoring)
	defer DisableModule(CPUMonitoring)
	Debug(CPUMonitoring, "step", "pc", 4)
	assert.Contains(t, buf.String(), `"step"`)
	assert.Contains(t, buf.String(), CPUMonitoring)
}

func TestRecordLogs(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(DiscardHandler()))

	RecordLogs()
	Info(GuestMonitoring, "guest log", "msg", "hello")
	Warn(GuestMonitoring, "second")

	raw, err := GetRecordedLogs()
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(raw, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "guest log", recs[0]["msg"])
	assert.Equal(t, "warn", recs[1]["level"])
}
