package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/avm/vm"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

func TestDefaultMatchesBuiltins(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(vmtypes.DefaultPageSize), cfg.PageSize)
	assert.Equal(t, vmtypes.DefaultMaxCallDepth, cfg.MaxCallDepth)
	assert.Equal(t, uint32(vmtypes.DefaultMaxInputLen), cfg.MaxInputLen)
	assert.Equal(t, uint32(vmtypes.DefaultProgramStartAddr), cfg.ProgramStartAddr)
	assert.Equal(t, uint32(vmtypes.DefaultResultAddr), cfg.ResultAddr)
	assert.False(t, cfg.PropagateChildFaults)
	assert.Equal(t, 4096, cfg.DecodeCacheSize)
	assert.Equal(t, vm.DefaultGasSchedule(), cfg.Gas)
}

func TestParseOverridesOnlyGivenKeys(t *testing.T) {
	cfg, err := Parse([]byte("max_call_depth: 3\npropagate_child_faults: true\ngas:\n  storage_set: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxCallDepth)
	assert.True(t, cfg.PropagateChildFaults)
	assert.Equal(t, uint64(5), cfg.Gas.StorageSet)
	assert.Equal(t, uint64(2100), cfg.Gas.StorageGet)
	assert.Equal(t, uint32(0x40000), cfg.PageSize)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "max_depth: 3\n",
		"unknown gas key":   "gas:\n  sload: 1\n",
		"zero depth":        "max_call_depth: 0\n",
		"odd page":          "page_size: 0x40001\n",
		"page too small":    "page_size: 0x10000\n",
		"result over code":  "result_addr: 0x3f0\n",
		"negative cache":    "decode_cache_size: -1\n",
		"misaligned start":  "program_start_addr: 0x402\n",
		"not yaml mappings": "- 1\n- 2\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "avm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_input_len: 64\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), cfg.MaxInputLen)
	assert.Equal(t, uint32(0x32000), cfg.MaxImageSize())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
