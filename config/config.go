package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/colorfulnotion/avm/vm"
	"github.com/colorfulnotion/avm/vm/vmtypes"
)

//go:embed default.yaml
var defaultYAML []byte

// Config holds the VM limits and the gas schedule.
type Config struct {
	PageSize             uint32 `yaml:"page_size" json:"page_size"`
	BaseAddress          uint32 `yaml:"base_address" json:"base_address"`
	MaxCallDepth         int    `yaml:"max_call_depth" json:"max_call_depth"`
	MaxInputLen          uint32 `yaml:"max_input_len" json:"max_input_len"`
	CodeSizeLimit        uint32 `yaml:"code_size_limit" json:"code_size_limit"`
	RODataSizeLimit      uint32 `yaml:"rodata_size_limit" json:"rodata_size_limit"`
	ProgramStartAddr     uint32 `yaml:"program_start_addr" json:"program_start_addr"`
	ResultAddr           uint32 `yaml:"result_addr" json:"result_addr"`
	PropagateChildFaults bool   `yaml:"propagate_child_faults" json:"propagate_child_faults"`
	DecodeCacheSize      int    `yaml:"decode_cache_size" json:"decode_cache_size"`

	Gas vm.GasSchedule `yaml:"gas" json:"gas"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// Load reads a YAML file. An empty path or "default" returns Default().
func Load(path string) (*Config, error) {
	if path == "" || path == "default" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the built-in defaults, so a file only needs the keys
// it changes. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decode(defaultYAML, cfg); err != nil {
		return nil, err
	}
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Validate checks that the layout fits in one page.
func (c *Config) Validate() error {
	if c.PageSize == 0 || c.PageSize%4 != 0 {
		return fmt.Errorf("page_size 0x%x must be a non-zero multiple of 4", c.PageSize)
	}
	if c.BaseAddress%4 != 0 {
		return fmt.Errorf("base_address 0x%x must be 4-byte aligned", c.BaseAddress)
	}
	if c.MaxCallDepth < 1 {
		return fmt.Errorf("max_call_depth must be at least 1, got %d", c.MaxCallDepth)
	}
	if c.ProgramStartAddr < c.BaseAddress || c.ProgramStartAddr%4 != 0 {
		return fmt.Errorf("program_start_addr 0x%x must be 4-byte aligned and inside the page", c.ProgramStartAddr)
	}
	if c.ResultAddr < c.BaseAddress || uint64(c.ResultAddr)+vmtypes.ResultRecordSize > uint64(c.ProgramStartAddr) {
		return fmt.Errorf("result record at 0x%x overlaps program start 0x%x", c.ResultAddr, c.ProgramStartAddr)
	}
	end := uint64(c.ProgramStartAddr) + uint64(c.CodeSizeLimit) + uint64(c.RODataSizeLimit) + vmtypes.HeapGap + vm.StackReserve
	if end > uint64(c.BaseAddress)+uint64(c.PageSize) {
		return fmt.Errorf("page of 0x%x bytes cannot hold program start 0x%x, 0x%x code, 0x%x rodata and the heap",
			c.PageSize, c.ProgramStartAddr, c.CodeSizeLimit, c.RODataSizeLimit)
	}
	if c.DecodeCacheSize < 0 {
		return fmt.Errorf("decode_cache_size must not be negative")
	}
	return nil
}

// MaxImageSize is the largest code plus rodata a contract may carry.
func (c *Config) MaxImageSize() uint32 {
	return c.CodeSizeLimit + c.RODataSizeLimit
}
