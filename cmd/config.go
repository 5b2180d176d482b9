package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/kprof/prof"
)

// Config represents the kprof.yaml run configuration.
// All top-level keys must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	AccumulationDType string                        `yaml:"accumulation_dtype"`
	IncludeMemcpy     bool                          `yaml:"include_memcpy"`
	IgnoreMarkers     []string                      `yaml:"ignore_markers"`
	Hardware          string                        `yaml:"hardware"`
	HardwareFile      string                        `yaml:"hardware_file"`
	HardwareTable     map[string]prof.HardwareCalib `yaml:"hardware_table"`
}

// DefaultConfig is used when no configuration file exists.
func DefaultConfig() Config {
	return Config{
		AccumulationDType: prof.DTypeFP32,
		IgnoreMarkers:     []string{"CheckpointFunctionBackward"},
	}
}

// LoadConfig parses the YAML file at path over DefaultConfig. An empty path
// or a missing file yields the defaults; unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if _, err := cfg.CostEnv(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// CostEnv returns the calculator environment, validating the accumulation dtype.
func (c Config) CostEnv() (prof.CostEnv, error) {
	if c.AccumulationDType == "" {
		return prof.DefaultCostEnv(), nil
	}
	dt, ok := prof.CanonicalDType(c.AccumulationDType)
	if !ok {
		return prof.CostEnv{}, fmt.Errorf("unknown accumulation_dtype %q", c.AccumulationDType)
	}
	return prof.CostEnv{AccumDType: dt}, nil
}

// HardwareCalib resolves the configured GPU against the built-in table,
// overlaid first with the hardware_file entries and then with hardware_table.
// It returns nil when no GPU is configured.
func (c Config) HardwareCalib() (*prof.HardwareCalib, error) {
	if c.Hardware == "" {
		return nil, nil
	}
	table := maps.Clone(prof.HardwareList)
	if c.HardwareFile != "" {
		file, err := prof.LoadHardwareFile(c.HardwareFile)
		if err != nil {
			return nil, err
		}
		maps.Copy(table, file)
	}
	maps.Copy(table, c.HardwareTable)
	hw, err := prof.LookupHardware(table, c.Hardware)
	if err != nil {
		return nil, err
	}
	return &hw, nil
}
