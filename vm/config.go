package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// tomlProcessorConfig is the on-disk shape of bvm.toml; it is decoded into
// this intermediate struct and then copied into ProcessorConfig so the
// runtime type stays free of TOML tags.
//
// Grounded on manifest/manifest.go's Manifest struct + toml.Unmarshal/Load
// pattern.
type tomlProcessorConfig struct {
	DefaultAccountBalance int64 `toml:"default_account_balance"`
	CycleLogInterval      int64 `toml:"cycle_log_interval"`
}

// LoadProcessorConfig reads a bvm.toml file from path and decodes it into
// a ProcessorConfig. Missing optional fields keep their zero value; callers
// that need a nonzero default balance should check for zero after loading.
func LoadProcessorConfig(path string) (ProcessorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessorConfig{}, fmt.Errorf("vm: reading config %s: %w", path, err)
	}
	var raw tomlProcessorConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return ProcessorConfig{}, fmt.Errorf("vm: parsing config %s: %w", path, err)
	}
	return ProcessorConfig{
		DefaultAccountBalance: raw.DefaultAccountBalance,
		CycleLogInterval:      raw.CycleLogInterval,
	}, nil
}

// DefaultProcessorConfig returns the configuration used when no bvm.toml
// is present: a generous but finite gas allowance and periodic cycle
// logging every 1000 instructions.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		DefaultAccountBalance: 100000,
		CycleLogInterval:      1000,
	}
}
