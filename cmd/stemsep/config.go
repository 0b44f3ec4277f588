package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the optional TOML configuration file. Every field has a flag
// counterpart; explicitly set flags win over file values.
type fileConfig struct {
	Server   string `toml:"server"`
	ModelDir string `toml:"model_dir"`
	Output   string `toml:"output"`

	BigShifts       int     `toml:"big_shifts"`
	OverlapDemucs   float64 `toml:"overlap_demucs"`
	OverlapVOCFT    float64 `toml:"overlap_vocft"`
	OverlapVitLarge int     `toml:"overlap_vitlarge"`
	OverlapInstVoc  int     `toml:"overlap_instvoc"`

	WeightInstVoc  float64 `toml:"weight_instvoc"`
	WeightVOCFT    float64 `toml:"weight_vocft"`
	WeightVitLarge float64 `toml:"weight_vitlarge"`

	UseVOCFT   bool   `toml:"use_vocft"`
	VocalsOnly bool   `toml:"vocals_only"`
	Format     string `toml:"format"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
