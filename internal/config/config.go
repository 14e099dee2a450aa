// Package config loads the engine's tunable parameters from a YAML sidecar.
//
// Every field defaults to the fixed constants from the specification (8 MiB
// arena, 1792 frames, 2048 pages, 32 threads); a config file only narrows
// them, letting tests run a miniature arena without touching production
// defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults matching the fixed physical layout.
const (
	DefaultPageSize       = 4096
	DefaultAllMemSize     = 8 * 1024 * 1024
	DefaultUserBase       = 1024 * 1024
	DefaultStackEnd       = 6 * 1024 * 1024
	DefaultNumFrames      = 1792
	DefaultNumPages       = 2048
	DefaultNumPageTables  = 32
	DefaultSwapDir        = "."
	DefaultEvictionPolicy = "clock"
)

// EngineConfig holds the tunables an operator may override.
type EngineConfig struct {
	PageSize       int    `yaml:"page_size"`
	AllMemSize     int    `yaml:"all_mem_size"`
	UserBase       int    `yaml:"user_base"`
	StackEnd       int    `yaml:"stack_end"`
	NumFrames      int    `yaml:"num_frames"`
	NumPages       int    `yaml:"num_pages"`
	NumPageTables  int    `yaml:"num_page_tables"`
	SwapDir        string `yaml:"swap_dir"`
	EvictionPolicy string `yaml:"eviction_policy"`
}

// Default returns the specification's fixed layout.
func Default() EngineConfig {
	return EngineConfig{
		PageSize:       DefaultPageSize,
		AllMemSize:     DefaultAllMemSize,
		UserBase:       DefaultUserBase,
		StackEnd:       DefaultStackEnd,
		NumFrames:      DefaultNumFrames,
		NumPages:       DefaultNumPages,
		NumPageTables:  DefaultNumPageTables,
		SwapDir:        DefaultSwapDir,
		EvictionPolicy: DefaultEvictionPolicy,
	}
}

// Load reads an EngineConfig from a YAML file, filling unset fields with
// their specification defaults. A missing path is not an error: Load simply
// returns Default().
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var override EngineConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyOverrides(&cfg, override)
	return cfg, nil
}

func applyOverrides(cfg *EngineConfig, o EngineConfig) {
	if o.PageSize != 0 {
		cfg.PageSize = o.PageSize
	}
	if o.AllMemSize != 0 {
		cfg.AllMemSize = o.AllMemSize
	}
	if o.UserBase != 0 {
		cfg.UserBase = o.UserBase
	}
	if o.StackEnd != 0 {
		cfg.StackEnd = o.StackEnd
	}
	if o.NumFrames != 0 {
		cfg.NumFrames = o.NumFrames
	}
	if o.NumPages != 0 {
		cfg.NumPages = o.NumPages
	}
	if o.NumPageTables != 0 {
		cfg.NumPageTables = o.NumPageTables
	}
	if o.SwapDir != "" {
		cfg.SwapDir = o.SwapDir
	}
	if o.EvictionPolicy != "" {
		cfg.EvictionPolicy = o.EvictionPolicy
	}
}
