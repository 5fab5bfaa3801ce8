package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/pack"
	"github.com/danmuck/capinit/internal/spec"
)

type fileConfig struct {
	Arch        string   `toml:"arch"`
	Spec        string   `toml:"spec"`
	FillDirs    []string `toml:"fill_dirs"`
	Output      string   `toml:"output"`
	ObjectNames string   `toml:"object_names"`
	EmbedFrames bool     `toml:"embed_frames"`
	Deflate     bool     `toml:"deflate"`
	GranuleBits uint8    `toml:"granule_bits"`
}

type packConfig struct {
	Arch    string
	Spec    string
	Output  string
	Options pack.Options
}

func defaultPackConfig() packConfig {
	return packConfig{
		Arch:   "aarch64",
		Output: "system.capdl",
		Options: pack.Options{
			Names:   spec.NamesAll,
			Deflate: true,
		},
	}
}

func loadPackConfig(path string) (packConfig, error) {
	cfg := defaultPackConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return packConfig{}, fmt.Errorf("load pack config: %w", err)
	}

	if meta.IsDefined("arch") {
		cfg.Arch = strings.TrimSpace(raw.Arch)
	}
	if meta.IsDefined("spec") {
		cfg.Spec = strings.TrimSpace(raw.Spec)
	}
	if meta.IsDefined("fill_dirs") {
		cfg.Options.FillDirs = normalizeDirs(raw.FillDirs)
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("object_names") {
		level, err := spec.ParseNamesLevel(strings.TrimSpace(raw.ObjectNames))
		if err != nil {
			return packConfig{}, fmt.Errorf("parse object_names: %w", err)
		}
		cfg.Options.Names = level
	}
	if meta.IsDefined("embed_frames") {
		cfg.Options.EmbedFrames = raw.EmbedFrames
	}
	if meta.IsDefined("deflate") {
		cfg.Options.Deflate = raw.Deflate
	}
	if meta.IsDefined("granule_bits") {
		cfg.Options.GranuleBits = raw.GranuleBits
	}
	return cfg, nil
}

// validate fills the granule from the arch when unset and checks the
// result.
func (cfg *packConfig) validate() (*arch.Arch, error) {
	a, err := arch.Lookup(cfg.Arch)
	if err != nil {
		return nil, err
	}
	if cfg.Options.GranuleBits == 0 {
		cfg.Options.GranuleBits = a.GranuleBits
	}
	if cfg.Options.GranuleBits != a.GranuleBits {
		return nil, fmt.Errorf("granule_bits %d does not match %s (%d)", cfg.Options.GranuleBits, a.Name, a.GranuleBits)
	}
	if cfg.Spec == "" {
		return nil, fmt.Errorf("spec path is required")
	}
	if cfg.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	return a, nil
}

func normalizeDirs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, dir := range in {
		v := strings.TrimSpace(dir)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
