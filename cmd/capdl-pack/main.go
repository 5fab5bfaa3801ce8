package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/logging"
	"github.com/danmuck/capinit/internal/observability"
	"github.com/danmuck/capinit/internal/pack"
	"github.com/danmuck/capinit/internal/spec"
)

func main() {
	configPath := flag.String("config", "", "pack config (toml)")
	archName := flag.String("arch", "", "target architecture (overrides config)")
	specPath := flag.String("spec", "", "input spec, .json or .yaml (overrides config)")
	fillDirs := flag.String("fill", "", "comma separated fill directories (overrides config)")
	output := flag.String("out", "", "output blob (overrides config)")
	names := flag.String("object-names", "", "all|tcbs|none (overrides config)")
	embed := flag.Bool("embed-frames", false, "pre-render granule frames into the blob")
	deflate := flag.Bool("deflate", true, "deflate fill content")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.TagApp("capdl-pack")
	if err := run(*configPath, *archName, *specPath, *fillDirs, *output, *names, *embed, *deflate); err != nil {
		fmt.Fprintf(os.Stderr, "capdl-pack: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, archName, specPath, fillDirs, output, names string, embed, deflate bool) error {
	cfg := defaultPackConfig()
	if configPath != "" {
		loaded, err := loadPackConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if archName != "" {
		cfg.Arch = archName
	}
	if specPath != "" {
		cfg.Spec = specPath
	}
	if fillDirs != "" {
		cfg.Options.FillDirs = normalizeDirs(strings.Split(fillDirs, ","))
	}
	if output != "" {
		cfg.Output = output
	}
	if names != "" {
		level, err := spec.ParseNamesLevel(names)
		if err != nil {
			return err
		}
		cfg.Options.Names = level
	}
	if set["embed-frames"] {
		cfg.Options.EmbedFrames = embed
	}
	if set["deflate"] {
		cfg.Options.Deflate = deflate
	}

	a, err := cfg.validate()
	if err != nil {
		return err
	}
	in, err := spec.LoadFile(cfg.Spec)
	if err != nil {
		return err
	}
	out, err := pack.Build(in, cfg.Options)
	if err != nil {
		return err
	}
	blob, err := out.Marshal(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Output, blob, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}

	st := out.Stats
	log.Info().
		Str("arch", a.Name).
		Str("output", cfg.Output).
		Int("objects", out.Spec.Len()).
		Int("blob_bytes", len(blob)).
		Int("embedded", st.Embedded).
		Int("deflated", st.Deflated).
		Uint64("footprint", st.Footprint).
		Uint64("heap_pages", st.BufferSize>>cfg.Options.GranuleBits).
		Uint64("max_entry", st.MaxEntry).
		Msg("capdl-pack wrote blob")
	return nil
}
