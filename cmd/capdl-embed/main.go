package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/logging"
	"github.com/danmuck/capinit/internal/observability"
)

func main() {
	blobPath := flag.String("blob", "", "packaged blob to embed")
	outDir := flag.String("out", ".", "directory for the generated source and blob copy")
	pkg := flag.String("package", "embedded", "package name of the generated file")
	name := flag.String("var", "Spec", "name of the embedded byte slice")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.TagApp("capdl-embed")
	if err := run(*blobPath, *outDir, *pkg, *name); err != nil {
		fmt.Fprintf(os.Stderr, "capdl-embed: %v\n", err)
		os.Exit(1)
	}
}

func run(blobPath, outDir, pkg, name string) error {
	if blobPath == "" {
		return fmt.Errorf("-blob is required")
	}
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return err
	}
	file := filepath.Base(blobPath)
	src, err := render(blob, pkg, name, file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, file), blob, 0o644); err != nil {
		return err
	}
	target := filepath.Join(outDir, "spec_embed.go")
	if err := os.WriteFile(target, src, 0o644); err != nil {
		return err
	}
	log.Info().Str("source", target).Str("blob", file).Int("bytes", len(blob)).Msg("capdl-embed wrote source")
	return nil
}
