package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/config"
	"github.com/danmuck/capinit/internal/logging"
	"github.com/danmuck/capinit/internal/observability"
)

func main() {
	kind := flag.String("kind", "run", "config kind: run|pack")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing run config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.TagApp("configgen")

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "run":
			if _, err := config.LoadRunConfig(path); err != nil {
				log.Fatal().Err(err).Msg("configgen validate failed")
			}
		default:
			log.Fatal().Msgf("configgen cannot validate kind: %s", *kind)
		}
		log.Info().Msgf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("configgen write failed")
	}
	log.Info().Msgf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "run":
		return "cmd/capinit/config.toml"
	case "pack":
		return "cmd/capdl-pack/config.toml"
	default:
		log.Fatal().Msgf("unknown kind: %s", kind)
		return ""
	}
}
