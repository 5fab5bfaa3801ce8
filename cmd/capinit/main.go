package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/boot"
	"github.com/danmuck/capinit/internal/config"
	"github.com/danmuck/capinit/internal/initializer"
	"github.com/danmuck/capinit/internal/inspect"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/kernel/sim"
	"github.com/danmuck/capinit/internal/logging"
	"github.com/danmuck/capinit/internal/observability"
	"github.com/danmuck/capinit/internal/wire"
)

func main() {
	configPath := flag.String("config", "cmd/capinit/config.toml", "run config (toml)")
	blobPath := flag.String("blob", "", "packaged blob (overrides config)")
	serve := flag.String("serve", "", "inspection server address (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.TagApp("capinit")
	boot.SetHaltFunc(func() { os.Exit(1) })

	cfg, err := loadConfig(*configPath, *blobPath, *serve)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capinit: %v\n", err)
		os.Exit(2)
	}
	res, err := run(context.Background(), cfg)
	if err != nil {
		// boot has already halted on initializer failures
		fmt.Fprintf(os.Stderr, "capinit: %v\n", err)
		os.Exit(1)
	}
	if cfg.Inspect.Addr == "" {
		return
	}
	srv := inspect.New("capinit", cfg.Inspect.Addr, res.kernel, res.report, inspect.Options{
		CorsOrigins: cfg.Inspect.CorsOrigins,
		Token:       cfg.Inspect.Token,
	})
	if err := srv.Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "capinit: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, blob, serve string) (config.RunConfig, error) {
	cfg, err := config.LoadRunConfig(path)
	if err != nil {
		return config.RunConfig{}, err
	}
	if blob != "" {
		cfg.Blob = blob
	}
	if serve != "" {
		cfg.Inspect.Addr = serve
	}
	return cfg, nil
}

type result struct {
	kernel *sim.Kernel
	report *initializer.Report
}

// run loads the blob as the user image of a simulated boot and brings the
// system up on it.
func run(ctx context.Context, cfg config.RunConfig) (*result, error) {
	blob, err := os.ReadFile(cfg.Blob)
	if err != nil {
		return nil, err
	}
	v, err := wire.Open(blob)
	if err != nil {
		return nil, err
	}
	a, err := arch.Lookup(cfg.Arch)
	if err != nil {
		return nil, err
	}
	if id := v.Header().Arch; id != a.ID {
		blobArch := fmt.Sprintf("id %d", id)
		if other, err := arch.ByID(id); err == nil {
			blobArch = other.Name
		}
		return nil, fmt.Errorf("blob is built for %s, config targets %s", blobArch, a.Name)
	}
	sp, err := v.Spec()
	if err != nil {
		return nil, err
	}

	simCfg, err := cfg.SimConfig(blob)
	if err != nil {
		return nil, err
	}
	k, err := sim.New(simCfg)
	if err != nil {
		return nil, err
	}
	k.SetObserver(observability.RecordInvocation)
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	bi := k.BootInfo()

	log.Info().
		Str("arch", a.Name).
		Str("blob", cfg.Blob).
		Int("objects", sp.Len()).
		Int("cores", cfg.Cores).
		Msg("capinit booting")

	report, err := boot.Run(ctx, boot.Config{
		Initializer: initializer.Config{
			Kernel:             k,
			Memory:             k,
			BootInfo:           &bi,
			Arch:               a,
			Spec:               sp,
			Source:             v.Source(),
			ImageVaddr:         k.ImageVaddr(),
			SidecarVaddr:       k.ImageVaddr() + kernel.Word(v.SidecarOffset()),
			CopyWindow:         kernel.Word(cfg.CopyWindow),
			Policy:             policy,
			TrustKernelZeroing: cfg.TrustZeroing,
		},
		Cores: cfg.Cores,
		Enter: func(_ context.Context, core int) error {
			log.Info().Int("core", core).Msg("capinit core entered system")
			return nil
		},
	})
	return &result{kernel: k, report: report}, err
}
