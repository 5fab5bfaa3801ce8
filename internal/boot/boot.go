// Package boot drives one bring-up: the primary core reconstructs the
// system, every secondary core meets it at its own barrier, and all cores
// then cross into the constructed system.
package boot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/capinit/internal/barrier"
	"github.com/danmuck/capinit/internal/initializer"
	"github.com/danmuck/capinit/internal/kernel"
)

// ErrNotReleased is returned to a secondary core whose primary failed.
var ErrNotReleased = errors.New("boot: secondary core was not released")

// EnterFunc crosses core into the constructed system.
type EnterFunc func(ctx context.Context, core int) error

type Config struct {
	Initializer initializer.Config
	// Cores counts the primary. Zero means one.
	Cores int
	Enter EnterFunc
}

// Run brings the system up. A primary failure halts and is returned with
// the partial report; secondaries are not released in that case.
func Run(ctx context.Context, cfg Config) (*initializer.Report, error) {
	cores := cfg.Cores
	if cores <= 0 {
		cores = 1
	}
	enter := cfg.Enter
	if enter == nil {
		enter = func(context.Context, int) error { return nil }
	}

	pairs := make([]*barrier.Pair, cores)
	for core := 1; core < cores; core++ {
		pairs[core] = barrier.New()
	}

	secondaryCtx, abandon := context.WithCancel(ctx)
	defer abandon()
	g, gctx := errgroup.WithContext(secondaryCtx)
	for core := 1; core < cores; core++ {
		g.Go(func() error {
			log.Debug().Msgf("boot.Run core=%d up", core)
			if err := pairs[core].Wait(gctx); err != nil {
				return fmt.Errorf("%w: core %d: %v", ErrNotReleased, core, err)
			}
			log.Debug().Msgf("boot.Run core=%d entering", core)
			return enter(gctx, core)
		})
	}

	report, err := initializer.Run(cfg.Initializer)
	if err != nil {
		abandon()
		_ = g.Wait()
		Halt(err)
		return report, err
	}

	for core := 1; core < cores; core++ {
		if err := pairs[core].Wait(gctx); err != nil {
			abandon()
			_ = g.Wait()
			Halt(err)
			return report, err
		}
		log.Debug().Msgf("boot.Run core=%d released", core)
	}
	if err := enter(gctx, 0); err != nil {
		abandon()
		_ = g.Wait()
		return report, err
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	log.Info().Msgf("boot.Run done cores=%d started=%d", cores, report.Started)
	return report, nil
}

var (
	// haltFn is replaced by tests.
	haltFn = func() { select {} }

	haltMu sync.Mutex
)

// Halt reports err as an unrecoverable failure and stops. It never returns
// unless haltFn has been replaced.
func Halt(err error) {
	haltMu.Lock()
	defer haltMu.Unlock()

	ev := log.Error()
	var ie *initializer.Error
	if errors.As(err, &ie) {
		ev = ev.Str("phase", string(ie.Phase)).Str("op", ie.Op).Int("object", ie.Object)
		if ie.Name != "" {
			ev = ev.Str("name", ie.Name)
		}
	}
	if code, ok := kernel.CodeOf(err); ok {
		ev = ev.Stringer("code", code)
	}
	if err == nil {
		err = errors.New("unknown cause")
	}
	ev.Err(err).Msg("boot.Halt unrecoverable error, system halted")
	haltFn()
}

// SetHaltFunc replaces what Halt does after logging and returns the previous
// function. The CLI uses it to exit the process.
func SetHaltFunc(fn func()) func() {
	haltMu.Lock()
	defer haltMu.Unlock()
	prev := haltFn
	haltFn = fn
	return prev
}
