package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/boot"
	"github.com/danmuck/capinit/internal/config"
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/pack"
	"github.com/danmuck/capinit/internal/spec"
)

const systemSpec = `
objects:
  - name: cspace
    kind: cnode
    size_bits: 4
    slots:
      - {slot: 1, object: ep, badge: 7}
  - name: vspace
    kind: page_table
    page_table: {is_root: true}
    slots: [{slot: 0, object: pud}]
  - name: pud
    kind: page_table
    slots: [{slot: 0, object: pd}]
  - name: pd
    kind: page_table
    slots: [{slot: 2, object: pt}]
  - name: pt
    kind: page_table
    slots:
      - {slot: 0, object: code, rights: [read], executable: true}
      - {slot: 1, object: ipc}
  - name: code
    kind: frame
    size_bits: 12
    fill:
      - {start: 0, end: 11, file: hello.bin}
  - name: ipc
    kind: frame
    size_bits: 12
  - name: ep
    kind: endpoint
  - name: thread
    kind: tcb
    tcb: {prio: 100, resume: true, ip: 0x400000, sp: 0x402000, ipc_buffer_addr: 0x401000}
    slots:
      - {slot: 0, object: cspace}
      - {slot: 1, object: vspace}
      - {slot: 4, object: ipc}
`

func packSystem(t *testing.T, opts pack.Options) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.bin"), []byte("hello world"), 0o644))
	sp, err := spec.Parse([]byte(systemSpec), spec.FormatYAML)
	require.NoError(t, err)
	opts.FillDirs = []string{dir}
	out, err := pack.Build(sp, opts)
	require.NoError(t, err)
	a, err := arch.Lookup("aarch64")
	require.NoError(t, err)
	blob, err := out.Marshal(a)
	require.NoError(t, err)
	path := filepath.Join(dir, "system.capdl")
	require.NoError(t, os.WriteFile(path, blob, 0o644))
	return path
}

func runConfig(blob string) config.RunConfig {
	cfg := config.RunConfig{
		Blob:          blob,
		Cores:         2,
		PoisonUntyped: true,
		Untyped:       []config.UntypedConfig{{Paddr: 0x1000000, SizeBits: 22}},
	}
	config.ApplyRunDefaults(&cfg)
	return cfg
}

func TestRunBootsPackagedSystem(t *testing.T) {
	for name, opts := range map[string]pack.Options{
		"raw":      {},
		"deflated": {Deflate: true},
		"embedded": {Deflate: true, EmbedFrames: true},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := runConfig(packSystem(t, opts))
			res, err := run(context.Background(), cfg)
			require.NoError(t, err)

			r := res.report
			assert.Equal(t, 9, r.Creations)
			assert.Equal(t, 1, r.Started)
			assert.True(t, res.kernel.InitThread().Thread.Suspended)

			var thread bool
			for _, o := range res.kernel.Objects() {
				if o.Name == "thread" {
					thread = o.Running
				}
			}
			assert.True(t, thread, "thread was not resumed")

			vs, ok := res.kernel.Cap(r.Caps[1])
			require.True(t, ok)
			code, _, ok := res.kernel.Translate(vs.Object, 0x400000)
			require.True(t, ok)
			page := code.Bytes()
			assert.Equal(t, "hello world", string(page[:11]))
			assert.Equal(t, make([]byte, 4096-11), page[11:])

			ipc, _, ok := res.kernel.Translate(vs.Object, 0x401000)
			require.True(t, ok)
			assert.Equal(t, make([]byte, 4096), ipc.Bytes())

			cs, ok := res.kernel.Cap(r.Caps[0])
			require.True(t, ok)
			assert.Equal(t, kernel.Word(7), cs.Object.Slots[1].Badge)
		})
	}
}

func TestRunRejectsArchMismatch(t *testing.T) {
	cfg := runConfig(packSystem(t, pack.Options{}))
	cfg.Arch = "riscv64"
	_, err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "built for aarch64")
}

func TestRunHaltsOnExhaustion(t *testing.T) {
	var halted bool
	prev := boot.SetHaltFunc(func() { halted = true })
	t.Cleanup(func() { boot.SetHaltFunc(prev) })

	cfg := runConfig(packSystem(t, pack.Options{}))
	cfg.Untyped = []config.UntypedConfig{{Paddr: 0x1000000, SizeBits: 13}}
	_, err := run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, halted)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml", "", "")
	require.NoError(t, err)
	assert.Equal(t, "riscv64", cfg.Arch)
	assert.Equal(t, 2, cfg.Cores)
	assert.True(t, cfg.MCS)
	require.Len(t, cfg.Untyped, 2)
	assert.True(t, cfg.Untyped[1].Device)
	assert.Equal(t, "change-me", cfg.Inspect.Token)

	cfg, err = loadConfig("ex.config.toml", "other.capdl", ":0")
	require.NoError(t, err)
	assert.Equal(t, "other.capdl", cfg.Blob)
	assert.Equal(t, ":0", cfg.Inspect.Addr)
}
