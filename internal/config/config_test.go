package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/capinit/internal/untyped"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunTemplateLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := WriteTemplate(path, "run", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Arch != "aarch64" || len(cfg.Untyped) != 2 || !cfg.Untyped[1].Device {
		t.Fatalf("unexpected template config: %+v", cfg)
	}

	sc, err := cfg.SimConfig([]byte("blob"))
	if err != nil {
		t.Fatalf("sim config: %v", err)
	}
	if sc.Arch == nil || sc.Arch.Name != "aarch64" || len(sc.Untyped) != 2 || uint64(sc.ImageVaddr) != 0x400000 {
		t.Fatalf("unexpected sim config: %+v", sc)
	}
	p, err := cfg.Policy()
	if err != nil || p.TieBreak != untyped.TieBreakListOrder {
		t.Fatalf("unexpected policy: %+v %v", p, err)
	}

	if err := WriteTemplate(path, "run", false); err == nil {
		t.Fatalf("expected existing config to be kept")
	}
}

func TestRunDefaults(t *testing.T) {
	path := writeConfig(t, `blob = "x.capdl"

[[untyped]]
paddr = 0x1000000
size_bits = 20
`)
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Arch != DefaultArch || cfg.ImageVaddr != DefaultImageVaddr || cfg.CNodeSizeBits != DefaultCNodeSizeBits || cfg.Cores != 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.TieBreak != "list_order" {
		t.Fatalf("unexpected tie break %q", cfg.TieBreak)
	}
}

func TestRunValidation(t *testing.T) {
	cases := map[string]string{
		"unknown arch": `arch = "mips"
blob = "x"
[[untyped]]
paddr = 0
size_bits = 20
`,
		"missing blob": `[[untyped]]
paddr = 0
size_bits = 20
`,
		"no untyped": `blob = "x"`,
		"misaligned untyped": `blob = "x"
[[untyped]]
paddr = 0x1000
size_bits = 20
`,
		"bad tie break": `blob = "x"
tie_break = "random"
[[untyped]]
paddr = 0
size_bits = 20
`,
	}
	for name, body := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			if _, err := LoadRunConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestTemplateKinds(t *testing.T) {
	if _, err := Template("pack"); err != nil {
		t.Fatalf("pack template: %v", err)
	}
	if _, err := Template("daemon"); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}
