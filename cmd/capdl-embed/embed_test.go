package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire"
)

func sampleBlob(t *testing.T) []byte {
	t.Helper()
	a, err := arch.Lookup("x86_64")
	if err != nil {
		t.Fatalf("arch: %v", err)
	}
	sp := &spec.Spec{
		Objects:     []spec.NamedObject{{Object: spec.Object{Kind: spec.KindEndpoint}}},
		RootObjects: spec.IDRange{Start: 0, End: 1},
	}
	blob, err := wire.Marshal(sp, nil, nil, wire.Options{Arch: a.ID, GranuleBits: a.GranuleBits})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return blob
}

func TestRenderProducesValidSource(t *testing.T) {
	src, err := render(sampleBlob(t), "system", "Blob", "system.capdl")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	text := string(src)
	if !strings.Contains(text, "//go:embed system.capdl") || !strings.Contains(text, "x86_64 system of 1 objects") {
		t.Fatalf("unexpected source:\n%s", text)
	}
	f, err := parser.ParseFile(token.NewFileSet(), "spec_embed.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("generated source does not parse: %v", err)
	}
	if f.Name.Name != "system" {
		t.Fatalf("unexpected package %q", f.Name.Name)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	if _, err := render([]byte("not a blob"), "system", "Blob", "x"); err == nil {
		t.Fatalf("expected corrupt blob to be rejected")
	}
	if _, err := render(sampleBlob(t), "my-pkg", "Blob", "x"); err == nil {
		t.Fatalf("expected bad package name to be rejected")
	}
}

func TestRunWritesBlobAndSource(t *testing.T) {
	dir := t.TempDir()
	blobPath := filepath.Join(dir, "in.capdl")
	if err := os.WriteFile(blobPath, sampleBlob(t), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	out := filepath.Join(dir, "gen")
	if err := run(blobPath, out, "gen", "Spec"); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"in.capdl", "spec_embed.go"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}
