package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "run":
		return runTemplate, nil
	case "pack":
		return packTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const runTemplate = `arch = "aarch64"
blob = "system.capdl"
image_vaddr = 0x400000
cnode_size_bits = 12
mcs = false
cores = 1
poison_untyped = true
tie_break = "list_order"
trust_kernel_zeroing = false

[[untyped]]
paddr = 0x40000000
size_bits = 24

[[untyped]]
paddr = 0x09000000
size_bits = 12
device = true

[inspect]
addr = ""
cors_origins = ["http://localhost:3000"]
token = ""
`

const packTemplate = `arch = "aarch64"
spec = "system.yaml"
fill_dirs = ["fill"]
output = "system.capdl"
object_names = "all"
embed_frames = false
deflate = true
granule_bits = 12
`
