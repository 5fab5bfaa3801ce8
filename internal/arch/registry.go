package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Registry stores architecture tables by name.
type Registry struct {
	items map[string]*Arch
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Arch)}
}

// Register adds an architecture. Names and IDs must be unique.
func (r *Registry) Register(a *Arch) error {
	if a == nil {
		return fmt.Errorf("%w: nil", ErrInvalidArch)
	}
	if err := a.validate(); err != nil {
		return err
	}
	key := strings.ToLower(a.Name)
	if _, ok := r.items[key]; ok {
		return fmt.Errorf("%w: %s", ErrArchExists, a.Name)
	}
	for _, existing := range r.items {
		if existing.ID == a.ID {
			return fmt.Errorf("%w: id %d used by %s", ErrArchExists, a.ID, existing.Name)
		}
	}
	r.items[key] = a
	return nil
}

// Lookup returns an architecture by name.
func (r *Registry) Lookup(name string) (*Arch, error) {
	a, ok := r.items[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArch, name)
	}
	return a, nil
}

// ByID returns the architecture recorded in a blob header.
func (r *Registry) ByID(id uint32) (*Arch, error) {
	for _, a := range r.items {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownArch, id)
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.items))
	for _, a := range r.items {
		out = append(out, a.Name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns a registry holding every architecture this module knows.
func Builtin() *Registry {
	r := NewRegistry()
	for _, a := range []*Arch{aarch64(), riscv64(), x86_64()} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup resolves a built-in architecture by name.
func Lookup(name string) (*Arch, error) {
	return Builtin().Lookup(name)
}

// ByID resolves a built-in architecture by header id.
func ByID(id uint32) (*Arch, error) {
	return Builtin().ByID(id)
}
