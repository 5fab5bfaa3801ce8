package wire

import (
	"fmt"

	"github.com/danmuck/capinit/internal/resolve"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire/frame"
	"github.com/danmuck/capinit/internal/wire/tlv"
	"github.com/rs/zerolog/log"
)

// View is a read-only window over a blob held in memory. Opening it checks
// the header, digest and top-level record; objects are decoded on demand and
// every slice it hands out aliases the blob.
type View struct {
	blob    frame.Blob
	top     *record
	objects []tlv.Field
}

func Open(data []byte) (*View, error) {
	return OpenWithLimits(data, frame.DefaultLimits())
}

func OpenWithLimits(data []byte, limits frame.Limits) (*View, error) {
	blob, err := frame.Decode(data, limits)
	if err != nil {
		return nil, err
	}
	top, objects, err := splitPrefix(blob.Prefix)
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("wire.Open objects=%d prefix=%d sidecar=%d", len(objects), len(blob.Prefix), len(blob.Sidecar))
	return &View{blob: blob, top: top, objects: objects}, nil
}

func (v *View) Header() frame.Header {
	return v.blob.Header
}

func (v *View) NumObjects() int {
	return len(v.objects)
}

// Object decodes a single object record.
func (v *View) Object(id spec.ObjectID) (spec.NamedObject, error) {
	if int(id) >= len(v.objects) {
		return spec.NamedObject{}, fmt.Errorf("%w: object=%d len=%d", ErrUnknownObject, id, len(v.objects))
	}
	return decodeObject(int(id), v.objects[id])
}

// Spec decodes and validates every object and table.
func (v *View) Spec() (*spec.Spec, error) {
	s := &spec.Spec{Objects: make([]spec.NamedObject, len(v.objects))}
	for i, f := range v.objects {
		obj, err := decodeObject(i, f)
		if err != nil {
			return nil, err
		}
		s.Objects[i] = obj
	}
	if err := decodeTables(v.top, s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (v *View) Sidecar() []byte {
	return v.blob.Sidecar
}

// SidecarOffset is the blob offset of the sidecar. Embedded frame offsets are
// relative to it.
func (v *View) SidecarOffset() uint64 {
	return v.blob.Header.SidecarOffset()
}

func (v *View) Source() resolve.Source {
	return resolve.NewSource(v.blob.Sidecar)
}

// Package is a fully decoded blob.
type Package struct {
	Header  frame.Header
	Spec    *spec.Spec
	Sidecar []byte
}

func (p *Package) Source() resolve.Source {
	return resolve.NewSource(p.Sidecar)
}

// Unmarshal decodes and validates a blob. The returned package aliases data.
func Unmarshal(data []byte) (*Package, error) {
	v, err := Open(data)
	if err != nil {
		return nil, err
	}
	s, err := v.Spec()
	if err != nil {
		return nil, err
	}
	return &Package{Header: v.Header(), Spec: s, Sidecar: v.Sidecar()}, nil
}
