// Package pack turns a human-readable spec into its packaged form: names
// and fill bytes move into a sidecar and are referenced by range, fill
// content can be deflated, and granule frames can be pre-rendered whole.
package pack

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/capinit/internal/arch"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire"
	"github.com/danmuck/capinit/internal/wire/frame"
)

var ErrPackaged = errors.New("pack: input already carries sidecar content")

type Options struct {
	FillDirs    []string
	Names       spec.NamesLevel
	EmbedFrames bool
	Deflate     bool
	GranuleBits uint8
}

// Output is a packaged spec with the sidecar its ranges point into.
// Embedded frame offsets are relative to the first entry of Frames.
type Output struct {
	Spec    *spec.Spec
	Sidecar []byte
	Frames  [][]byte
	Options Options
	Stats   Stats
}

type Stats struct {
	Names        int
	Entries      int
	Deflated     int
	Embedded     int
	ContentBytes uint64
	StoredBytes  uint64
	// Footprint bounds the memory the resolved spec occupies; BufferSize
	// is the heap the loader should reserve for it.
	Footprint  uint64
	BufferSize uint64
	// MaxEntry is the longest single fill entry, the scratch buffer a
	// loader needs to resolve entries one at a time.
	MaxEntry uint64
}

// Build packages in. in is not modified.
func Build(in *spec.Spec, opts Options) (*Output, error) {
	if opts.GranuleBits == 0 {
		opts.GranuleBits = 12
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b := &builder{opts: opts, files: newFiles(opts.FillDirs), granule: uint64(1) << opts.GranuleBits}
	defer b.files.close()

	out := in.Clone()
	for i := range out.Objects {
		id := spec.ObjectID(i)
		obj := &out.Objects[i]
		obj.Name = b.name(obj)
		fill, ok := obj.Object.FrameFill()
		if !ok {
			continue
		}
		b.stats.MaxEntry = max(b.stats.MaxEntry, fill.MaxEntryLen())
		var err error
		if opts.EmbedFrames && in.CanEmbed(id, opts.GranuleBits) {
			err = b.embed(id, &obj.Object, fill)
		} else {
			err = b.store(id, fill)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("pack: packaged spec is invalid: %w", err)
	}

	b.stats.Footprint = out.Footprint()
	b.stats.BufferSize = 2*b.stats.Footprint + 16*b.granule
	log.Debug().Msgf("pack.Build objects=%d names=%d entries=%d deflated=%d embedded=%d sidecar=%d footprint=%d",
		out.Len(), b.stats.Names, b.stats.Entries, b.stats.Deflated, b.stats.Embedded, len(b.sidecar), b.stats.Footprint)
	return &Output{Spec: out, Sidecar: b.sidecar, Frames: b.frames, Options: opts, Stats: b.stats}, nil
}

// Marshal lays the output out as one blob for a.
func (o *Output) Marshal(a *arch.Arch) ([]byte, error) {
	var flags uint32
	if o.Options.Deflate {
		flags |= frame.FlagDeflate
	}
	if o.Options.Names != spec.NamesNone {
		flags |= frame.FlagNames
	}
	return wire.Marshal(o.Spec, o.Sidecar, o.Frames, wire.Options{
		Arch:        a.ID,
		GranuleBits: o.Options.GranuleBits,
		Flags:       flags,
	})
}

type builder struct {
	opts    Options
	files   *files
	granule uint64
	sidecar []byte
	frames  [][]byte
	stats   Stats
}

func (b *builder) append(data []byte) spec.Range {
	start := uint64(len(b.sidecar))
	b.sidecar = append(b.sidecar, data...)
	return spec.Range{Start: start, End: uint64(len(b.sidecar))}
}

func (b *builder) name(obj *spec.NamedObject) spec.Name {
	keep := false
	switch b.opts.Names {
	case spec.NamesAll:
		keep = true
	case spec.NamesTCBs:
		keep = obj.Object.Kind == spec.KindTCB
	}
	if !keep {
		return spec.Name{}
	}
	if obj.Name.Kind != spec.NameText {
		return obj.Name
	}
	b.stats.Names++
	return spec.IndirectName(b.append([]byte(obj.Name.Text)))
}

// content reads the bytes behind one human-readable entry.
func (b *builder) content(id spec.ObjectID, e spec.FillEntry) ([]byte, error) {
	switch e.Content.Kind {
	case spec.ContentFile:
		buf := make([]byte, e.Range.Len())
		if err := b.files.read(e.Content.File, e.Content.FileOffset, buf); err != nil {
			return nil, fmt.Errorf("object=%d fill [%d,%d): %w", id, e.Range.Start, e.Range.End, err)
		}
		return buf, nil
	case spec.ContentInline:
		return e.Content.Data, nil
	case spec.ContentBytes, spec.ContentDeflated:
		return nil, fmt.Errorf("%w: object=%d", ErrPackaged, id)
	default:
		return nil, fmt.Errorf("%w: object=%d content kind %s", spec.ErrMalformed, id, e.Content.Kind)
	}
}

// store moves every entry's bytes into the sidecar. Bootinfo entries are
// only known at boot and stay as they are.
func (b *builder) store(id spec.ObjectID, fill spec.Fill) error {
	for j := range fill.Entries {
		e := &fill.Entries[j]
		if e.Content.Kind == spec.ContentBootInfo {
			continue
		}
		data, err := b.content(id, *e)
		if err != nil {
			return err
		}
		b.stats.Entries++
		b.stats.ContentBytes += uint64(len(data))
		if !b.opts.Deflate {
			e.Content = spec.BytesContent(b.append(data))
			b.stats.StoredBytes += uint64(len(data))
			continue
		}
		packed, err := deflate(data)
		if err != nil {
			return fmt.Errorf("object=%d fill [%d,%d): %w", id, e.Range.Start, e.Range.End, err)
		}
		e.Content = spec.DeflatedContent(b.append(packed))
		b.stats.Deflated++
		b.stats.StoredBytes += uint64(len(packed))
	}
	return nil
}

// embed renders the whole frame and points the object at it.
func (b *builder) embed(id spec.ObjectID, obj *spec.Object, fill spec.Fill) error {
	page := make([]byte, b.granule)
	for _, e := range fill.Entries {
		data, err := b.content(id, e)
		if err != nil {
			return err
		}
		copy(page[e.Range.Start:e.Range.End], data)
		b.stats.ContentBytes += uint64(len(data))
	}
	obj.Frame.Init = spec.FrameInit{
		Kind:     spec.InitEmbedded,
		Embedded: spec.EmbeddedFrame{Offset: uint64(len(b.frames)) * b.granule},
	}
	b.frames = append(b.frames, page)
	b.stats.Embedded++
	b.stats.StoredBytes += b.granule
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
