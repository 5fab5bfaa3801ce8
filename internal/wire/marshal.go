package wire

import (
	"fmt"

	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/wire/frame"
	"github.com/rs/zerolog/log"
)

// Options describe the target a blob is built for.
type Options struct {
	Arch        uint32
	GranuleBits uint8
	Flags       uint32
}

// Marshal lays out a packaged spec, its sidecar and its embedded frames as
// one blob. Embedded frame offsets in s are relative to the first frame of
// frames; Marshal relocates them so each frame starts on a granule boundary
// of the blob, which is what lets the loader map them in place.
func Marshal(s *spec.Spec, sidecar []byte, frames [][]byte, opts Options) ([]byte, error) {
	granule := uint64(1) << opts.GranuleBits
	embeddedLen := uint64(len(frames)) * granule
	for i, f := range frames {
		if uint64(len(f)) != granule {
			return nil, fmt.Errorf("%w: frame %d is %d bytes, granule %d", ErrEmbeddedLayout, i, len(f), granule)
		}
	}
	for i := range s.Objects {
		o := &s.Objects[i].Object
		if !o.IsEmbeddedFrame() {
			continue
		}
		off := o.Frame.Init.Embedded.Offset
		if off%granule != 0 || off+granule > embeddedLen {
			return nil, fmt.Errorf("%w: object=%d offset %d outside %d embedded bytes", ErrEmbeddedLayout, i, off, embeddedLen)
		}
	}

	flags := opts.Flags
	body := sidecar
	out := s
	if len(frames) > 0 {
		flags |= frame.FlagEmbeddedFrames
		prefixLen := uint64(len(EncodePrefix(s)))
		sidecarStart := uint64(frame.FixedHeaderLen+frame.DigestLen) + prefixLen
		end := sidecarStart + uint64(len(sidecar))
		pad := alignUp(end, granule) - end
		base := uint64(len(sidecar)) + pad

		out = s.Clone()
		for i := range out.Objects {
			if o := &out.Objects[i].Object; o.IsEmbeddedFrame() {
				o.Frame.Init.Embedded.Offset += base
			}
		}
		body = make([]byte, 0, base+embeddedLen)
		body = append(body, sidecar...)
		body = append(body, make([]byte, pad)...)
		for _, f := range frames {
			body = append(body, f...)
		}
		log.Debug().Msgf("wire.Marshal embedded frames=%d pad=%d base=%d", len(frames), pad, base)
	}

	prefix := EncodePrefix(out)
	data := frame.Encode(frame.Blob{
		Header:  frame.Header{Arch: opts.Arch, Flags: flags},
		Prefix:  prefix,
		Sidecar: body,
	})
	if len(frames) > 0 {
		h, err := frame.DecodeHeader(data[:frame.FixedHeaderLen])
		if err != nil {
			return nil, err
		}
		if (h.SidecarOffset()+uint64(len(body))-embeddedLen)%granule != 0 {
			return nil, fmt.Errorf("%w: prefix length changed during relocation", ErrEmbeddedLayout)
		}
	}
	return data, nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
