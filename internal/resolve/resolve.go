// Package resolve turns sidecar indirections back into bytes. A Source only
// borrows the sidecar and never caches, so resolving the same range twice
// yields the same bytes.
package resolve

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/danmuck/capinit/internal/spec"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"
)

var (
	ErrOutOfBounds    = errors.New("resolve: range out of bounds")
	ErrLengthMismatch = errors.New("resolve: declared length mismatch")
	ErrDecompress     = errors.New("resolve: decompression failed")
	ErrNeedsFiles     = errors.New("resolve: content refers to a build-time file")
	ErrInvalidUTF8    = errors.New("resolve: name is not valid utf-8")
)

// RangeError reports a sidecar range that runs past the end of the sidecar.
type RangeError struct {
	Range spec.Range
	Limit uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("resolve: range [%d,%d) outside sidecar of %d bytes", e.Range.Start, e.Range.End, e.Limit)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfBounds
}

// Source resolves names and content against one sidecar blob and, for
// boot-time content, the kernel's boot information regions. Bootinfo content
// is best effort: bytes past the end of a region, or of a region the kernel
// did not provide, resolve to zero.
type Source struct {
	sidecar  []byte
	bootInfo map[spec.BootInfoID][]byte
}

func NewSource(sidecar []byte) Source {
	return Source{sidecar: sidecar}
}

// WithBootInfo returns a copy of s that also resolves bootinfo content of id.
func (s Source) WithBootInfo(id spec.BootInfoID, data []byte) Source {
	next := make(map[spec.BootInfoID][]byte, len(s.bootInfo)+1)
	for k, v := range s.bootInfo {
		next[k] = v
	}
	next[id] = data
	return Source{sidecar: s.sidecar, bootInfo: next}
}

func (s Source) Len() uint64 {
	return uint64(len(s.sidecar))
}

// Bytes borrows the sidecar bytes of r. The returned slice has its capacity
// clipped to r so appends cannot spill into neighbouring data.
func (s Source) Bytes(r spec.Range) ([]byte, error) {
	if !r.Within(uint64(len(s.sidecar))) {
		return nil, &RangeError{Range: r, Limit: uint64(len(s.sidecar))}
	}
	return s.sidecar[r.Start:r.End:r.End], nil
}

// Name resolves a debug name. NameNone resolves to "" and false.
func (s Source) Name(n spec.Name) (string, bool, error) {
	switch n.Kind {
	case spec.NameNone:
		return "", false, nil
	case spec.NameText:
		return n.Text, true, nil
	case spec.NameIndirect:
		b, err := s.Bytes(n.Range)
		if err != nil {
			return "", false, err
		}
		if !utf8.Valid(b) {
			return "", false, fmt.Errorf("%w: range [%d,%d)", ErrInvalidUTF8, n.Range.Start, n.Range.End)
		}
		return string(b), true, nil
	default:
		return "", false, fmt.Errorf("%w: name kind %d", spec.ErrMalformed, n.Kind)
	}
}

// CopyOut writes the content of entry into dst, which must be exactly the
// entry's declared length.
func (s Source) CopyOut(entry spec.FillEntry, dst []byte) error {
	want := entry.Range.Len()
	if uint64(len(dst)) != want {
		return fmt.Errorf("%w: buffer %d bytes for entry of %d", ErrLengthMismatch, len(dst), want)
	}
	c := entry.Content
	switch c.Kind {
	case spec.ContentBytes:
		src, err := s.Bytes(c.Range)
		if err != nil {
			return err
		}
		if uint64(len(src)) != want {
			return fmt.Errorf("%w: content %d bytes for entry of %d", ErrLengthMismatch, len(src), want)
		}
		copy(dst, src)
		return nil
	case spec.ContentDeflated:
		src, err := s.Bytes(c.Range)
		if err != nil {
			return err
		}
		return Inflate(src, dst)
	case spec.ContentInline:
		if uint64(len(c.Data)) != want {
			return fmt.Errorf("%w: inline %d bytes for entry of %d", ErrLengthMismatch, len(c.Data), want)
		}
		copy(dst, c.Data)
		return nil
	case spec.ContentBootInfo:
		n := s.copyBootInfo(c, dst)
		if uint64(n) < want {
			log.Debug().Msgf("resolve.Source.CopyOut bootinfo=%s offset=%d copied=%d declared=%d", c.BootInfo, c.Offset, n, want)
		}
		return nil
	case spec.ContentFile:
		return fmt.Errorf("%w: %s", ErrNeedsFiles, c.File)
	default:
		return fmt.Errorf("%w: content kind %d", spec.ErrMalformed, c.Kind)
	}
}

// copyBootInfo copies what the region holds from c.Offset on, at most
// len(dst) bytes, and zeroes the rest of dst. A region the kernel did not
// provide copies nothing.
func (s Source) copyBootInfo(c spec.Content, dst []byte) int {
	var n int
	if region, ok := s.bootInfo[c.BootInfo]; ok && c.Offset < uint64(len(region)) {
		n = copy(dst, region[c.Offset:])
	}
	clear(dst[n:])
	return n
}

// Resolve allocates a buffer of the entry's declared length and fills it.
func (s Source) Resolve(entry spec.FillEntry) ([]byte, error) {
	dst := make([]byte, entry.Range.Len())
	if err := s.CopyOut(entry, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Inflate decompresses raw deflate data from src into dst. The stream must
// produce exactly len(dst) bytes; it only ever reads src.
func Inflate(src, dst []byte) error {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()
	n, err := io.ReadFull(r, dst)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF) && len(dst) > 0:
		return fmt.Errorf("%w: inflated %d bytes, declared %d", ErrLengthMismatch, n, len(dst))
	case err != nil:
		return fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	var probe [1]byte
	extra, err := r.Read(probe[:])
	if extra > 0 {
		return fmt.Errorf("%w: stream longer than declared %d bytes", ErrLengthMismatch, len(dst))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	log.Trace().Msgf("resolve.Inflate compressed=%d inflated=%d", len(src), len(dst))
	return nil
}

// Materialize returns a self-contained copy of sp: indirect names become text
// and sidecar content becomes inline bytes. Bootinfo content stays deferred.
func (s Source) Materialize(sp *spec.Spec) (*spec.Spec, error) {
	return sp.Transform(
		func(id spec.ObjectID, obj *spec.NamedObject) (spec.Name, error) {
			if obj.Name.Kind != spec.NameIndirect {
				return obj.Name, nil
			}
			name, _, err := s.Name(obj.Name)
			if err != nil {
				return spec.Name{}, fmt.Errorf("object=%d name: %w", id, err)
			}
			return spec.TextName(name), nil
		},
		func(id spec.ObjectID, entry spec.FillEntry) (spec.Content, error) {
			switch entry.Content.Kind {
			case spec.ContentBytes, spec.ContentDeflated:
				data, err := s.Resolve(entry)
				if err != nil {
					return spec.Content{}, fmt.Errorf("object=%d fill [%d,%d): %w", id, entry.Range.Start, entry.Range.End, err)
				}
				return spec.InlineContent(data), nil
			default:
				return entry.Content, nil
			}
		},
	)
}
