package spec

import "fmt"

// InitKind tags the FrameInit union.
type InitKind uint8

const (
	InitFill InitKind = iota
	InitEmbedded
)

// FrameInit says how a frame's bytes get populated: by fill entries copied
// after creation, or by mapping a pre-rendered page of the loader image.
type FrameInit struct {
	Kind     InitKind
	Fill     Fill
	Embedded EmbeddedFrame
}

// EmbeddedFrame locates a pre-rendered, granule-aligned page inside the
// sidecar.
type EmbeddedFrame struct {
	Offset uint64
}

// Fill is an ordered list of byte ranges of a frame and where their content
// comes from. An empty fill leaves the frame zeroed.
type Fill struct {
	Entries []FillEntry
}

func (f Fill) IsEmpty() bool {
	return len(f.Entries) == 0
}

// DependsOnBootInfo reports whether any entry reads kernel-supplied boot
// information, which is only known at boot time.
func (f Fill) DependsOnBootInfo() bool {
	for _, e := range f.Entries {
		if e.Content.Kind == ContentBootInfo {
			return true
		}
	}
	return false
}

// FillEntry places content at Range within the frame.
type FillEntry struct {
	Range   Range
	Content Content
}

// ContentKind tags the Content union. File is the human-readable form,
// Bytes and Deflated are the packaged forms, Inline is self-contained and
// BootInfo is resolved against the kernel's boot information at run time.
type ContentKind uint8

const (
	ContentFile ContentKind = iota + 1
	ContentBytes
	ContentDeflated
	ContentInline
	ContentBootInfo
)

var contentKindNames = map[ContentKind]string{
	ContentFile:     "file",
	ContentBytes:    "bytes",
	ContentDeflated: "deflated",
	ContentInline:   "inline",
	ContentBootInfo: "bootinfo",
}

func (k ContentKind) String() string {
	if name, ok := contentKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("content(%d)", uint8(k))
}

// BootInfoID names a region of kernel-supplied boot information.
type BootInfoID uint8

const (
	BootInfoFDT BootInfoID = 1
)

func ParseBootInfoID(raw string) (BootInfoID, error) {
	switch raw {
	case "fdt":
		return BootInfoFDT, nil
	default:
		return 0, fmt.Errorf("%w: unknown bootinfo id %q", ErrMalformed, raw)
	}
}

func (id BootInfoID) String() string {
	if id == BootInfoFDT {
		return "fdt"
	}
	return fmt.Sprintf("bootinfo(%d)", uint8(id))
}

// Content is the source of a fill entry's bytes. Kind selects the meaningful
// fields:
//
//	File      File, FileOffset
//	Bytes     Range (into the sidecar)
//	Deflated  Range (compressed bytes in the sidecar)
//	Inline    Data
//	BootInfo  BootInfo, Offset
//
// The uncompressed length of every kind is the owning entry's Range length.
type Content struct {
	Kind       ContentKind
	File       string
	FileOffset uint64
	Range      Range
	Data       []byte
	BootInfo   BootInfoID
	Offset     uint64
}

func FileContent(file string, offset uint64) Content {
	return Content{Kind: ContentFile, File: file, FileOffset: offset}
}

func BytesContent(r Range) Content {
	return Content{Kind: ContentBytes, Range: r}
}

func DeflatedContent(r Range) Content {
	return Content{Kind: ContentDeflated, Range: r}
}

func InlineContent(data []byte) Content {
	return Content{Kind: ContentInline, Data: data}
}

func BootInfoContent(id BootInfoID, offset uint64) Content {
	return Content{Kind: ContentBootInfo, BootInfo: id, Offset: offset}
}

// FrameFill returns the fill of a frame object initialised by fill entries.
func (o *Object) FrameFill() (Fill, bool) {
	if o.Kind != KindFrame || o.Frame == nil || o.Frame.Init.Kind != InitFill {
		return Fill{}, false
	}
	return o.Frame.Init.Fill, true
}
