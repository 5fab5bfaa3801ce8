package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	FixedHeaderLen uint16 = 32
	DigestLen      uint16 = blake2b.Size256

	Magic   uint32 = 0x43444C53 // "CDLS"
	Version uint16 = 1

	FlagHasDigest      uint32 = 0x01
	FlagDeflate        uint32 = 0x02
	FlagEmbeddedFrames uint32 = 0x04
	FlagNames          uint32 = 0x08
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch  = errors.New("frame: digest flag does not match header_len")
	ErrTruncated          = errors.New("frame: blob shorter than declared lengths")
	ErrTrailingBytes      = errors.New("frame: bytes after declared sidecar")
	ErrPrefixTooLarge     = errors.New("frame: prefix too large")
	ErrSidecarTooLarge    = errors.New("frame: sidecar too large")
	ErrDigestMismatch     = errors.New("frame: digest mismatch")
)

// Header is the fixed blob header. The prefix starts at HeaderLen and the
// sidecar right after PrefixLen bytes of prefix.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	SidecarLen uint64
	Arch       uint32
	Flags      uint32
	PrefixLen  uint64
}

// SidecarOffset is the blob offset of the first sidecar byte.
func (h Header) SidecarOffset() uint64 {
	return uint64(h.HeaderLen) + h.PrefixLen
}

func (h Header) TotalLen() uint64 {
	return h.SidecarOffset() + h.SidecarLen
}

// Blob is one complete spec blob. Decode leaves Prefix and Sidecar aliasing
// the input.
type Blob struct {
	Header  Header
	Digest  []byte
	Prefix  []byte
	Sidecar []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPrefixBytes  uint64
	MaxSidecarBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPrefixBytes:  64 * 1024 * 1024,
		MaxSidecarBytes: 1 << 32,
	}
}

// Sum computes the digest over prefix and sidecar.
func Sum(prefix, sidecar []byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(prefix)
	h.Write(sidecar)
	return h.Sum(nil)
}

// Encode lays out the blob, filling in lengths, flags and the digest.
func Encode(b Blob) []byte {
	h := b.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + DigestLen
	h.Flags |= FlagHasDigest
	h.PrefixLen = uint64(len(b.Prefix))
	h.SidecarLen = uint64(len(b.Sidecar))

	out := make([]byte, 0, h.TotalLen())
	out = append(out, EncodeHeader(h)...)
	out = append(out, Sum(b.Prefix, b.Sidecar)...)
	out = append(out, b.Prefix...)
	return append(out, b.Sidecar...)
}

// Decode parses and verifies a blob held entirely in memory.
func Decode(data []byte, limits Limits) (Blob, error) {
	if len(data) < int(FixedHeaderLen) {
		return Blob{}, ErrShortHeader
	}
	h, err := DecodeHeader(data[:FixedHeaderLen])
	if err != nil {
		return Blob{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Blob{}, err
	}
	total := h.TotalLen()
	if uint64(len(data)) < total {
		return Blob{}, fmt.Errorf("%w: have %d want %d", ErrTruncated, len(data), total)
	}
	if uint64(len(data)) > total {
		return Blob{}, fmt.Errorf("%w: have %d want %d", ErrTrailingBytes, len(data), total)
	}
	b := Blob{
		Header:  h,
		Digest:  data[FixedHeaderLen:h.HeaderLen],
		Prefix:  data[h.HeaderLen:h.SidecarOffset()],
		Sidecar: data[h.SidecarOffset():total],
	}
	if len(b.Digest) > 0 && !bytes.Equal(b.Digest, Sum(b.Prefix, b.Sidecar)) {
		return Blob{}, ErrDigestMismatch
	}
	return b, nil
}

// Read reads one blob from r.
func Read(r io.Reader, limits Limits) (Blob, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Blob{}, ErrShortHeader
		}
		return Blob{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Blob{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Blob{}, err
	}
	buf := make([]byte, h.TotalLen())
	copy(buf, fixed[:])
	if _, err := io.ReadFull(r, buf[FixedHeaderLen:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Blob{}, ErrTruncated
		}
		return Blob{}, err
	}
	return Decode(buf, limits)
}

func Write(w io.Writer, b Blob) error {
	_, err := w.Write(Encode(b))
	return err
}

func checkHeader(h Header, limits Limits) error {
	if h.Magic != Magic {
		return ErrBadMagic
	}
	if h.Version != Version {
		return ErrUnsupportedVersion
	}
	if h.HeaderLen < FixedHeaderLen {
		return ErrHeaderLenTooSmall
	}
	digestLen := h.HeaderLen - FixedHeaderLen
	if (h.Flags&FlagHasDigest != 0) != (digestLen == DigestLen) || (digestLen != 0 && digestLen != DigestLen) {
		return ErrHeaderLenMismatch
	}
	if h.PrefixLen > limits.MaxPrefixBytes {
		return ErrPrefixTooLarge
	}
	if h.SidecarLen > limits.MaxSidecarBytes {
		return ErrSidecarTooLarge
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.SidecarLen)
	binary.BigEndian.PutUint32(buf[16:20], h.Arch)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PrefixLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		SidecarLen: binary.BigEndian.Uint64(b[8:16]),
		Arch:       binary.BigEndian.Uint32(b[16:20]),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PrefixLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
