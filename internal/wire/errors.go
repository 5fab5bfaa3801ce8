package wire

import (
	"errors"
	"fmt"

	"github.com/danmuck/capinit/internal/wire/schema"
)

var (
	ErrMalformedPrefix = errors.New("wire: malformed prefix")
	ErrEmbeddedLayout  = errors.New("wire: invalid embedded frame layout")
	ErrUnknownObject   = errors.New("wire: object index out of range")
)

// DecodeError locates a prefix decoding failure.
type DecodeError struct {
	Record schema.Record
	Object int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Object >= 0 {
		return fmt.Sprintf("wire: decode %s of object=%d: %v", e.Record, e.Object, e.Err)
	}
	return fmt.Sprintf("wire: decode %s: %v", e.Record, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedPrefix, e.Err}
}
