package spec

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed       = errors.New("spec: malformed specification")
	ErrUnknownObject   = errors.New("spec: unknown object")
	ErrUnknownKind     = errors.New("spec: unknown object kind")
	ErrUnknownFormat   = errors.New("spec: unknown input format")
	ErrUnresolvedName  = errors.New("spec: unresolved object name")
	ErrDuplicateObject = errors.New("spec: duplicate object name")
)

// ValidationError reports a structural problem with one object (or with the
// spec as a whole when Object is nil).
type ValidationError struct {
	Object *ObjectID
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Object != nil && e.Field != "":
		return fmt.Sprintf("spec: object=%d field=%s: %s", *e.Object, e.Field, e.Reason)
	case e.Object != nil:
		return fmt.Sprintf("spec: object=%d: %s", *e.Object, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("spec: field=%s: %s", e.Field, e.Reason)
	default:
		return "spec: " + e.Reason
	}
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformed
}

func objectError(id ObjectID, field, format string, args ...any) error {
	return &ValidationError{Object: &id, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func specError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
