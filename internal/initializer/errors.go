package initializer

import (
	"errors"
	"fmt"

	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
)

var (
	ErrConfig     = errors.New("initializer: invalid configuration")
	ErrNotCreated = errors.New("initializer: object referenced before creation")
	ErrEmbedded   = errors.New("initializer: embedded frame outside the loader image")
	ErrMCS        = errors.New("initializer: sched contexts need an MCS kernel")
)

// NoObject marks an error not tied to one object.
const NoObject = -1

// Error is a failed step of the reconstruction. It names the phase, the
// operation, and the object being built when the failure happened.
type Error struct {
	Phase  Phase
	Op     string
	Object int
	Name   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("initializer: %s: %s", e.Phase, e.Op)
	if e.Object != NoObject {
		msg += fmt.Sprintf(" object=%d", e.Object)
		if e.Name != "" {
			msg += fmt.Sprintf(" (%s)", e.Name)
		}
	}
	if code, ok := kernel.CodeOf(e.Err); ok {
		msg += fmt.Sprintf(" code=%s", code)
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (i *Initializer) fail(phase Phase, op string, id spec.ObjectID, err error) error {
	return &Error{Phase: phase, Op: op, Object: int(id), Name: i.name(id), Err: err}
}

func (i *Initializer) failGlobal(phase Phase, op string, err error) error {
	return &Error{Phase: phase, Op: op, Object: NoObject, Err: err}
}
