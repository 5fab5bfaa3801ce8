package initializer

import (
	"github.com/danmuck/capinit/internal/kernel"
	"github.com/danmuck/capinit/internal/spec"
	"github.com/danmuck/capinit/internal/untyped"
)

// Phase names one pass of the reconstruction.
type Phase string

const (
	PhaseCreate       Phase = "create"
	PhaseIRQ          Phase = "irq"
	PhaseASID         Phase = "asid"
	PhaseFill         Phase = "fill"
	PhaseVSpace       Phase = "vspace"
	PhaseSchedContext Phase = "sched_context"
	PhaseTCB          Phase = "tcb"
	PhaseCSpace       Phase = "cspace"
	PhaseStart        Phase = "start"
	PhaseSuspend      Phase = "suspend"
)

// Phases is the fixed order the passes run in.
var Phases = []Phase{
	PhaseCreate, PhaseIRQ, PhaseASID, PhaseFill, PhaseVSpace,
	PhaseSchedContext, PhaseTCB, PhaseCSpace, PhaseStart, PhaseSuspend,
}

type EventKind uint8

const (
	// EventCreate: Object now has a cap.
	EventCreate EventKind = iota + 1
	// EventPopulate: Slot of Object was filled with a cap to Target.
	EventPopulate
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventPopulate:
		return "populate"
	default:
		return "unknown"
	}
}

// Event is one step of the trace.
type Event struct {
	Step   int
	Kind   EventKind
	Phase  Phase
	Object spec.ObjectID
	Slot   spec.CapSlot
	Target spec.ObjectID
}

// Report summarizes a completed run.
type Report struct {
	Trace []Event

	Creations        int
	PopulatedSlots   int
	Mappings         int
	Copies           int
	Inflations       int
	Zeroings         int
	FillBytes        int
	RegistersWritten int
	Started          int

	// Caps maps every object to the slot of its original cap.
	Caps      []kernel.CPtr
	SlotsUsed int
	Untyped   untyped.Stats
}

func (r *Report) record(e Event) {
	e.Step = len(r.Trace)
	r.Trace = append(r.Trace, e)
	switch e.Kind {
	case EventCreate:
		r.Creations++
	case EventPopulate:
		r.PopulatedSlots++
	}
}

// CreatedAt returns the step at which id was created.
func (r *Report) CreatedAt(id spec.ObjectID) (int, bool) {
	for _, e := range r.Trace {
		if e.Kind == EventCreate && e.Object == id {
			return e.Step, true
		}
	}
	return 0, false
}
