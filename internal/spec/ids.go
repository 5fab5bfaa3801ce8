package spec

// ObjectID is a dense index into Spec.Objects.
type ObjectID uint32

// CapSlot is a slot number inside an object's capability table.
type CapSlot uint32

// Word is a machine word on the target.
type Word uint64

// Range is a half-open byte range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) Valid() bool {
	return r.Start <= r.End
}

// Within reports whether r lies entirely inside [0, limit).
func (r Range) Within(limit uint64) bool {
	return r.Valid() && r.End <= limit
}

// IDRange is a half-open range of object indices.
type IDRange struct {
	Start ObjectID
	End   ObjectID
}

func (r IDRange) Contains(id ObjectID) bool {
	return id >= r.Start && id < r.End
}

func (r IDRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

func (r IDRange) Overlaps(o IDRange) bool {
	return r.Start < o.End && o.Start < r.End
}
