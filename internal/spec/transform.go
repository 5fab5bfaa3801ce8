package spec

// NameFunc rewrites the name of object id.
type NameFunc func(id ObjectID, obj *NamedObject) (Name, error)

// ContentFunc rewrites one fill entry of frame id.
type ContentFunc func(id ObjectID, entry FillEntry) (Content, error)

// Transform copies s moving it between lifecycles: names and fill content are
// rewritten, structure and indices stay as they are. A nil func keeps that
// axis unchanged.
func (s *Spec) Transform(names NameFunc, content ContentFunc) (*Spec, error) {
	out := s.Clone()
	for i := range out.Objects {
		id := ObjectID(i)
		obj := &out.Objects[i]
		if names != nil {
			name, err := names(id, obj)
			if err != nil {
				return nil, err
			}
			obj.Name = name
		}
		if content == nil || obj.Object.Kind != KindFrame || obj.Object.Frame == nil {
			continue
		}
		if obj.Object.Frame.Init.Kind != InitFill {
			continue
		}
		entries := obj.Object.Frame.Init.Fill.Entries
		for j := range entries {
			c, err := content(id, entries[j])
			if err != nil {
				return nil, err
			}
			entries[j].Content = c
		}
	}
	return out, nil
}

// Walk visits every object in index order.
func (s *Spec) Walk(fn func(id ObjectID, obj *NamedObject) error) error {
	for i := range s.Objects {
		if err := fn(ObjectID(i), &s.Objects[i]); err != nil {
			return err
		}
	}
	return nil
}

// References returns every object a cap table entry of obj points at.
func (o *Object) References() []ObjectID {
	out := make([]ObjectID, 0, len(o.Slots))
	for _, e := range o.Slots {
		out = append(out, e.Cap.Object)
	}
	return out
}
