package spec

import "fmt"

type NameKind uint8

const (
	NameNone NameKind = iota
	NameText
	NameIndirect
)

// Name is an object's debug name: absent, inline text or a range into the
// sidecar.
type Name struct {
	Kind  NameKind
	Text  string
	Range Range
}

func TextName(s string) Name {
	return Name{Kind: NameText, Text: s}
}

func IndirectName(r Range) Name {
	return Name{Kind: NameIndirect, Range: r}
}

func (n Name) String() string {
	switch n.Kind {
	case NameText:
		return n.Text
	case NameIndirect:
		return fmt.Sprintf("@[%d,%d)", n.Range.Start, n.Range.End)
	default:
		return ""
	}
}

// NamesLevel selects which object names survive packaging.
type NamesLevel uint8

const (
	NamesAll NamesLevel = iota
	NamesTCBs
	NamesNone
)

func ParseNamesLevel(raw string) (NamesLevel, error) {
	switch raw {
	case "", "all":
		return NamesAll, nil
	case "tcbs", "just_tcbs":
		return NamesTCBs, nil
	case "none":
		return NamesNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown object names level %q", ErrMalformed, raw)
	}
}

func (l NamesLevel) String() string {
	switch l {
	case NamesTCBs:
		return "tcbs"
	case NamesNone:
		return "none"
	default:
		return "all"
	}
}

// Keeps reports whether a name of an object of kind k survives this level.
func (l NamesLevel) Keeps(k ObjectKind) bool {
	switch l {
	case NamesAll:
		return true
	case NamesTCBs:
		return k == KindTCB
	default:
		return false
	}
}
