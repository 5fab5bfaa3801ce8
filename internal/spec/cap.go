package spec

import (
	"fmt"
	"strings"
)

// Rights is the permission mask a capability carries.
type Rights struct {
	Read       bool
	Write      bool
	Grant      bool
	GrantReply bool
}

const (
	rightWrite uint8 = 1 << iota
	rightRead
	rightGrant
	rightGrantReply
)

func AllRights() Rights {
	return Rights{Read: true, Write: true, Grant: true, GrantReply: true}
}

// Bits packs the mask in the kernel's seL4_CapRights word order.
func (r Rights) Bits() uint8 {
	var b uint8
	if r.Write {
		b |= rightWrite
	}
	if r.Read {
		b |= rightRead
	}
	if r.Grant {
		b |= rightGrant
	}
	if r.GrantReply {
		b |= rightGrantReply
	}
	return b
}

func RightsFromBits(b uint8) Rights {
	return Rights{
		Write:      b&rightWrite != 0,
		Read:       b&rightRead != 0,
		Grant:      b&rightGrant != 0,
		GrantReply: b&rightGrantReply != 0,
	}
}

func (r Rights) String() string {
	var sb strings.Builder
	for _, p := range []struct {
		on bool
		c  byte
	}{{r.Read, 'R'}, {r.Write, 'W'}, {r.Grant, 'G'}, {r.GrantReply, 'P'}} {
		if p.on {
			sb.WriteByte(p.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ParseRights accepts rights names (read, write, grant, grant_reply) or their
// single-letter forms (r, w, g, p).
func ParseRights(names []string) (Rights, error) {
	var r Rights
	for _, raw := range names {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "read", "r":
			r.Read = true
		case "write", "w":
			r.Write = true
		case "grant", "g":
			r.Grant = true
		case "grant_reply", "p":
			r.GrantReply = true
		default:
			return Rights{}, fmt.Errorf("%w: unknown right %q", ErrMalformed, raw)
		}
	}
	return r, nil
}

// Cap is a reference with permissions to another object of the spec. Kind
// must equal the kind of the target object; the remaining fields are
// meaningful per kind:
//
//	Endpoint, Notification  Rights, Badge
//	CNode                   Guard, GuardSize
//	Frame                   Rights, Cached, Executable
type Cap struct {
	Kind       ObjectKind
	Object     ObjectID
	Rights     Rights
	Badge      Word
	Guard      Word
	GuardSize  uint8
	Cached     bool
	Executable bool
}

// EffectiveRights returns the rights a derived copy of the cap must carry.
func (c Cap) EffectiveRights() Rights {
	if c.Kind.CarriesRights() {
		return c.Rights
	}
	return AllRights()
}

// NeedsMint reports whether deriving the cap needs a mint rather than a copy.
func (c Cap) NeedsMint() bool {
	switch c.Kind {
	case KindEndpoint, KindNotification:
		return c.Badge != 0
	case KindCNode:
		return c.Guard != 0 || c.GuardSize != 0
	default:
		return false
	}
}

// GuardData encodes the CNode guard as the kernel's cap data word.
func (c Cap) GuardData() Word {
	return c.Guard<<6 | Word(c.GuardSize&0x3f)
}

// MintBadge returns the word passed to a mint: the badge for badged kinds,
// guard data for CNodes.
func (c Cap) MintBadge() Word {
	if c.Kind == KindCNode {
		return c.GuardData()
	}
	return c.Badge
}
