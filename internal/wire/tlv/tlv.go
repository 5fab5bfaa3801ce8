package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader  = errors.New("tlv: short field header")
	ErrShortFieldValue   = errors.New("tlv: short field value")
	ErrFieldTypeMismatch = errors.New("tlv: field type mismatch")
	ErrInvalidWidth      = errors.New("tlv: invalid value width")
)

// Type IDs. Record values are themselves an encoded field sequence.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeRecord uint8 = 8
)

// Field is one TLV field. Value may borrow from the buffer it was parsed from.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func AppendField(dst []byte, f Field) []byte {
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = f.Type
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...)
}

func EncodeField(f Field) []byte {
	return AppendField(make([]byte, 0, HeaderLen+len(f.Value)), f)
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = AppendField(out, f)
	}
	return out
}

// ParseFields splits payload into fields without copying: every Value
// aliases payload.
func ParseFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	err := ScanFields(payload, func(f Field) error {
		fields = append(fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// DecodeFields is ParseFields with every Value copied out of payload.
func DecodeFields(payload []byte) ([]Field, error) {
	fields, err := ParseFields(payload)
	if err != nil {
		return nil, err
	}
	for i := range fields {
		val := make([]byte, len(fields[i].Value))
		copy(val, fields[i].Value)
		fields[i].Value = val
	}
	return fields, nil
}

// ScanFields calls fn for each field in payload in order, stopping at the
// first error.
func ScanFields(payload []byte, fn func(Field) error) error {
	i := 0
	for i < len(payload) {
		if len(payload)-i < HeaderLen {
			return ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += HeaderLen
		if uint64(len(payload)-i) < uint64(l) {
			return ErrShortFieldValue
		}
		end := i + int(l)
		if err := fn(Field{ID: id, Type: typeID, Value: payload[i:end:end]}); err != nil {
			return err
		}
		i = end
	}
	return nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// AllFields returns every field with id, in order.
func AllFields(fields []Field, id uint16) []Field {
	var out []Field
	for _, f := range fields {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

func MustType(f Field, expected uint8) error {
	if f.Type != expected {
		return fmt.Errorf("%w: field %d got %d want %d", ErrFieldTypeMismatch, f.ID, f.Type, expected)
	}
	return nil
}

func U8(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeU8, Value: []byte{v}}
}

func U32(id uint16, v uint32) Field {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Field{ID: id, Type: TypeU32, Value: b}
}

func U64(id uint16, v uint64) Field {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Field{ID: id, Type: TypeU64, Value: b}
}

func Bool(id uint16, v bool) Field {
	var b byte
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func Bytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: v}
}

func Record(id uint16, fields ...Field) Field {
	return Field{ID: id, Type: TypeRecord, Value: EncodeFields(fields)}
}

func (f Field) U8() (uint8, error) {
	if err := MustType(f, TypeU8); err != nil {
		return 0, err
	}
	if len(f.Value) != 1 {
		return 0, fmt.Errorf("%w: field %d u8 length %d", ErrInvalidWidth, f.ID, len(f.Value))
	}
	return f.Value[0], nil
}

func (f Field) U32() (uint32, error) {
	if err := MustType(f, TypeU32); err != nil {
		return 0, err
	}
	return U32FromBytes(f.Value)
}

func (f Field) U64() (uint64, error) {
	if err := MustType(f, TypeU64); err != nil {
		return 0, err
	}
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: field %d u64 length %d", ErrInvalidWidth, f.ID, len(f.Value))
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) Bool() (bool, error) {
	if err := MustType(f, TypeBool); err != nil {
		return false, err
	}
	if len(f.Value) != 1 || f.Value[0] > 1 {
		return false, fmt.Errorf("%w: field %d bool", ErrInvalidWidth, f.ID)
	}
	return f.Value[0] == 1, nil
}

func (f Field) Str() (string, error) {
	if err := MustType(f, TypeString); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

// Fields parses a record field's value.
func (f Field) Fields() ([]Field, error) {
	if err := MustType(f, TypeRecord); err != nil {
		return nil, err
	}
	return ParseFields(f.Value)
}

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: u32 length %d", ErrInvalidWidth, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
