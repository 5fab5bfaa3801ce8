package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "tcb_main"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestParseFieldsBorrowsAndDecodeFieldsCopies(t *testing.T) {
	b := EncodeFields([]Field{Bytes(1, []byte("abc"))})
	borrowed, err := ParseFields(b)
	if err != nil {
		t.Fatalf("parse fields: %v", err)
	}
	copied, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	b[HeaderLen] = 'z'
	if string(borrowed[0].Value) != "zbc" {
		t.Fatalf("parsed value should alias the payload, got %q", borrowed[0].Value)
	}
	if string(copied[0].Value) != "abc" {
		t.Fatalf("decoded value should be a copy, got %q", copied[0].Value)
	}
	if cap(borrowed[0].Value) != 3 {
		t.Fatalf("borrowed value capacity should be clipped, got %d", cap(borrowed[0].Value))
	}
}

func TestNestedRecordAndTypedAccessors(t *testing.T) {
	rec := Record(10, U8(1, 7), U32(2, 0xdeadbeef), U64(3, 1<<40), Bool(4, true))
	fields, err := rec.Fields()
	if err != nil {
		t.Fatalf("record fields: %v", err)
	}
	if v, err := fields[0].U8(); err != nil || v != 7 {
		t.Fatalf("u8: %d %v", v, err)
	}
	if v, err := fields[1].U32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("u32: %#x %v", v, err)
	}
	if v, err := fields[2].U64(); err != nil || v != 1<<40 {
		t.Fatalf("u64: %d %v", v, err)
	}
	if v, err := fields[3].Bool(); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if _, err := fields[0].U64(); !errors.Is(err, ErrFieldTypeMismatch) {
		t.Fatalf("expected ErrFieldTypeMismatch, got %v", err)
	}
	if got := AllFields(fields, 2); len(got) != 1 {
		t.Fatalf("expected one field with id 2, got %d", len(got))
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
