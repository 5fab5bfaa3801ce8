package schema

import (
	"fmt"

	"github.com/danmuck/capinit/internal/wire/tlv"
	"github.com/rs/zerolog/log"
)

// Record type IDs of the prefix encoding.
type Record uint16

const (
	RecordSpec Record = iota + 1
	RecordObject
	RecordCap
	RecordTCB
	RecordFrameInit
	RecordFill
	RecordPageTable
	RecordASIDPool
	RecordIRQExtra
	RecordSchedContext
	RecordIRQ
	RecordCover
	RecordList
)

var recordNames = map[Record]string{
	RecordSpec:         "spec",
	RecordObject:       "object",
	RecordCap:          "cap",
	RecordTCB:          "tcb",
	RecordFrameInit:    "frame_init",
	RecordFill:         "fill",
	RecordPageTable:    "page_table",
	RecordASIDPool:     "asid_pool",
	RecordIRQExtra:     "irq_extra",
	RecordSchedContext: "sched_context",
	RecordIRQ:          "irq",
	RecordCover:        "cover",
	RecordList:         "list",
}

func (r Record) String() string {
	if name, ok := recordNames[r]; ok {
		return name
	}
	return fmt.Sprintf("record(%d)", uint16(r))
}

// Field IDs.
const (
	FieldObjects     uint16 = 1
	FieldIRQs        uint16 = 2
	FieldASIDSlots   uint16 = 3
	FieldRootStart   uint16 = 4
	FieldRootEnd     uint16 = 5
	FieldCovers      uint16 = 6
	FieldObject      uint16 = 10
	FieldIRQ         uint16 = 11
	FieldASIDSlot    uint16 = 12
	FieldCover       uint16 = 13
	FieldKind        uint16 = 20
	FieldNameKind    uint16 = 21
	FieldNameText    uint16 = 22
	FieldNameStart   uint16 = 23
	FieldNameEnd     uint16 = 24
	FieldSizeBits    uint16 = 25
	FieldPaddr       uint16 = 26
	FieldSlot        uint16 = 27
	FieldTCB         uint16 = 28
	FieldFrameInit   uint16 = 29
	FieldPageTable   uint16 = 30
	FieldASIDPool    uint16 = 31
	FieldIRQExtra    uint16 = 32
	FieldSchedCtx    uint16 = 33
	FieldSlotNum     uint16 = 40
	FieldCapKind     uint16 = 41
	FieldCapObject   uint16 = 42
	FieldRights      uint16 = 43
	FieldBadge       uint16 = 44
	FieldGuard       uint16 = 45
	FieldGuardSize   uint16 = 46
	FieldCached      uint16 = 47
	FieldExecutable  uint16 = 48
	FieldIPCBuffer   uint16 = 50
	FieldAffinity    uint16 = 51
	FieldPrio        uint16 = 52
	FieldMaxPrio     uint16 = 53
	FieldResume      uint16 = 54
	FieldIP          uint16 = 55
	FieldSP          uint16 = 56
	FieldFlags       uint16 = 57
	FieldGPR         uint16 = 58
	FieldFaultEP     uint16 = 59
	FieldInitKind    uint16 = 60
	FieldEmbedOffset uint16 = 61
	FieldFill        uint16 = 62
	FieldFillStart   uint16 = 70
	FieldFillEnd     uint16 = 71
	FieldContentKind uint16 = 72
	FieldFile        uint16 = 73
	FieldFileOffset  uint16 = 74
	FieldDataStart   uint16 = 75
	FieldDataEnd     uint16 = 76
	FieldData        uint16 = 77
	FieldBootInfoID  uint16 = 78
	FieldBootInfoOff uint16 = 79
	FieldIsRoot      uint16 = 80
	FieldLevel       uint16 = 81
	FieldHigh        uint16 = 85
	FieldTrigger     uint16 = 90
	FieldTarget      uint16 = 91
	FieldHandle      uint16 = 92
	FieldPCIBus      uint16 = 93
	FieldPCIDev      uint16 = 94
	FieldPCIFunc     uint16 = 95
	FieldIOAPIC      uint16 = 96
	FieldPin         uint16 = 97
	FieldIRQLevel    uint16 = 98
	FieldPolarity    uint16 = 99
	FieldPeriod      uint16 = 100
	FieldBudget      uint16 = 101
	FieldSCBadge     uint16 = 102
	FieldIRQNum      uint16 = 110
	FieldHandler     uint16 = 111
	FieldParent      uint16 = 115
	FieldChildStart  uint16 = 116
	FieldChildEnd    uint16 = 117
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Record  Record
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: record=%s: %s", e.Record, e.Reason)
	}
	return fmt.Sprintf("schema: record=%s field=%d: %s", e.Record, e.FieldID, e.Reason)
}

var requirements = map[Record][]Requirement{
	RecordSpec: {
		{FieldObjects, tlv.TypeRecord},
		{FieldRootStart, tlv.TypeU32},
		{FieldRootEnd, tlv.TypeU32},
	},
	RecordObject: {
		{FieldKind, tlv.TypeU8},
		{FieldNameKind, tlv.TypeU8},
	},
	RecordCap: {
		{FieldSlotNum, tlv.TypeU32},
		{FieldCapKind, tlv.TypeU8},
		{FieldCapObject, tlv.TypeU32},
		{FieldRights, tlv.TypeU8},
	},
	RecordTCB: {
		{FieldPrio, tlv.TypeU8},
		{FieldMaxPrio, tlv.TypeU8},
		{FieldIP, tlv.TypeU64},
		{FieldSP, tlv.TypeU64},
	},
	RecordFrameInit: {
		{FieldInitKind, tlv.TypeU8},
	},
	RecordFill: {
		{FieldFillStart, tlv.TypeU64},
		{FieldFillEnd, tlv.TypeU64},
		{FieldContentKind, tlv.TypeU8},
	},
	RecordPageTable: {
		{FieldIsRoot, tlv.TypeBool},
	},
	RecordASIDPool: {
		{FieldHigh, tlv.TypeU64},
	},
	RecordIRQExtra: {},
	RecordList:     {},
	RecordSchedContext: {
		{FieldPeriod, tlv.TypeU64},
		{FieldBudget, tlv.TypeU64},
	},
	RecordIRQ: {
		{FieldIRQNum, tlv.TypeU64},
		{FieldHandler, tlv.TypeU32},
	},
	RecordCover: {
		{FieldParent, tlv.TypeU32},
		{FieldChildStart, tlv.TypeU32},
		{FieldChildEnd, tlv.TypeU32},
	},
}

// Validate enforces required fields and required field types for a record.
// Unknown fields are ignored so newer writers stay readable.
func Validate(record Record, fields []tlv.Field) error {
	reqs, ok := requirements[record]
	if !ok {
		log.Error().Msgf("schema.Validate unknown record=%d", record)
		return ValidationError{Record: record, Reason: "unknown record"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().Msgf("schema.Validate missing field record=%s field_id=%d", record, req.ID)
			return ValidationError{Record: record, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().Msgf(
				"schema.Validate type mismatch record=%s field_id=%d got=%d want=%d",
				record,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{Record: record, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
