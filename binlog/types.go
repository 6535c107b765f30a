package binlog

import (
	"fmt"
)

// ColumnType is the numeric column type used in TableMapEvent and
// RowsEvent.
//
// https://dev.mysql.com/doc/internals/en/com-query-response.html#packet-Protocol::ColumnType
type ColumnType uint8

// ColumnType constants.
const (
	TypeDecimal    ColumnType = 0x00
	TypeTiny       ColumnType = 0x01
	TypeShort      ColumnType = 0x02
	TypeLong       ColumnType = 0x03
	TypeFloat      ColumnType = 0x04
	TypeDouble     ColumnType = 0x05
	TypeNull       ColumnType = 0x06
	TypeTimestamp  ColumnType = 0x07
	TypeLongLong   ColumnType = 0x08
	TypeInt24      ColumnType = 0x09
	TypeDate       ColumnType = 0x0a
	TypeTime       ColumnType = 0x0b
	TypeDateTime   ColumnType = 0x0c
	TypeYear       ColumnType = 0x0d
	TypeNewDate    ColumnType = 0x0e
	TypeVarchar    ColumnType = 0x0f
	TypeBit        ColumnType = 0x10
	TypeTimestamp2 ColumnType = 0x11
	TypeDateTime2  ColumnType = 0x12
	TypeTime2      ColumnType = 0x13
	TypeJSON       ColumnType = 0xf5
	TypeNewDecimal ColumnType = 0xf6
	TypeEnum       ColumnType = 0xf7
	TypeSet        ColumnType = 0xf8
	TypeTinyBlob   ColumnType = 0xf9
	TypeMediumBlob ColumnType = 0xfa
	TypeLongBlob   ColumnType = 0xfb
	TypeBlob       ColumnType = 0xfc
	TypeVarString  ColumnType = 0xfd
	TypeString     ColumnType = 0xfe
	TypeGeometry   ColumnType = 0xff
)

var columnTypeNames = map[ColumnType]string{
	TypeDecimal:    "decimal",
	TypeTiny:       "tiny",
	TypeShort:      "short",
	TypeLong:       "long",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeNull:       "null",
	TypeTimestamp:  "timestamp",
	TypeLongLong:   "longLong",
	TypeInt24:      "int24",
	TypeDate:       "date",
	TypeTime:       "time",
	TypeDateTime:   "dateTime",
	TypeYear:       "year",
	TypeNewDate:    "newDate",
	TypeVarchar:    "varchar",
	TypeBit:        "bit",
	TypeTimestamp2: "timestamp2",
	TypeDateTime2:  "dateTime2",
	TypeTime2:      "time2",
	TypeJSON:       "json",
	TypeNewDecimal: "newDecimal",
	TypeEnum:       "enum",
	TypeSet:        "set",
	TypeTinyBlob:   "tinyBlob",
	TypeMediumBlob: "mediumBlob",
	TypeLongBlob:   "longBlob",
	TypeBlob:       "blob",
	TypeVarString:  "varString",
	TypeString:     "string",
	TypeGeometry:   "geometry",
}

func (t ColumnType) String() string {
	if s, ok := columnTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// metaWidth is the number of metadata bytes a column of this type
// contributes to the TableMapEvent metadata block.
func (t ColumnType) metaWidth() int {
	switch t {
	case TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob,
		TypeDouble, TypeFloat, TypeGeometry, TypeJSON,
		TypeTime2, TypeDateTime2, TypeTimestamp2:
		return 1
	case TypeVarchar, TypeBit, TypeDecimal, TypeNewDecimal,
		TypeSet, TypeEnum, TypeString, TypeVarString:
		return 2
	default:
		return 0
	}
}

const digitsPerInteger = 9

// compressedBytes maps a group of 0..9 leftover decimal digits to its
// packed byte cost.
var compressedBytes = [...]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

// decimalSize is the packed size of a DECIMAL(precision, scale) value:
// each full group of 9 digits costs 4 bytes, the remainder is packed
// per compressedBytes.
func decimalSize(precision, scale int) int {
	integral := precision - scale
	fullIntegral := integral / digitsPerInteger
	fullFractional := scale / digitsPerInteger
	restIntegral := integral - fullIntegral*digitsPerInteger
	restFractional := scale - fullFractional*digitsPerInteger
	return fullIntegral*4 + compressedBytes[restIntegral] +
		fullFractional*4 + compressedBytes[restFractional]
}

// skipColumnValue advances the reader past one non-NULL column value.
// The sizing depends on the column type and its metadata word; values
// are never interpreted here.
func skipColumnValue(r *reader, typ ColumnType, meta uint16) error {
	switch typ {
	case TypeNull:
		return nil
	case TypeTiny, TypeYear:
		return r.skip(1)
	case TypeShort:
		return r.skip(2)
	case TypeInt24, TypeNewDate, TypeDate, TypeTime:
		return r.skip(3)
	case TypeLong, TypeTimestamp, TypeFloat:
		return r.skip(4)
	case TypeLongLong, TypeDouble, TypeDateTime:
		return r.skip(8)
	case TypeDecimal:
		// legacy decimal: metadata low byte is the stored size
		return r.skip(int(meta & 0xff))
	case TypeNewDecimal:
		precision := int(meta & 0xff)
		scale := int(meta >> 8)
		return r.skip(decimalSize(precision, scale))
	case TypeTimestamp2:
		return r.skip(4 + fractionalBytes(meta))
	case TypeDateTime2:
		return r.skip(5 + fractionalBytes(meta))
	case TypeTime2:
		return r.skip(3 + fractionalBytes(meta))
	case TypeEnum, TypeSet, TypeString:
		// TableMapEvent metadata packs the real type in the low byte
		realType := ColumnType(meta & 0xff)
		if realType == TypeEnum || realType == TypeSet {
			return r.skip(int(meta>>8) & 0xff)
		}
		n := int(r.int1())
		if r.err != nil {
			return r.err
		}
		return r.skip(n)
	case TypeVarchar, TypeVarString:
		var n int
		if meta > 255 {
			n = int(r.int2())
		} else {
			n = int(r.int1())
		}
		if r.err != nil {
			return r.err
		}
		return r.skip(n)
	case TypeBit:
		// metadata = (bytes << 8) | leftover bits
		n := int(meta >> 8)
		if meta&0xff > 0 {
			n++
		}
		return r.skip(n)
	case TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob, TypeGeometry, TypeJSON:
		// metadata is the width of the length field
		n := r.intFixed(int(meta))
		if r.err != nil {
			return r.err
		}
		return r.skip(int(n))
	default:
		return ErrMalformedEvent.New(TABLE_MAP_EVENT.String(),
			fmt.Sprintf("cannot size column type %s", typ))
	}
}

// fractionalBytes is the storage cost of the fractional-second part of
// the temporal2 types: ceil(decimals/2) bytes.
func fractionalBytes(meta uint16) int {
	return int(meta+1) / 2
}
