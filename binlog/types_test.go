package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func skipSize(t *testing.T, typ ColumnType, meta uint16, data []byte) int {
	t.Helper()
	r := newBytesReader(data)
	require.NoError(t, skipColumnValue(r, typ, meta))
	return r.off
}

func TestSkipColumnValue_FixedSizes(t *testing.T) {
	buf := make([]byte, 16)
	cases := []struct {
		typ  ColumnType
		want int
	}{
		{TypeTiny, 1},
		{TypeYear, 1},
		{TypeShort, 2},
		{TypeInt24, 3},
		{TypeNewDate, 3},
		{TypeDate, 3},
		{TypeTime, 3},
		{TypeLong, 4},
		{TypeTimestamp, 4},
		{TypeFloat, 4},
		{TypeLongLong, 8},
		{TypeDouble, 8},
		{TypeDateTime, 8},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, skipSize(t, tc.typ, 0, buf), "type %s", tc.typ)
	}

	r := newBytesReader(buf)
	require.NoError(t, skipColumnValue(r, TypeNull, 0))
	require.Equal(t, 0, r.off)
}

func TestSkipColumnValue_Varchar(t *testing.T) {
	// 1-byte length prefix while max length fits a byte
	data := append([]byte{3}, "abcdef"...)
	require.Equal(t, 4, skipSize(t, TypeVarchar, 40, data))

	// 2-byte length prefix for larger columns
	data = append([]byte{3, 0}, "abcdef"...)
	require.Equal(t, 5, skipSize(t, TypeVarchar, 1024, data))
}

func TestSkipColumnValue_Blob(t *testing.T) {
	// metadata = width of the length field
	data := append([]byte{4, 0}, "0123456789"...)
	require.Equal(t, 2+4, skipSize(t, TypeBlob, 2, data))

	data = append([]byte{5}, "0123456789"...)
	require.Equal(t, 1+5, skipSize(t, TypeTinyBlob, 1, data))
}

func TestSkipColumnValue_Bit(t *testing.T) {
	buf := make([]byte, 16)
	// BIT(12): one full byte plus 4 leftover bits
	meta := uint16(1)<<8 | 4
	require.Equal(t, 2, skipSize(t, TypeBit, meta, buf))
	// BIT(8): one full byte, no leftover
	meta = uint16(1) << 8
	require.Equal(t, 1, skipSize(t, TypeBit, meta, buf))
	// BIT(3): leftover bits only
	require.Equal(t, 1, skipSize(t, TypeBit, 3, buf))
}

func TestSkipColumnValue_Enum(t *testing.T) {
	buf := make([]byte, 8)
	// metadata low byte = real type, high byte = packed size
	meta := uint16(2)<<8 | uint16(TypeEnum)
	require.Equal(t, 2, skipSize(t, TypeString, meta, buf))
	meta = uint16(1)<<8 | uint16(TypeSet)
	require.Equal(t, 1, skipSize(t, TypeString, meta, buf))
}

func TestSkipColumnValue_String(t *testing.T) {
	// CHAR: first byte of the field is the value length
	data := append([]byte{5}, "hello world"...)
	meta := uint16(TypeString) // real type string, not enum/set
	require.Equal(t, 6, skipSize(t, TypeString, meta, data))
}

func TestSkipColumnValue_Temporal2(t *testing.T) {
	buf := make([]byte, 16)
	require.Equal(t, 4, skipSize(t, TypeTimestamp2, 0, buf))
	require.Equal(t, 4+2, skipSize(t, TypeTimestamp2, 3, buf)) // TIMESTAMP(3)
	require.Equal(t, 5, skipSize(t, TypeDateTime2, 0, buf))
	require.Equal(t, 5+3, skipSize(t, TypeDateTime2, 6, buf)) // DATETIME(6)
	require.Equal(t, 3, skipSize(t, TypeTime2, 0, buf))
	require.Equal(t, 3+1, skipSize(t, TypeTime2, 2, buf)) // TIME(2)
}

func TestDecimalSize(t *testing.T) {
	// hand-computed sizes: full groups of 9 digits cost 4 bytes, the
	// remainder follows the compressed mapping
	cases := []struct {
		precision, scale, want int
	}{
		{1, 0, 1},
		{9, 0, 4},
		{10, 0, 5},
		{6, 3, 4},
		{18, 9, 8},
		{65, 30, 30},
	}
	for _, tc := range cases {
		got := decimalSize(tc.precision, tc.scale)
		require.Equal(t, tc.want, got, "decimal(%d,%d)", tc.precision, tc.scale)
		require.Equal(t, referenceDecimalSize(tc.precision, tc.scale), got,
			"closed form disagrees with group-by-group count for decimal(%d,%d)",
			tc.precision, tc.scale)
	}
}

// referenceDecimalSize recomputes the packed size digit group by digit
// group, as a cross-check of the closed form.
func referenceDecimalSize(precision, scale int) int {
	cost := func(digits int) int {
		n := digits / 9 * 4
		return n + compressedBytes[digits%9]
	}
	return cost(precision-scale) + cost(scale)
}

func TestSkipColumnValue_NewDecimal(t *testing.T) {
	buf := make([]byte, 64)
	// metadata packs precision in the low byte, scale in the high byte
	meta := uint16(3)<<8 | 6 // DECIMAL(6,3)
	require.Equal(t, decimalSize(6, 3), skipSize(t, TypeNewDecimal, meta, buf))
	meta = uint16(30)<<8 | 65
	require.Equal(t, decimalSize(65, 30), skipSize(t, TypeNewDecimal, meta, buf))
}

func TestSkipColumnValue_LegacyDecimal(t *testing.T) {
	buf := make([]byte, 64)
	require.Equal(t, 7, skipSize(t, TypeDecimal, 7, buf))
}

func TestSkipColumnValue_VarString(t *testing.T) {
	data := append([]byte{2}, "abcd"...)
	require.Equal(t, 3, skipSize(t, TypeVarString, 40, data))
}

func TestSkipColumnValue_Unsizable(t *testing.T) {
	r := newBytesReader(make([]byte, 8))
	err := skipColumnValue(r, ColumnType(0xf0), 0)
	require.Error(t, err)
	require.True(t, ErrMalformedEvent.Is(err))
}
