package binlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildEvent assembles header+body wire bytes for one event.
func buildEvent(typ EventType, serverID, nextPos uint32, body []byte) []byte {
	size := uint32(eventHeaderSize + len(body))
	h := make([]byte, eventHeaderSize)
	putU32(h[0:], 1690000000) // timestamp
	h[4] = byte(typ)
	putU32(h[5:], serverID)
	putU32(h[9:], size)
	putU32(h[13:], nextPos)
	h[17], h[18] = 0, 0 // flags
	return append(h, body...)
}

func putU16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (uint(i) * 8))
	}
}

func decodeRaw(t *testing.T, raw []byte) (Event, *reader) {
	t.Helper()
	r := newBytesReader(raw)
	r.tables = make(map[uint64]*TableMapEvent)
	ev, err := decodeEvent(r)
	require.NoError(t, err)
	return ev, r
}

func TestDecodeEvent_Query(t *testing.T) {
	status := []byte{0x00, 0x06, 'l', 'a', 't', 'i', 'n', '1'}
	schema := "db1"
	query := "CREATE TABLE db1.t1 (id INT)"

	body := make([]byte, 13)
	putU32(body[0:], 77) // thread id
	putU32(body[4:], 2)  // exec time
	body[8] = byte(len(schema))
	putU16(body[9:], 0) // error code
	putU16(body[11:], uint16(len(status)))
	body = append(body, status...)
	body = append(body, schema...)
	body = append(body, 0)
	body = append(body, query...)

	raw := buildEvent(QUERY_EVENT, 10, 120, body)
	ev, _ := decodeRaw(t, raw)

	require.Equal(t, QUERY_EVENT, ev.Header.EventType)
	require.Equal(t, uint32(10), ev.Header.ServerID)
	require.Equal(t, uint32(120), ev.Header.NextPos)

	qe := ev.Data.(*QueryEvent)
	require.Equal(t, uint32(77), qe.ThreadID)
	require.Equal(t, uint32(2), qe.ExecTime)
	require.Equal(t, uint16(0), qe.ErrorCode)
	require.Equal(t, status, qe.StatusVars)
	require.Equal(t, schema, qe.Schema)
	require.Equal(t, query, qe.Query)

	// the decoder preserves the event byte-identically for re-emission
	require.Equal(t, raw, ev.Raw)
}

func TestDecodeEvent_Rotate(t *testing.T) {
	body := make([]byte, 8)
	putU64(body, 4)
	body = append(body, "binlog.000002"...)

	ev, r := decodeRaw(t, buildEvent(ROTATE_EVENT, 10, 0, body))
	re := ev.Data.(*RotateEvent)
	require.Equal(t, uint64(4), re.Position)
	require.Equal(t, "binlog.000002", re.NextBinlog)

	// the stream cursor follows the rotate
	require.Equal(t, "binlog.000002", r.binlogFile)
	require.Equal(t, uint32(4), r.binlogPos)
}

func tableMapBody(tableID uint64, schema, table string, types []ColumnType, metas [][]byte) []byte {
	body := make([]byte, 8)
	putU64(body, tableID)
	body = body[:6] // u48 table id
	body = append(body, 0, 0) // flags
	body = append(body, byte(len(schema)))
	body = append(body, schema...)
	body = append(body, 0)
	body = append(body, byte(len(table)))
	body = append(body, table...)
	body = append(body, 0)
	body = append(body, byte(len(types))) // lenenc column count
	for _, typ := range types {
		body = append(body, byte(typ))
	}
	var meta []byte
	for _, m := range metas {
		meta = append(meta, m...)
	}
	body = append(body, byte(len(meta)))
	body = append(body, meta...)
	body = append(body, make([]byte, (len(types)+7)/8)...) // null bits
	return body
}

func TestDecodeEvent_TableMapAndRows(t *testing.T) {
	// db1.t1 (id INT, name VARCHAR(40))
	tmRaw := buildEvent(TABLE_MAP_EVENT, 10, 200, tableMapBody(
		7, "db1", "t1",
		[]ColumnType{TypeLong, TypeVarchar},
		[][]byte{nil, {40, 0}},
	))

	r := newBytesReader(tmRaw)
	r.tables = make(map[uint64]*TableMapEvent)
	ev, err := decodeEvent(r)
	require.NoError(t, err)

	tm := ev.Data.(*TableMapEvent)
	require.Equal(t, uint64(7), tm.TableID)
	require.Equal(t, "db1", tm.SchemaName)
	require.Equal(t, "t1", tm.TableName)
	require.Equal(t, "db1.t1", tm.QualifiedName())
	require.Len(t, tm.Columns, 2)
	require.Equal(t, TypeLong, tm.Columns[0].Type)
	require.Equal(t, TypeVarchar, tm.Columns[1].Type)
	require.Equal(t, uint16(40), tm.Columns[1].Meta)
	require.Contains(t, r.tables, uint64(7))

	// WRITE_ROWS_EVENTv1 for the same table: two rows
	rowsBody := make([]byte, 6)
	putU32(rowsBody, 7) // table id (u48)
	rowsBody = rowsBody[:6]
	rowsBody = append(rowsBody, 0, 0) // flags
	rowsBody = append(rowsBody, 2)    // column count
	rowsBody = append(rowsBody, 0x03) // both columns present
	// row 1: null bitmap, id=1, name="ab"
	rowsBody = append(rowsBody, 0x00)
	rowsBody = append(rowsBody, 1, 0, 0, 0)
	rowsBody = append(rowsBody, 2, 'a', 'b')
	// row 2: name NULL, id=2
	rowsBody = append(rowsBody, 0x02)
	rowsBody = append(rowsBody, 2, 0, 0, 0)

	// reuse the same reader context so the table map is known
	rowsRaw := buildEvent(WRITE_ROWS_EVENTv1, 10, 256, rowsBody)
	r.buf = append([]byte(nil), rowsRaw...)
	r.off = 0
	ev2, err := decodeEvent(r)
	require.NoError(t, err)

	re := ev2.Data.(*RowsEvent)
	require.Equal(t, RowsWrite, re.Subtype)
	require.Equal(t, uint64(7), re.TableID)
	require.Equal(t, tm, re.TableMap)
	require.Equal(t, uint64(2), re.NumColumns)

	rows, err := re.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []byte{0x00, 1, 0, 0, 0, 2, 'a', 'b'}, rows[0])
	require.Equal(t, []byte{0x02, 2, 0, 0, 0}, rows[1])
}

func TestDecodeEvent_UpdateRows(t *testing.T) {
	tmRaw := buildEvent(TABLE_MAP_EVENT, 10, 200, tableMapBody(
		9, "db2", "t2",
		[]ColumnType{TypeTiny},
		[][]byte{nil},
	))
	r := newBytesReader(tmRaw)
	r.tables = make(map[uint64]*TableMapEvent)
	_, err := decodeEvent(r)
	require.NoError(t, err)

	body := make([]byte, 6)
	putU32(body, 9)
	body = body[:6]
	body = append(body, 0, 0) // flags
	body = append(body, 1)    // column count
	body = append(body, 0x01) // before image columns
	body = append(body, 0x01) // after image columns
	// one row: before null bitmap + value, after null bitmap + value
	body = append(body, 0x00, 5)
	body = append(body, 0x00, 6)

	r.buf = append([]byte(nil), buildEvent(UPDATE_ROWS_EVENTv1, 10, 300, body)...)
	r.off = 0
	ev, err := decodeEvent(r)
	require.NoError(t, err)

	re := ev.Data.(*RowsEvent)
	require.Equal(t, RowsUpdate, re.Subtype)
	rows, err := re.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte{0x00, 5, 0x00, 6}, rows[0])
}

func TestDecodeEvent_GtidMariadb(t *testing.T) {
	body := make([]byte, 13)
	putU64(body[0:], 43) // sequence
	putU32(body[8:], 0)  // domain
	body[12] = 0         // flags

	ev, _ := decodeRaw(t, buildEvent(GTID_EVENT_MARIADB, 10, 500, body))
	ge := ev.Data.(*GtidEvent)
	require.True(t, ge.Gtid.IsReal())
	require.Equal(t, ServerTypeMariaDB, ge.Gtid.Dialect())
	require.Equal(t, "0-10-43", ge.Gtid.String())
}

func TestDecodeEvent_GtidMysql(t *testing.T) {
	body := make([]byte, 25)
	body[0] = 1 // commit flag
	for i := 0; i < 16; i++ {
		body[1+i] = byte(i)
	}
	putU64(body[17:], 23)

	ev, _ := decodeRaw(t, buildEvent(GTID_EVENT_MYSQL, 3, 700, body))
	ge := ev.Data.(*GtidEvent)
	require.Equal(t, ServerTypeMySQL, ge.Gtid.Dialect())
	require.Equal(t, uint64(23), ge.Gtid.Sequence())
	require.Equal(t, "000102030405060708090a0b0c0d0e0f:23", ge.Gtid.String())
}

func TestDecodeEvent_Xid(t *testing.T) {
	body := make([]byte, 8)
	putU64(body, 99)
	ev, _ := decodeRaw(t, buildEvent(XID_EVENT, 10, 900, body))
	require.Equal(t, uint64(99), ev.Data.(*XidEvent).Xid)
}

func TestDecodeEvent_IntVar(t *testing.T) {
	body := make([]byte, 9)
	body[0] = 2 // INSERT_ID
	putU64(body[1:], 1234)
	ev, _ := decodeRaw(t, buildEvent(INTVAR_EVENT, 10, 910, body))
	ie := ev.Data.(*IntVarEvent)
	require.Equal(t, uint8(2), ie.Type)
	require.Equal(t, uint64(1234), ie.Value)
}

func TestDecodeEvent_Incident(t *testing.T) {
	msg := "lost events"
	body := []byte{175, 0, byte(len(msg))}
	body = append(body, msg...)
	ev, _ := decodeRaw(t, buildEvent(INCIDENT_EVENT, 10, 920, body))
	ie := ev.Data.(*IncidentEvent)
	require.Equal(t, uint16(175), ie.Type)
	require.Equal(t, msg, ie.Message)
}

func TestDecodeEvent_UnknownTypePassesThrough(t *testing.T) {
	body := []byte{1, 2, 3}
	ev, _ := decodeRaw(t, buildEvent(EventType(0x7f), 10, 930, body))
	ue := ev.Data.(*UnknownEvent)
	require.Equal(t, body, ue.Bytes)
}

func TestDecodeEvent_MalformedReportsUnknown(t *testing.T) {
	// QUERY event with a body far too short for its fixed part
	raw := buildEvent(QUERY_EVENT, 10, 940, []byte{1, 2, 3})
	r := newBytesReader(raw)
	r.tables = make(map[uint64]*TableMapEvent)
	ev, err := decodeEvent(r)
	require.Error(t, err)
	require.True(t, ErrMalformedEvent.Is(err))
	require.IsType(t, &UnknownEvent{}, ev.Data)
	require.Equal(t, QUERY_EVENT, ev.Header.EventType)
}

func TestDecodeEvent_FormatDescription(t *testing.T) {
	body := make([]byte, 2+50+4+1)
	putU16(body[0:], 4)
	copy(body[2:], "10.4.13-MariaDB-log")
	putU32(body[52:], 1690000000)
	body[56] = eventHeaderSize
	lengths := make([]byte, 0xa3)
	for i := range lengths {
		lengths[i] = 8
	}
	body = append(body, lengths...)
	body = append(body, 0) // checksum algorithm: off

	ev, r := decodeRaw(t, buildEvent(FORMAT_DESCRIPTION_EVENT, 10, 256, body))
	fde := ev.Data.(*FormatDescriptionEvent)
	require.Equal(t, uint16(4), fde.BinlogVersion)
	require.Equal(t, "10.4.13-MariaDB-log", fde.ServerVersion)
	require.Equal(t, uint8(0), fde.ChecksumAlg)
	require.Equal(t, lengths, fde.EventTypeHeaderLengths)
	require.Equal(t, 8, fde.postHeaderLength(WRITE_ROWS_EVENTv1, 6))

	// the reader adopts the format for the rest of the stream
	require.Equal(t, uint16(4), r.fde.BinlogVersion)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binlog.000001")
	var content []byte
	content = append(content, fileHeader...)

	xidBody := make([]byte, 8)
	putU64(xidBody, 7)
	content = append(content, buildEvent(XID_EVENT, 10, 100, xidBody)...)
	rotBody := make([]byte, 8)
	putU64(rotBody, 4)
	rotBody = append(rotBody, "binlog.000002"...)
	content = append(content, buildEvent(ROTATE_EVENT, 10, 0, rotBody)...)

	require.NoError(t, os.WriteFile(path, content, 0644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	ev, err := f.NextEvent()
	require.NoError(t, err)
	require.Equal(t, XID_EVENT, ev.Header.EventType)

	ev, err = f.NextEvent()
	require.NoError(t, err)
	require.Equal(t, ROTATE_EVENT, ev.Header.EventType)

	_, err = f.NextEvent()
	require.Equal(t, io.EOF, err)
}
