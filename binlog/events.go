package binlog

import (
	"bytes"
	"fmt"
	"strings"
)

// EventType represents a binlog event type.
type EventType uint8

// Event type constants. The 0xa0 range is MariaDB specific.
//
// https://dev.mysql.com/doc/internals/en/binlog-event-type.html
// https://mariadb.com/kb/en/replication-protocol/
const (
	UNKNOWN_EVENT            EventType = 0x00
	START_EVENT_V3           EventType = 0x01
	QUERY_EVENT              EventType = 0x02 // written for every updating statement
	STOP_EVENT               EventType = 0x03
	ROTATE_EVENT             EventType = 0x04 // switch to a new binlog file
	INTVAR_EVENT             EventType = 0x05 // AUTO_INCREMENT or LAST_INSERT_ID() context
	LOAD_EVENT               EventType = 0x06
	SLAVE_EVENT              EventType = 0x07
	CREATE_FILE_EVENT        EventType = 0x08
	APPEND_BLOCK_EVENT       EventType = 0x09
	EXEC_LOAD_EVENT          EventType = 0x0a
	DELETE_FILE_EVENT        EventType = 0x0b
	NEW_LOAD_EVENT           EventType = 0x0c
	RAND_EVENT               EventType = 0x0d
	USER_VAR_EVENT           EventType = 0x0e // statement used a user variable
	FORMAT_DESCRIPTION_EVENT EventType = 0x0f
	XID_EVENT                EventType = 0x10 // transaction commit
	BEGIN_LOAD_QUERY_EVENT   EventType = 0x11
	EXECUTE_LOAD_QUERY_EVENT EventType = 0x12
	TABLE_MAP_EVENT          EventType = 0x13 // precedes row events, carries table definition
	WRITE_ROWS_EVENTv0       EventType = 0x14
	UPDATE_ROWS_EVENTv0      EventType = 0x15
	DELETE_ROWS_EVENTv0      EventType = 0x16
	WRITE_ROWS_EVENTv1       EventType = 0x17
	UPDATE_ROWS_EVENTv1      EventType = 0x18
	DELETE_ROWS_EVENTv1      EventType = 0x19
	INCIDENT_EVENT           EventType = 0x1a // out of the ordinary event on the master
	HEARTBEAT_EVENT          EventType = 0x1b // master liveness, never written to file
	IGNORABLE_EVENT          EventType = 0x1c
	ROWS_QUERY_EVENT         EventType = 0x1d
	WRITE_ROWS_EVENTv2       EventType = 0x1e
	UPDATE_ROWS_EVENTv2      EventType = 0x1f
	DELETE_ROWS_EVENTv2      EventType = 0x20
	GTID_EVENT_MYSQL         EventType = 0x21
	ANONYMOUS_GTID_EVENT     EventType = 0x22
	PREVIOUS_GTIDS_EVENT     EventType = 0x23

	ANNOTATE_ROWS_EVENT     EventType = 0xa0
	BINLOG_CHECKPOINT_EVENT EventType = 0xa1
	GTID_EVENT_MARIADB      EventType = 0xa2
	GTID_LIST_EVENT         EventType = 0xa3
)

var eventTypeNames = map[EventType]string{
	UNKNOWN_EVENT:            "unknown",
	START_EVENT_V3:           "startV3",
	QUERY_EVENT:              "query",
	STOP_EVENT:               "stop",
	ROTATE_EVENT:             "rotate",
	INTVAR_EVENT:             "intVar",
	LOAD_EVENT:               "load",
	SLAVE_EVENT:              "slave",
	CREATE_FILE_EVENT:        "createFile",
	APPEND_BLOCK_EVENT:       "appendBlock",
	EXEC_LOAD_EVENT:          "execLoad",
	DELETE_FILE_EVENT:        "deleteFile",
	NEW_LOAD_EVENT:           "newLoad",
	RAND_EVENT:               "rand",
	USER_VAR_EVENT:           "userVar",
	FORMAT_DESCRIPTION_EVENT: "formatDescription",
	XID_EVENT:                "xid",
	BEGIN_LOAD_QUERY_EVENT:   "beginLoadQuery",
	EXECUTE_LOAD_QUERY_EVENT: "executeLoadQuery",
	TABLE_MAP_EVENT:          "tableMap",
	WRITE_ROWS_EVENTv0:       "writeRowsV0",
	UPDATE_ROWS_EVENTv0:      "updateRowsV0",
	DELETE_ROWS_EVENTv0:      "deleteRowsV0",
	WRITE_ROWS_EVENTv1:       "writeRowsV1",
	UPDATE_ROWS_EVENTv1:      "updateRowsV1",
	DELETE_ROWS_EVENTv1:      "deleteRowsV1",
	INCIDENT_EVENT:           "incident",
	HEARTBEAT_EVENT:          "heartbeat",
	IGNORABLE_EVENT:          "ignorable",
	ROWS_QUERY_EVENT:         "rowsQuery",
	WRITE_ROWS_EVENTv2:       "writeRowsV2",
	UPDATE_ROWS_EVENTv2:      "updateRowsV2",
	DELETE_ROWS_EVENTv2:      "deleteRowsV2",
	GTID_EVENT_MYSQL:         "gtidMysql",
	ANONYMOUS_GTID_EVENT:     "anonymousGTID",
	PREVIOUS_GTIDS_EVENT:     "previousGTIDs",
	ANNOTATE_ROWS_EVENT:      "annotateRows",
	BINLOG_CHECKPOINT_EVENT:  "binlogCheckpoint",
	GTID_EVENT_MARIADB:       "gtidMariadb",
	GTID_LIST_EVENT:          "gtidList",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// IsWriteRows tells if this EventType is one of the WRITE_ROWS versions.
func (t EventType) IsWriteRows() bool {
	return t == WRITE_ROWS_EVENTv0 || t == WRITE_ROWS_EVENTv1 || t == WRITE_ROWS_EVENTv2
}

// IsUpdateRows tells if this EventType is one of the UPDATE_ROWS versions.
func (t EventType) IsUpdateRows() bool {
	return t == UPDATE_ROWS_EVENTv0 || t == UPDATE_ROWS_EVENTv1 || t == UPDATE_ROWS_EVENTv2
}

// IsDeleteRows tells if this EventType is one of the DELETE_ROWS versions.
func (t EventType) IsDeleteRows() bool {
	return t == DELETE_ROWS_EVENTv0 || t == DELETE_ROWS_EVENTv1 || t == DELETE_ROWS_EVENTv2
}

// IsRows tells if this EventType carries row images.
func (t EventType) IsRows() bool {
	return t.IsWriteRows() || t.IsUpdateRows() || t.IsDeleteRows()
}

// IsGtid tells if this EventType is a transaction identifier of either
// dialect.
func (t EventType) IsGtid() bool {
	return t == GTID_EVENT_MYSQL || t == GTID_EVENT_MARIADB
}

// Event represents one decoded binlog event.
type Event struct {
	Header EventHeader
	Data   interface{} // one of the XxxEvent types

	// Raw holds the event exactly as it arrived (header plus body,
	// trailing checksum stripped) so that handlers can re-emit it
	// byte-identically.
	Raw []byte
}

// FormatDescriptionEvent is written at the beginning of each binlog
// file and describes the layout of the events that follow.
//
// https://dev.mysql.com/doc/internals/en/format-description-event.html
type FormatDescriptionEvent struct {
	BinlogVersion          uint16
	ServerVersion          string
	CreateTimestamp        uint32
	EventHeaderLength      uint8
	EventTypeHeaderLengths []byte
	ChecksumAlg            uint8 // 0 = off, 1 = CRC32
}

func (e *FormatDescriptionEvent) decode(r *reader) error {
	e.BinlogVersion = r.int2()
	e.ServerVersion = r.string(50)
	if i := strings.IndexByte(e.ServerVersion, 0); i != -1 {
		e.ServerVersion = e.ServerVersion[:i]
	}
	e.CreateTimestamp = r.int4()
	e.EventHeaderLength = r.int1()
	if r.err != nil {
		return r.err
	}
	if e.BinlogVersion != 4 {
		return ErrProtocol.New(fmt.Sprintf("unsupported binlog version %d", e.BinlogVersion))
	}
	rest := r.bytesEOF()
	if r.err != nil {
		return r.err
	}
	// Servers that know about checksums append the algorithm byte
	// after the per-type header lengths, followed by the event's own
	// CRC32 when the algorithm is not off.
	if sv, err := newServerVersion(e.ServerVersion); err == nil && sv.supportsChecksum() {
		switch {
		case len(rest) > 5 && rest[len(rest)-5] == 1:
			e.ChecksumAlg = 1
			rest = rest[:len(rest)-5]
		case len(rest) > 1 && rest[len(rest)-1] == 0:
			rest = rest[:len(rest)-1]
		}
	}
	e.EventTypeHeaderLengths = rest
	return nil
}

func (e *FormatDescriptionEvent) postHeaderLength(t EventType, def int) int {
	if int(t) <= len(e.EventTypeHeaderLengths) && t > 0 {
		return int(e.EventTypeHeaderLengths[t-1])
	}
	return def
}

// QueryEvent is written for every statement that updated data (and for
// DDL). Statement text is raw bytes on the wire; it is kept as a string
// without charset interpretation.
//
// https://dev.mysql.com/doc/internals/en/query-event.html
type QueryEvent struct {
	ThreadID   uint32
	ExecTime   uint32
	ErrorCode  uint16
	StatusVars []byte
	Schema     string
	Query      string
}

func (e *QueryEvent) decode(r *reader) error {
	e.ThreadID = r.int4()
	e.ExecTime = r.int4()
	schemaLen := r.int1()
	e.ErrorCode = r.int2()
	statusLen := r.int2()
	if r.err != nil {
		return r.err
	}
	e.StatusVars = r.bytes(int(statusLen))
	e.Schema = r.string(int(schemaLen))
	r.skip(1)
	e.Query = r.stringEOF()
	return r.err
}

// RotateEvent is written when the master switches to a new binlog file.
//
// https://dev.mysql.com/doc/internals/en/rotate-event.html
type RotateEvent struct {
	Position   uint64 // offset of the first event in the next file
	NextBinlog string
}

func (e *RotateEvent) decode(r *reader) error {
	e.Position = r.int8()
	e.NextBinlog = r.stringEOF()
	return r.err
}

// IntVarEvent precedes a QUERY_EVENT whose statement used an
// AUTO_INCREMENT column or LAST_INSERT_ID().
//
// https://dev.mysql.com/doc/internals/en/intvar-event.html
type IntVarEvent struct {
	Type  uint8 // 0x01 LAST_INSERT_ID, 0x02 INSERT_ID
	Value uint64
}

func (e *IntVarEvent) decode(r *reader) error {
	e.Type = r.int1()
	e.Value = r.int8()
	return r.err
}

// UserVarEvent precedes a QUERY_EVENT whose statement used a user
// variable.
//
// https://dev.mysql.com/doc/internals/en/user-var-event.html
type UserVarEvent struct {
	Name     string
	Null     bool
	Type     uint8
	Charset  uint32
	Value    []byte
	Unsigned bool
}

func (e *UserVarEvent) decode(r *reader) error {
	nameLen := r.int4()
	if r.err != nil {
		return r.err
	}
	e.Name = r.string(int(nameLen))
	e.Null = r.int1() == 1
	if r.err != nil {
		return r.err
	}
	if !e.Null {
		e.Type = r.int1()
		e.Charset = r.int4()
		valueLen := r.int4()
		if r.err != nil {
			return r.err
		}
		e.Value = r.bytes(int(valueLen))
		if r.more() {
			e.Unsigned = r.int1()&0x01 != 0
		}
	}
	return r.err
}

// IncidentEvent logs an out of the ordinary event that occurred on the
// master and may leave the slave in an inconsistent state. The client
// also synthesizes one (code 175) when the dump stream dies, so that
// consumers see the interruption in-band.
//
// https://dev.mysql.com/doc/internals/en/incident-event.html
type IncidentEvent struct {
	Type    uint16
	Message string

	// Position is only set on synthetic incidents: the last binlog
	// offset known before the failure.
	Position uint64
}

func (e *IncidentEvent) decode(r *reader) error {
	e.Type = r.int2()
	size := r.int1()
	e.Message = r.string(int(size))
	return r.err
}

// XidEvent marks a transaction commit in row-based replication.
//
// https://dev.mysql.com/doc/internals/en/xid-event.html
type XidEvent struct {
	Xid uint64
}

func (e *XidEvent) decode(r *reader) error {
	e.Xid = r.int8()
	return r.err
}

// RandEvent carries the RAND() seeds for the next statement.
type RandEvent struct {
	Seed1 uint64
	Seed2 uint64
}

func (e *RandEvent) decode(r *reader) error {
	e.Seed1 = r.int8()
	e.Seed2 = r.int8()
	return r.err
}

// AnnotateRowsEvent carries the statement text that produced the
// following row events. MariaDB only.
type AnnotateRowsEvent struct {
	Query string
}

func (e *AnnotateRowsEvent) decode(r *reader) error {
	e.Query = r.stringEOF()
	return r.err
}

// BinlogCheckpointEvent names the oldest binlog file that may still be
// needed for crash recovery. MariaDB only.
type BinlogCheckpointEvent struct {
	File string
}

func (e *BinlogCheckpointEvent) decode(r *reader) error {
	n := r.int4()
	if r.err != nil {
		return r.err
	}
	e.File = r.string(int(n))
	return r.err
}

// StopEvent is the last event of a binlog written at clean shutdown.
type StopEvent struct{}

// HeartbeatEvent signals master liveness on an idle dump connection.
type HeartbeatEvent struct{}

// UnknownEvent wraps events the decoder does not act on. The payload is
// preserved untouched.
type UnknownEvent struct {
	Bytes []byte
}

// decodeEvent reads one complete event from the stream: header, body
// and (when the master sends them) the trailing checksum. A body that
// fails to decode is reported as UnknownEvent together with an
// ErrMalformedEvent; the stream position is already past the event, so
// the caller can log and continue.
func decodeEvent(r *reader) (Event, error) {
	head := r.bytes(eventHeaderSize)
	if r.err != nil {
		return Event{}, r.err
	}
	hr := newBytesReader(head)
	var h EventHeader
	if err := h.decode(hr); err != nil {
		return Event{}, err
	}

	bodyLen := int(h.EventSize) - eventHeaderSize
	if r.checksum > 0 && h.EventType != FORMAT_DESCRIPTION_EVENT {
		bodyLen -= r.checksum
	}
	if bodyLen < 0 {
		return Event{}, ErrProtocol.New("event length below header size")
	}
	body := r.bytes(bodyLen)
	if r.err != nil {
		return Event{}, r.err
	}
	if r.checksum > 0 && h.EventType != FORMAT_DESCRIPTION_EVENT {
		r.skip(r.checksum)
		if r.err != nil {
			return Event{}, r.err
		}
	}

	if h.NextPos != 0 {
		r.binlogPos = h.NextPos
	}

	ev := Event{Header: h, Raw: append(head, body...)}
	data, err := decodeEventBody(r, h, body)
	if err != nil {
		ev.Data = &UnknownEvent{Bytes: body}
		return ev, ErrMalformedEvent.Wrap(err, h.EventType.String(), err.Error())
	}
	ev.Data = data
	return ev, nil
}

// newBytesReader wraps an already buffered event body. The bytes are
// copied: the reader shifts its buffer in place while consuming.
func newBytesReader(b []byte) *reader {
	return &reader{src: bytes.NewReader(nil), buf: append([]byte(nil), b...), limit: -1}
}

func decodeEventBody(r *reader, h EventHeader, body []byte) (interface{}, error) {
	br := newBytesReader(body)
	br.fde = r.fde

	switch h.EventType {
	case FORMAT_DESCRIPTION_EVENT:
		e := &FormatDescriptionEvent{}
		if err := e.decode(br); err != nil {
			return nil, err
		}
		r.fde = *e
		if e.ChecksumAlg != 0 {
			// bodies on this stream carry 4 trailing CRC32 bytes
			r.checksum = 4
		}
		return e, nil
	case QUERY_EVENT:
		e := &QueryEvent{}
		return e, e.decode(br)
	case ROTATE_EVENT:
		e := &RotateEvent{}
		if err := e.decode(br); err != nil {
			return nil, err
		}
		r.binlogFile, r.binlogPos = e.NextBinlog, uint32(e.Position)
		r.tables = make(map[uint64]*TableMapEvent)
		return e, nil
	case TABLE_MAP_EVENT:
		e := &TableMapEvent{}
		if err := e.decode(br); err != nil {
			return nil, err
		}
		r.tables[e.TableID] = e
		return e, nil
	case WRITE_ROWS_EVENTv0, WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2,
		UPDATE_ROWS_EVENTv0, UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2,
		DELETE_ROWS_EVENTv0, DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		e := &RowsEvent{}
		return e, e.decode(br, h.EventType, r.tables)
	case GTID_EVENT_MARIADB:
		e := &GtidEvent{}
		return e, e.decodeMariadb(br, h.ServerID)
	case GTID_EVENT_MYSQL:
		e := &GtidEvent{}
		return e, e.decodeMysql(br)
	case GTID_LIST_EVENT:
		e := &GtidListEvent{}
		return e, e.decode(br)
	case INTVAR_EVENT:
		e := &IntVarEvent{}
		return e, e.decode(br)
	case USER_VAR_EVENT:
		e := &UserVarEvent{}
		return e, e.decode(br)
	case INCIDENT_EVENT:
		e := &IncidentEvent{}
		return e, e.decode(br)
	case XID_EVENT:
		e := &XidEvent{}
		return e, e.decode(br)
	case RAND_EVENT:
		e := &RandEvent{}
		return e, e.decode(br)
	case ANNOTATE_ROWS_EVENT:
		e := &AnnotateRowsEvent{}
		return e, e.decode(br)
	case BINLOG_CHECKPOINT_EVENT:
		e := &BinlogCheckpointEvent{}
		return e, e.decode(br)
	case STOP_EVENT:
		return &StopEvent{}, nil
	case HEARTBEAT_EVENT:
		return &HeartbeatEvent{}, nil
	default:
		return &UnknownEvent{Bytes: body}, nil
	}
}
