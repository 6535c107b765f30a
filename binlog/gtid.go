package binlog

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ServerType classifies the upstream server. The two dialects encode
// global transaction identifiers differently and the encodings are not
// interchangeable.
type ServerType int

const (
	ServerTypeUnknown ServerType = iota
	ServerTypeMariaDB
	ServerTypeMySQL
)

func (t ServerType) String() string {
	switch t {
	case ServerTypeMariaDB:
		return "mariadb"
	case ServerTypeMySQL:
		return "mysql"
	}
	return "unknown"
}

// mysqlGtidEncodedSize is the size of the MySQL GTID wire blob used in
// COM_BINLOG_DUMP_GTID: 16-byte SID followed by the sequence number.
const mysqlGtidEncodedSize = 24

// Gtid is a dialect-tagged global transaction identifier. The zero
// value is "not a real GTID": a listener holding one falls back to
// file+offset positioning.
type Gtid struct {
	real    bool
	dialect ServerType

	// MariaDB form
	domainID uint32
	serverID uint32

	seq uint64

	// MySQL form
	sid [16]byte
}

// MariadbGtid builds a MariaDB GTID from its three components.
func MariadbGtid(domainID, serverID uint32, seq uint64) Gtid {
	return Gtid{
		real:     true,
		dialect:  ServerTypeMariaDB,
		domainID: domainID,
		serverID: serverID,
		seq:      seq,
	}
}

// MysqlGtid builds a MySQL GTID from a 16-byte SID and a sequence
// number.
func MysqlGtid(sid [16]byte, seq uint64) Gtid {
	return Gtid{real: true, dialect: ServerTypeMySQL, sid: sid, seq: seq}
}

// DecodeMysqlGtid rebuilds a MySQL GTID from the 24-byte wire blob.
func DecodeMysqlGtid(b []byte) (Gtid, error) {
	if len(b) != mysqlGtidEncodedSize {
		return Gtid{}, ErrProtocol.New(fmt.Sprintf("mysql gtid blob is %d bytes, want %d", len(b), mysqlGtidEncodedSize))
	}
	g := Gtid{real: true, dialect: ServerTypeMySQL}
	copy(g.sid[:], b[:16])
	for i := 0; i < 8; i++ {
		g.seq |= uint64(b[16+i]) << (uint(i) * 8)
	}
	return g, nil
}

// ParseGtid parses a canonical GTID string of either dialect:
// "domain-server-sequence" (MariaDB) or "hex(sid):sequence" (MySQL).
// An empty string parses to the zero (non-real) Gtid.
func ParseGtid(s string) (Gtid, error) {
	if s == "" {
		return Gtid{}, nil
	}
	if i := strings.IndexByte(s, ':'); i != -1 {
		sid, err := hex.DecodeString(s[:i])
		if err != nil || len(sid) != 16 {
			return Gtid{}, fmt.Errorf("invalid mysql gtid %q", s)
		}
		seq, err := strconv.ParseUint(s[i+1:], 10, 64)
		if err != nil {
			return Gtid{}, fmt.Errorf("invalid mysql gtid %q: %v", s, err)
		}
		var sid16 [16]byte
		copy(sid16[:], sid)
		return MysqlGtid(sid16, seq), nil
	}
	return ParseMariadbGtid(s)
}

// ParseMariadbGtid parses the canonical "domain-server-sequence" form.
func ParseMariadbGtid(s string) (Gtid, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Gtid{}, fmt.Errorf("invalid mariadb gtid %q", s)
	}
	domain, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Gtid{}, fmt.Errorf("invalid mariadb gtid %q: %v", s, err)
	}
	server, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Gtid{}, fmt.Errorf("invalid mariadb gtid %q: %v", s, err)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Gtid{}, fmt.Errorf("invalid mariadb gtid %q: %v", s, err)
	}
	return MariadbGtid(uint32(domain), uint32(server), seq), nil
}

// IsReal reports whether this is an actual transaction identifier. A
// zero Gtid means the position is unknown and file+offset coordinates
// must be used instead.
func (g Gtid) IsReal() bool { return g.real }

// Dialect returns which server dialect produced this GTID.
func (g Gtid) Dialect() ServerType { return g.dialect }

// DomainID returns the MariaDB replication domain.
func (g Gtid) DomainID() uint32 { return g.domainID }

// ServerID returns the MariaDB originating server id.
func (g Gtid) ServerID() uint32 { return g.serverID }

// Sequence returns the transaction sequence number.
func (g Gtid) Sequence() uint64 { return g.seq }

// SID returns the MySQL source id.
func (g Gtid) SID() [16]byte { return g.sid }

// String returns the canonical form: "D-S-N" for MariaDB,
// "hex(sid):N" for MySQL, empty for a non-real GTID. The canonical
// form is the stable identifier reported to operators and stored in
// the metadata tables.
func (g Gtid) String() string {
	if !g.real {
		return ""
	}
	if g.dialect == ServerTypeMariaDB {
		return fmt.Sprintf("%d-%d-%d", g.domainID, g.serverID, g.seq)
	}
	return hex.EncodeToString(g.sid[:]) + ":" + strconv.FormatUint(g.seq, 10)
}

// Encoded returns the 24-byte wire form used by COM_BINLOG_DUMP_GTID.
// Only meaningful for the MySQL dialect.
func (g Gtid) Encoded() []byte {
	b := make([]byte, mysqlGtidEncodedSize)
	copy(b, g.sid[:])
	for i := 0; i < 8; i++ {
		b[16+i] = byte(g.seq >> (uint(i) * 8))
	}
	return b
}

// Equal compares dialect and encoded identity.
func (g Gtid) Equal(o Gtid) bool {
	if g.real != o.real || g.dialect != o.dialect {
		return false
	}
	switch g.dialect {
	case ServerTypeMariaDB:
		return g.domainID == o.domainID && g.serverID == o.serverID && g.seq == o.seq
	case ServerTypeMySQL:
		return bytes.Equal(g.sid[:], o.sid[:]) && g.seq == o.seq
	}
	return true
}

// GtidEvent announces the identifier of the transaction whose events
// follow. Decoded from either dialect's event type.
type GtidEvent struct {
	Gtid       Gtid
	CommitFlag uint8 // MySQL only
	Flags      uint8 // MariaDB only
}

// decodeMariadb reads the MariaDB GTID_EVENT body: sequence number,
// domain id; the server id is reused from the event header.
//
// https://mariadb.com/kb/en/gtid_event/
func (e *GtidEvent) decodeMariadb(r *reader, headerServerID uint32) error {
	seq := r.int8()
	domain := r.int4()
	e.Flags = r.int1()
	if r.err != nil {
		return r.err
	}
	e.Gtid = MariadbGtid(domain, headerServerID, seq)
	return nil
}

// decodeMysql reads the MySQL GTID_EVENT body: commit flag, SID,
// sequence number.
//
// https://dev.mysql.com/doc/internals/en/gtid-event.html
func (e *GtidEvent) decodeMysql(r *reader) error {
	e.CommitFlag = r.int1()
	var sid [16]byte
	copy(sid[:], r.window(16))
	seq := r.int8()
	if r.err != nil {
		return r.err
	}
	e.Gtid = MysqlGtid(sid, seq)
	return nil
}

// GtidListEvent is written at the start of each MariaDB binlog and
// lists the last GTID of every replication domain.
//
// https://mariadb.com/kb/en/gtid_list_event/
type GtidListEvent struct {
	Gtids []Gtid
}

func (e *GtidListEvent) decode(r *reader) error {
	count := r.int4() & 0x0fffffff
	if r.err != nil {
		return r.err
	}
	e.Gtids = make([]Gtid, 0, count)
	for i := uint32(0); i < count; i++ {
		domain := r.int4()
		server := r.int4()
		seq := r.int8()
		if r.err != nil {
			return r.err
		}
		e.Gtids = append(e.Gtids, MariadbGtid(domain, server, seq))
	}
	return nil
}
