package binlog

// Command bytes used by the dump session.
const (
	comQuery          = 0x03
	comBinlogDump     = 0x12
	comRegisterSlave  = 0x15
	comBinlogDumpGtid = 0x1e
)

func (w *writer) query(q string) error {
	w.int1(comQuery)
	w.string(q)
	return w.Close()
}

// registerSlave announces this client as a replication slave.
//
// https://dev.mysql.com/doc/internals/en/com-register-slave.html
type registerSlave struct {
	serverID uint32
	hostname string
	user     string
	password string
	port     uint16
}

func (c registerSlave) encode(w *writer) error {
	w.int1(comRegisterSlave)
	w.int4(c.serverID)
	w.bytes1([]byte(c.hostname))
	w.bytes1([]byte(c.user))
	w.bytes1([]byte(c.password))
	w.int2(c.port)
	w.int4(0) // replication rank, unused
	w.int4(0) // master id, filled in by the server
	return w.err
}

// binlogDump requests the stream from file+offset coordinates. For a
// GTID-driven MariaDB dump the offset is 4 and the filename empty; the
// server takes the position from @slave_connect_state.
//
// https://dev.mysql.com/doc/internals/en/com-binlog-dump.html
type binlogDump struct {
	binlogPos      uint32
	flags          uint16
	serverID       uint32
	binlogFilename string
}

func (c binlogDump) encode(w *writer) error {
	w.int1(comBinlogDump)
	w.int4(c.binlogPos)
	w.int2(c.flags)
	w.int4(c.serverID)
	w.string(c.binlogFilename)
	return w.err
}

// binlogDumpGtid requests the stream from a MySQL GTID. No filename is
// sent; the position within the unnamed log is fixed at 4 and the
// 24-byte GTID blob selects the actual start.
//
// https://dev.mysql.com/doc/internals/en/com-binlog-dump-gtid.html
type binlogDumpGtid struct {
	flags    uint16
	serverID uint32
	gtid     Gtid
}

func (c binlogDumpGtid) encode(w *writer) error {
	w.int1(comBinlogDumpGtid)
	w.int2(c.flags)
	w.int4(c.serverID)
	w.int4(0) // binlog name length
	w.int8(4) // binlog position
	blob := c.gtid.Encoded()
	w.int4(uint32(len(blob)))
	w.Write(blob)
	return w.err
}
