package binlog

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Remote is a replication client connection to a MariaDB or MySQL
// server. The zero value is not usable; obtain one from Dial. A Remote
// is owned by a single goroutine.
type Remote struct {
	conn net.Conn
	seq  uint8
	hs   handshake

	requestFile string
	requestPos  uint32
	streaming   *reader
	checksum    int // trailing bytes per streamed event
}

// Dial connects to the server and reads the initial handshake. No
// credentials are sent yet; call Authenticate next.
func Dial(network, address string) (*Remote, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetKeepAlive(true); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	var seq uint8
	r := newReader(conn, &seq)
	hs := handshake{}
	if err := hs.decode(r); err != nil {
		_ = conn.Close()
		return nil, err
	}
	hs.capabilityFlags &^= capSessionTrack
	return &Remote{conn: conn, seq: seq, hs: hs}, nil
}

// ServerType reports whether the server is MariaDB or MySQL, decided
// by a case-insensitive "maria" substring in the advertised version.
func (bl *Remote) ServerType() ServerType {
	return bl.hs.serverType()
}

// ServerVersion returns the version string the server advertised.
func (bl *Remote) ServerVersion() string {
	return bl.hs.serverVersion
}

// Authenticate sends the credentials using mysql_native_password. An
// ERR reply is fatal to the session.
func (bl *Remote) Authenticate(username, password string) error {
	err := bl.write(handshakeResponse41{
		capabilityFlags: capLongFlag | capSecureConnection,
		maxPacketSize:   maxPacketSize,
		characterSet:    bl.hs.characterSet,
		username:        username,
		authResponse:    encryptedPassword(password, bl.hs.authPluginData),
	})
	if err != nil {
		return err
	}
	r := newReader(bl.conn, &bl.seq)
	marker, err := r.peek()
	if err != nil {
		return err
	}
	switch marker {
	case okMarker:
		return r.drain()
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return err
		}
		return ErrAuthenticationFailed.New(ep.errorMessage)
	case eofMarker:
		// auth switch request: we did not advertise CLIENT_PLUGIN_AUTH,
		// so any plugin other than native password is unusable
		r.int1()
		plugin := r.stringNull()
		return ErrAuthenticationFailed.New(
			fmt.Sprintf("server requires auth plugin %q, only mysql_native_password is supported", plugin))
	default:
		return ErrProtocol.New("unexpected auth reply marker")
	}
}

// RegisterSlave announces this connection as a replication slave with
// the given slave server id.
func (bl *Remote) RegisterSlave(serverID uint32) error {
	hostname, _ := os.Hostname()
	bl.seq = 0
	w := newWriter(bl.conn, &bl.seq)
	if err := (registerSlave{serverID: serverID, hostname: hostname}).encode(w); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return bl.readOkErr()
}

// SetSlaveCapability tells a MariaDB master that this slave understands
// GTID events (MARIA_SLAVE_CAPABILITY_GTID = 4).
func (bl *Remote) SetSlaveCapability() error {
	_, err := bl.query("SET @mariadb_slave_capability=4")
	return err
}

// SetSlaveConnectState passes the MariaDB GTID the dump should start
// from. Must precede the dump command.
func (bl *Remote) SetSlaveConnectState(gtid Gtid) error {
	_, err := bl.query(fmt.Sprintf("SET @slave_connect_state='%s'", gtid))
	return err
}

// SetHeartbeatPeriod configures the interval of heartbeat events on an
// otherwise idle dump connection. Zero disables heartbeats.
func (bl *Remote) SetHeartbeatPeriod(d time.Duration) error {
	_, err := bl.query(fmt.Sprintf("SET @master_heartbeat_period=%d", d))
	return err
}

// negotiateChecksum tells the master this client is checksum aware and
// records how many trailing bytes each streamed event will carry.
func (bl *Remote) negotiateChecksum() error {
	checksum, err := bl.fetchBinlogChecksum()
	if err != nil {
		return err
	}
	if checksum != "" && checksum != "NONE" {
		if _, err := bl.query("SET @master_binlog_checksum = @@global.binlog_checksum"); err != nil {
			return err
		}
		bl.checksum = 4
	} else {
		bl.checksum = 0
	}
	return nil
}

// StartDumpFile begins streaming from explicit file+offset
// coordinates.
func (bl *Remote) StartDumpFile(serverID uint32, file string, pos uint32) error {
	if bl.ServerType() == ServerTypeMariaDB {
		if err := bl.SetSlaveCapability(); err != nil {
			return err
		}
	}
	return bl.dumpFile(serverID, file, pos)
}

// StartDumpGtid begins streaming from a GTID. The wire sequence
// depends on the dialect: MariaDB passes the position through
// @slave_connect_state and issues a plain dump with offset 4 and an
// empty filename; MySQL uses COM_BINLOG_DUMP_GTID with the encoded
// blob.
func (bl *Remote) StartDumpGtid(serverID uint32, gtid Gtid) error {
	if !gtid.IsReal() {
		return ErrProtocol.New("cannot start a GTID dump from an unknown GTID")
	}
	switch bl.ServerType() {
	case ServerTypeMariaDB:
		if gtid.Dialect() != ServerTypeMariaDB {
			return ErrProtocol.New("mysql GTID offered to a mariadb server")
		}
		if err := bl.SetSlaveCapability(); err != nil {
			return err
		}
		if err := bl.SetSlaveConnectState(gtid); err != nil {
			return err
		}
		return bl.dumpFile(serverID, "", 4)
	default:
		if gtid.Dialect() != ServerTypeMySQL {
			return ErrProtocol.New("mariadb GTID offered to a mysql server")
		}
		if err := bl.negotiateChecksum(); err != nil {
			return err
		}
		if err := bl.RegisterSlave(serverID); err != nil {
			return err
		}
		bl.seq = 0
		w := newWriter(bl.conn, &bl.seq)
		if err := (binlogDumpGtid{serverID: serverID, gtid: gtid}).encode(w); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		bl.requestFile, bl.requestPos = "", 4
		return nil
	}
}

// dumpFile finishes the prelude (checksum negotiation, slave
// registration) and issues COM_BINLOG_DUMP.
func (bl *Remote) dumpFile(serverID uint32, file string, pos uint32) error {
	if err := bl.negotiateChecksum(); err != nil {
		return err
	}
	if err := bl.RegisterSlave(serverID); err != nil {
		return err
	}
	bl.seq = 0
	w := newWriter(bl.conn, &bl.seq)
	if err := (binlogDump{binlogPos: pos, serverID: serverID, binlogFilename: file}).encode(w); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	bl.requestFile, bl.requestPos = file, pos
	return nil
}

// Position returns the binlog coordinates the next event will come
// from. Before the first event this is the requested start; afterwards
// it follows the stream, including rotates.
func (bl *Remote) Position() (file string, pos uint32) {
	if bl.streaming == nil {
		return bl.requestFile, bl.requestPos
	}
	return bl.streaming.binlogFile, bl.streaming.binlogPos
}

// NextEvent returns the next binlog event. It blocks for as long as
// the master stays silent. io.EOF means the server closed the stream
// with an EOF packet.
func (bl *Remote) NextEvent() (Event, error) {
	r := bl.streaming
	if r == nil {
		r = newReader(bl.conn, &bl.seq)
		r.binlogFile, r.binlogPos = bl.requestFile, bl.requestPos
		r.checksum = bl.checksum
		bl.streaming = r
	} else {
		if err := r.drain(); err != nil {
			return Event{}, fmt.Errorf("binlog.NextEvent: draining previous event: %v", err)
		}
		r.src = &packetReader{src: bl.conn, seq: &bl.seq}
	}

	marker, err := r.peek()
	if err != nil {
		return Event{}, err
	}
	switch marker {
	case okMarker:
		r.int1()
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, bl.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, ErrCommandFailed.New(ep.errorMessage)
	default:
		return Event{}, ErrProtocol.New(fmt.Sprintf("got 0x%02x, want OK byte before event", marker))
	}

	ev, err := decodeEvent(r)
	if err == nil {
		if fde, ok := ev.Data.(*FormatDescriptionEvent); ok {
			if bl.checksum == 0 && fde.ChecksumAlg != 0 {
				// The master kept its checksum on after we asked for
				// none. Decoding would misplace every event boundary.
				return ev, ErrChecksum.New(fde.ChecksumAlg)
			}
		}
	}
	return ev, err
}

// Close closes the connection. Safe to call from another goroutine to
// interrupt a blocked NextEvent.
func (bl *Remote) Close() error {
	return bl.conn.Close()
}

func (bl *Remote) write(pkt interface{ encode(w *writer) error }) error {
	w := newWriter(bl.conn, &bl.seq)
	if err := pkt.encode(w); err != nil {
		return err
	}
	return w.Close()
}

func (bl *Remote) readOkErr() error {
	r := newReader(bl.conn, &bl.seq)
	marker, err := r.peek()
	if err != nil {
		return err
	}
	switch marker {
	case okMarker:
		return r.drain()
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return err
		}
		return ErrCommandFailed.New(ep.errorMessage)
	default:
		return ErrProtocol.New("expected OK or ERR packet")
	}
}
