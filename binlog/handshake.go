package binlog

import (
	"strings"
)

// Capability flags.
//
// https://dev.mysql.com/doc/internals/en/capability-flags.html
const (
	capLongPassword               = 0x00000001
	capFoundRows                  = 0x00000002
	capLongFlag                   = 0x00000004
	capConnectWithDB              = 0x00000008
	capNoSchema                   = 0x00000010
	capCompress                   = 0x00000020
	capODBC                       = 0x00000040
	capProtocol41                 = 0x00000200
	capSSL                        = 0x00000800
	capSecureConnection           = 0x00008000
	capPluginAuth                 = 0x00080000
	capConnectAttrs               = 0x00100000
	capPluginAuthLenencClientData = 0x00200000
	capSSLVerifyServerCert        = 0x40000000
	capSessionTrack               = 0x00800000
)

// handshake is the server's initial packet of the connection phase.
//
// https://dev.mysql.com/doc/internals/en/connection-phase-packets.html
type handshake struct {
	protocolVersion uint8
	serverVersion   string
	connectionID    uint32
	authPluginData  []byte
	capabilityFlags uint32
	characterSet    uint8
	statusFlags     uint16
	authPluginName  string
}

func (h *handshake) decode(r *reader) error {
	h.protocolVersion = r.int1()
	h.serverVersion = r.stringNull()
	h.connectionID = r.int4()
	if h.protocolVersion != 10 {
		return ErrProtocol.New("unsupported handshake protocol version")
	}

	h.authPluginData = r.bytes(8) // scramble, first half
	r.skip(1)                     // filler
	h.capabilityFlags = uint32(r.int2())
	if !r.more() {
		return r.err
	}
	h.characterSet = r.int1()
	h.statusFlags = r.int2()
	h.capabilityFlags |= uint32(r.int2()) << 16
	if r.err != nil {
		return r.err
	}
	var pluginDataLen uint8
	if h.capabilityFlags&capPluginAuth != 0 {
		pluginDataLen = r.int1()
	} else {
		r.skip(1)
	}
	r.skip(10) // reserved
	if r.err != nil {
		return r.err
	}
	if h.capabilityFlags&capSecureConnection != 0 {
		// scramble, second half: max(13, pluginDataLen - 8) bytes
		n := 13
		if pluginDataLen > 8 && int(pluginDataLen)-8 > 13 {
			n = int(pluginDataLen) - 8
		}
		half := r.bytes(n)
		// drop the trailing NUL so that authPluginData is the 20-byte
		// scramble
		if len(half) > 0 && half[len(half)-1] == 0 {
			half = half[:len(half)-1]
		}
		h.authPluginData = append(h.authPluginData, half...)
	}
	if h.capabilityFlags&capPluginAuth != 0 {
		h.authPluginName = r.stringNull()
	}
	return r.err
}

// isMariaDB classifies the server by its advertised version string.
func (h *handshake) isMariaDB() bool {
	return strings.Contains(strings.ToLower(h.serverVersion), "maria")
}

func (h *handshake) serverType() ServerType {
	if h.isMariaDB() {
		return ServerTypeMariaDB
	}
	return ServerTypeMySQL
}
