package binlog

import (
	"crypto/sha1"
)

// handshakeResponse41 is the client's reply to the server handshake.
// The advertised capabilities deliberately exclude CLIENT_SSL,
// CLIENT_COMPRESS, CLIENT_SSL_VERIFY_SERVER_CERT, CLIENT_CONNECT_ATTRS,
// CLIENT_PLUGIN_AUTH and CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA: the
// dump session speaks plain mysql_native_password over a plain socket.
//
// https://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::HandshakeResponse
type handshakeResponse41 struct {
	capabilityFlags uint32
	maxPacketSize   uint32
	characterSet    uint8
	username        string
	authResponse    []byte
	database        string
}

func (e handshakeResponse41) encode(w *writer) error {
	capabilities := e.capabilityFlags
	capabilities |= capProtocol41
	capabilities &^= capSSL | capCompress | capSSLVerifyServerCert |
		capConnectAttrs | capPluginAuth | capPluginAuthLenencClientData
	if e.database != "" {
		capabilities |= capConnectWithDB
	}

	w.int4(capabilities)
	w.int4(e.maxPacketSize)
	w.int1(e.characterSet)
	w.Write(make([]byte, 23)) // reserved
	w.stringNull(e.username)
	w.bytes1(e.authResponse)
	if capabilities&capConnectWithDB != 0 {
		w.stringNull(e.database)
	}
	return w.err
}

// encryptedPassword computes the mysql_native_password scramble:
// SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password))). An empty
// password produces an empty response.
//
// https://dev.mysql.com/doc/internals/en/secure-password-authentication.html
func encryptedPassword(password string, scramble []byte) []byte {
	if len(password) == 0 {
		return nil
	}
	hash := sha1.New()
	sum := func(b ...[]byte) []byte {
		hash.Reset()
		for _, p := range b {
			hash.Write(p)
		}
		return hash.Sum(nil)
	}
	x := sum([]byte(password))
	y := sum(scramble[:20], sum(sum([]byte(password))))
	for i, b := range y {
		x[i] ^= b
	}
	return x
}
