package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGtid_MariadbRoundTrip(t *testing.T) {
	cases := []struct {
		domain, server uint32
		seq            uint64
	}{
		{0, 1, 1},
		{0, 10, 42},
		{4294967295, 4294967295, 18446744073709551615},
	}
	for _, tc := range cases {
		g := MariadbGtid(tc.domain, tc.server, tc.seq)
		parsed, err := ParseMariadbGtid(g.String())
		require.NoError(t, err)
		require.True(t, g.Equal(parsed), "round trip of %s", g)
		require.Equal(t, tc.domain, parsed.DomainID())
		require.Equal(t, tc.server, parsed.ServerID())
		require.Equal(t, tc.seq, parsed.Sequence())
	}
}

func TestGtid_MariadbParseErrors(t *testing.T) {
	for _, s := range []string{"", "1-2", "1-2-3-4", "a-b-c", "1--3"} {
		_, err := ParseMariadbGtid(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestGtid_MysqlEncodedRoundTrip(t *testing.T) {
	var sid [16]byte
	for i := range sid {
		sid[i] = byte(0xf0 + i)
	}
	g := MysqlGtid(sid, 12345678901)
	blob := g.Encoded()
	require.Len(t, blob, 24)

	back, err := DecodeMysqlGtid(blob)
	require.NoError(t, err)
	require.True(t, g.Equal(back))
	require.Equal(t, sid, back.SID())
	require.Equal(t, uint64(12345678901), back.Sequence())
}

func TestGtid_MysqlEncodedWrongSize(t *testing.T) {
	_, err := DecodeMysqlGtid(make([]byte, 23))
	require.Error(t, err)
}

func TestGtid_ParseEitherDialect(t *testing.T) {
	g, err := ParseGtid("0-10-42")
	require.NoError(t, err)
	require.Equal(t, ServerTypeMariaDB, g.Dialect())

	g, err = ParseGtid("000102030405060708090a0b0c0d0e0f:23")
	require.NoError(t, err)
	require.Equal(t, ServerTypeMySQL, g.Dialect())
	require.Equal(t, uint64(23), g.Sequence())

	// canonical form survives a round trip through the string form
	back, err := ParseGtid(g.String())
	require.NoError(t, err)
	require.True(t, g.Equal(back))

	g, err = ParseGtid("")
	require.NoError(t, err)
	require.False(t, g.IsReal())
}

func TestGtid_ZeroValueIsNotReal(t *testing.T) {
	var g Gtid
	require.False(t, g.IsReal())
	require.Equal(t, "", g.String())
}

func TestGtid_EqualIsDialectAware(t *testing.T) {
	maria := MariadbGtid(0, 1, 5)
	var sid [16]byte
	mysql := MysqlGtid(sid, 5)
	require.False(t, maria.Equal(mysql))
	require.True(t, maria.Equal(MariadbGtid(0, 1, 5)))
	require.False(t, maria.Equal(MariadbGtid(0, 1, 6)))
}
