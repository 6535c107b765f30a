package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/tablerepl/consistency"
)

func TestDirtyRecords_SkipsUnadvanced(t *testing.T) {
	snapshot := []consistency.Record{
		{DbTable: "db1.t1", ServerID: 10, BinlogPos: 100},
		{DbTable: "db1.t1", ServerID: 20, BinlogPos: 200},
		{DbTable: "db2.t2", ServerID: 10, BinlogPos: 300},
	}
	flushed := map[string]uint64{
		recordKey(snapshot[0]): 100, // unchanged
		recordKey(snapshot[1]): 150, // advanced
	}

	dirty := dirtyRecords(snapshot, flushed)
	require.Len(t, dirty, 2)
	require.Equal(t, uint32(20), dirty[0].ServerID)
	require.Equal(t, "db2.t2", dirty[1].DbTable)
}

func TestDirtyRecords_FirstFlushTakesEverything(t *testing.T) {
	snapshot := []consistency.Record{
		{DbTable: "db1.t1", ServerID: 10, BinlogPos: 100},
		{DbTable: "db2.t2", ServerID: 10, BinlogPos: 300},
	}
	dirty := dirtyRecords(snapshot, map[string]uint64{})
	require.Len(t, dirty, 2)
}

func TestRecordKey_DistinguishesServers(t *testing.T) {
	a := consistency.Record{DbTable: "db1.t1", ServerID: 1}
	b := consistency.Record{DbTable: "db1.t1", ServerID: 2}
	require.NotEqual(t, recordKey(a), recordKey(b))

	// the separator cannot occur in a table name coming off the wire,
	// so keys cannot collide across tables either
	c := consistency.Record{DbTable: "db1.t", ServerID: 12}
	require.NotEqual(t, recordKey(a), recordKey(c))
}
