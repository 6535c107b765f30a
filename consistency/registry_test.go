package consistency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/tablerepl/binlog"
)

func header(serverID, nextPos uint32) *binlog.EventHeader {
	return &binlog.EventHeader{ServerID: serverID, NextPos: nextPos}
}

func TestRegistry_UpdateAndQuery(t *testing.T) {
	reg := NewRegistry()
	gtid := binlog.MariadbGtid(0, 10, 42)

	reg.Update(header(10, 256), "db1.t1", true, gtid)

	rec, ok := reg.Query("db1.t1", 0)
	require.True(t, ok)
	require.Equal(t, "db1.t1", rec.DbTable)
	require.Equal(t, uint32(10), rec.ServerID)
	require.Equal(t, uint64(256), rec.BinlogPos)
	require.True(t, rec.GtidKnown)
	require.Equal(t, "0-10-42", rec.Gtid.String())
}

func TestRegistry_UpdateFollowsNextPosition(t *testing.T) {
	reg := NewRegistry()
	var gtid binlog.Gtid

	reg.Update(header(10, 120), "db1.t1", false, gtid)
	reg.Update(header(10, 256), "db1.t1", false, gtid)

	rec, ok := reg.Query("db1.t1", 0)
	require.True(t, ok)
	require.Equal(t, uint64(256), rec.BinlogPos)
	require.False(t, rec.GtidKnown)
	require.Equal(t, 1, reg.Servers("db1.t1"))
}

func TestRegistry_ServerIndexIsInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	var gtid binlog.Gtid

	reg.Update(header(10, 100), "db1.t1", false, gtid)
	reg.Update(header(20, 900), "db1.t1", false, gtid)

	first, ok := reg.Query("db1.t1", 0)
	require.True(t, ok)
	require.Equal(t, uint32(10), first.ServerID)

	second, ok := reg.Query("db1.t1", 1)
	require.True(t, ok)
	require.Equal(t, uint32(20), second.ServerID)

	_, ok = reg.Query("db1.t1", 2)
	require.False(t, ok)
	_, ok = reg.Query("db1.t1", -1)
	require.False(t, ok)
	_, ok = reg.Query("other.table", 0)
	require.False(t, ok)
}

func TestRegistry_QueryReturnsACopy(t *testing.T) {
	reg := NewRegistry()
	reg.Update(header(10, 100), "db1.t1", false, binlog.Gtid{})

	rec, _ := reg.Query("db1.t1", 0)
	rec.BinlogPos = 9999

	again, _ := reg.Query("db1.t1", 0)
	require.Equal(t, uint64(100), again.BinlogPos)
}

func TestRegistry_SnapshotAndLoad(t *testing.T) {
	reg := NewRegistry()
	gtid := binlog.MariadbGtid(0, 10, 1)
	reg.Update(header(10, 100), "db1.t1", true, gtid)
	reg.Update(header(20, 200), "db1.t1", true, gtid)
	reg.Update(header(10, 300), "db2.t2", true, gtid)

	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	// tables in first-observation order, servers in insertion order
	require.Equal(t, "db1.t1", snap[0].DbTable)
	require.Equal(t, uint32(10), snap[0].ServerID)
	require.Equal(t, "db1.t1", snap[1].DbTable)
	require.Equal(t, uint32(20), snap[1].ServerID)
	require.Equal(t, "db2.t2", snap[2].DbTable)

	// a fresh registry seeded from the snapshot answers the same
	seeded := NewRegistry()
	seeded.Load(snap)
	rec, ok := seeded.Query("db1.t1", 1)
	require.True(t, ok)
	require.Equal(t, uint32(20), rec.ServerID)
	require.Equal(t, uint64(200), rec.BinlogPos)
}

func TestRegistry_LoadThenUpdate(t *testing.T) {
	reg := NewRegistry()
	reg.Load([]Record{{DbTable: "db1.t1", ServerID: 10, BinlogPos: 50}})

	reg.Update(header(10, 500), "db1.t1", false, binlog.Gtid{})
	rec, ok := reg.Query("db1.t1", 0)
	require.True(t, ok)
	require.Equal(t, uint64(500), rec.BinlogPos)
	require.Equal(t, 1, reg.Servers("db1.t1"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for s := uint32(1); s <= 4; s++ {
		wg.Add(1)
		go func(serverID uint32) {
			defer wg.Done()
			for pos := uint32(1); pos <= 500; pos++ {
				reg.Update(header(serverID, pos), "db1.t1", false, binlog.Gtid{})
				reg.Query("db1.t1", 0)
			}
		}(s)
	}
	wg.Wait()
	require.Equal(t, 4, reg.Servers("db1.t1"))
	require.Len(t, reg.Snapshot(), 4)
}
