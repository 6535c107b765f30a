// Package consistency tracks, per table and per server, the binlog
// position and GTID at which the table was last observed to change.
// Downstream routers query it to decide whether a slave is fresh
// enough to serve a read.
package consistency

import (
	"sync"

	"github.com/mariadb-corporation/tablerepl/binlog"
)

// Record is the consistency cursor of one (table, server) pair.
type Record struct {
	DbTable   string // fully qualified "db.table"
	ServerID  uint32
	BinlogPos uint64
	GtidKnown bool
	Gtid      binlog.Gtid
}

// ServerCursor is the per-server replication cursor persisted between
// runs.
type ServerCursor struct {
	ServerID   uint32
	BinlogPos  uint64
	Gtid       binlog.Gtid
	GtidKnown  bool
	ServerType binlog.ServerType
}

// Registry is the in-memory consistency map. One coarse mutex guards
// it: writers are the listener goroutines (one per server) and readers
// are request-time router lookups, so contention stays low. Records
// are never removed; a table drop updates the record like any other
// DDL.
type Registry struct {
	mu sync.Mutex
	// records per table, in insertion order (one per server)
	tables map[string][]*Record
	// keys in first-observation order, for stable snapshots
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string][]*Record)}
}

// Update upserts the record for (dbTable, header.ServerID): the binlog
// position becomes the header's next-event position and the GTID is
// replaced.
func (reg *Registry) Update(header *binlog.EventHeader, dbTable string, gtidKnown bool, gtid binlog.Gtid) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, rec := range reg.tables[dbTable] {
		if rec.ServerID == header.ServerID {
			rec.BinlogPos = uint64(header.NextPos)
			rec.Gtid = gtid
			rec.GtidKnown = gtidKnown
			return
		}
	}
	if _, seen := reg.tables[dbTable]; !seen {
		reg.order = append(reg.order, dbTable)
	}
	reg.tables[dbTable] = append(reg.tables[dbTable], &Record{
		DbTable:   dbTable,
		ServerID:  header.ServerID,
		BinlogPos: uint64(header.NextPos),
		GtidKnown: gtidKnown,
		Gtid:      gtid,
	})
}

// Query returns the serverIndex-th record (in insertion order) among
// the records of dbTable. The second return is false when the table is
// unknown or the index is out of range.
func (reg *Registry) Query(dbTable string, serverIndex int) (Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	recs := reg.tables[dbTable]
	if serverIndex < 0 || serverIndex >= len(recs) {
		return Record{}, false
	}
	return *recs[serverIndex], true
}

// Servers returns how many servers have reported changes for dbTable.
func (reg *Registry) Servers(dbTable string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.tables[dbTable])
}

// Snapshot copies out every record, tables in first-observation order.
// The persister flushes from a snapshot so that the lock is held only
// for the copy.
func (reg *Registry) Snapshot() []Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var out []Record
	for _, key := range reg.order {
		for _, rec := range reg.tables[key] {
			out = append(out, *rec)
		}
	}
	return out
}

// Load seeds the registry, usually from the metadata store at startup.
// Existing entries are updated in place.
func (reg *Registry) Load(records []Record) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for i := range records {
		in := records[i]
		replaced := false
		for _, rec := range reg.tables[in.DbTable] {
			if rec.ServerID == in.ServerID {
				*rec = in
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}
		if _, seen := reg.tables[in.DbTable]; !seen {
			reg.order = append(reg.order, in.DbTable)
		}
		rec := in
		reg.tables[in.DbTable] = append(reg.tables[in.DbTable], &rec)
	}
}
