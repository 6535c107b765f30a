package metadata

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/tablerepl/consistency"
)

// DefaultFlushInterval is used when the configuration does not set one.
const DefaultFlushInterval = 10 * time.Second

// Persister periodically writes the registry and the server cursors to
// the metadata store. Rows whose binlog position has not advanced
// since the previous flush are skipped. Failures are logged and the
// whole batch is retried on the next tick; the listeners never wait on
// the persister.
type Persister struct {
	store    *Store
	registry *consistency.Registry
	cursors  func() []consistency.ServerCursor
	interval time.Duration
	log      *logrus.Entry

	flushed map[string]uint64 // record key -> last flushed position
	stop    chan struct{}
	done    chan struct{}
}

// NewPersister wires a persister to its sources. cursors supplies the
// current per-server cursor set at flush time.
func NewPersister(store *Store, registry *consistency.Registry,
	cursors func() []consistency.ServerCursor, interval time.Duration, log *logrus.Logger) *Persister {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Persister{
		store:    store,
		registry: registry,
		cursors:  cursors,
		interval: interval,
		log:      log.WithField("component", "persister"),
		flushed:  make(map[string]uint64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run flushes on every interval tick until Stop is called, then makes
// one final flush. Run is meant to be a goroutine.
func (p *Persister) Run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

// Stop ends the flush loop and waits for the final flush to finish.
func (p *Persister) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Persister) flush() {
	dirty := dirtyRecords(p.registry.Snapshot(), p.flushed)
	if len(dirty) > 0 {
		if err := p.store.SaveConsistency(dirty); err != nil {
			p.log.Warnf("consistency flush failed, will retry: %v", err)
			return
		}
		for _, rec := range dirty {
			p.flushed[recordKey(rec)] = rec.BinlogPos
		}
		p.log.Debugf("flushed %d consistency records", len(dirty))
	}
	if p.cursors == nil {
		return
	}
	if curs := p.cursors(); len(curs) > 0 {
		if err := p.store.SaveServers(curs); err != nil {
			p.log.Warnf("server cursor flush failed, will retry: %v", err)
		}
	}
}

// dirtyRecords filters a registry snapshot down to the records whose
// binlog position advanced past what was last flushed.
func dirtyRecords(snapshot []consistency.Record, flushed map[string]uint64) []consistency.Record {
	var dirty []consistency.Record
	for _, rec := range snapshot {
		if last, ok := flushed[recordKey(rec)]; ok && last >= rec.BinlogPos {
			continue
		}
		dirty = append(dirty, rec)
	}
	return dirty
}

func recordKey(rec consistency.Record) string {
	return fmt.Sprintf("%s\x00%d", rec.DbTable, rec.ServerID)
}
