// Package tablerepl maintains, per table and per upstream server, the
// binlog position and GTID at which the table last changed. It attaches
// to each server as a replication slave, decodes the binlog stream and
// keeps a queryable consistency registry that read-routing components
// consult before sending a read to a slave.
package tablerepl

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/tablerepl/binlog"
	"github.com/mariadb-corporation/tablerepl/consistency"
	"github.com/mariadb-corporation/tablerepl/metadata"
)

// serverIDEnv optionally overrides the slave server id presented to
// the masters, as a decimal string.
const serverIDEnv = "TABLEREPL_SERVER_ID"

// Trace levels. Debug implies trace.
const (
	TraceNone   uint32 = 0
	TraceEvents uint32 = 1 << 1
	TraceDebug  uint32 = 1<<2 | TraceEvents
)

// Options configures a Supervisor.
type Options struct {
	// MetadataDSN is the go-sql-driver DSN of the metadata database.
	// Empty disables persistence entirely.
	MetadataDSN string

	// FlushInterval is the persister period; zero means the default.
	FlushInterval time.Duration

	// HeartbeatPeriod keeps idle dump connections alive; zero disables
	// heartbeats.
	HeartbeatPeriod time.Duration

	Logger *logrus.Logger
}

// Supervisor owns one listener per upstream server, the shared
// consistency registry and the metadata persister. All process state
// hangs off this value: constructing one at startup and shutting it
// down releases everything.
type Supervisor struct {
	opts     Options
	log      *logrus.Logger
	registry *consistency.Registry

	mu        sync.Mutex
	listeners map[uint32]*Listener
	store     *metadata.Store
	persister *metadata.Persister
	seeds     map[uint32]consistency.ServerCursor
	running   bool
}

// NewSupervisor prepares a supervisor; call Init to start listening.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Supervisor{
		opts:      opts,
		log:       opts.Logger,
		registry:  consistency.NewRegistry(),
		listeners: make(map[uint32]*Listener),
		seeds:     make(map[uint32]consistency.ServerCursor),
	}
}

// Registry exposes the shared consistency registry.
func (s *Supervisor) Registry() *consistency.Registry {
	return s.registry
}

// Init starts one replication listener per spec. slaveServerID is the
// server id presented to the masters (default 1, overridable from the
// environment). traceLevel raises the log verbosity for the whole
// supervisor. On failure the offending spec's ErrorMessage slot is
// filled and already started listeners are stopped again.
func (s *Supervisor) Init(specs []ListenerSpec, slaveServerID uint32, traceLevel uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning.New()
	}

	applyTraceLevel(s.log, traceLevel)
	slaveServerID = resolveServerID(slaveServerID)

	if s.opts.MetadataDSN != "" {
		s.openMetadataLocked()
	}

	for i := range specs {
		spec := specs[i]
		lst := newListener(spec, slaveServerID, s.registry, s.opts.HeartbeatPeriod, s.log)
		seed := s.seedFor(spec)
		if err := lst.Start(seed); err != nil {
			specs[i].ErrorMessage = err.Error()
			for _, started := range s.listeners {
				started.Stop()
			}
			s.listeners = make(map[uint32]*Listener)
			return err
		}
		s.listeners[spec.ListenerID] = lst
	}

	if s.store != nil {
		s.persister = metadata.NewPersister(s.store, s.registry, s.cursorSnapshot,
			s.opts.FlushInterval, s.log)
		go s.persister.Run()
	}
	s.running = true
	return nil
}

// openMetadataLocked connects to the metadata database and seeds the
// registry and the cursor map. Every failure here is non-fatal: the
// registry simply starts empty.
func (s *Supervisor) openMetadataLocked() {
	store, err := metadata.Open(s.opts.MetadataDSN, s.log)
	if err != nil {
		s.log.Warnf("metadata store unavailable, starting empty: %v", err)
		return
	}
	if err := store.EnsureSchema(); err != nil {
		s.log.Warnf("metadata schema setup failed, starting empty: %v", err)
		_ = store.Close()
		return
	}
	s.store = store

	if recs, err := store.LoadConsistency(); err != nil {
		s.log.Warnf("loading consistency records failed: %v", err)
	} else if len(recs) > 0 {
		s.registry.Load(recs)
		s.log.Infof("seeded registry with %d consistency records", len(recs))
	}
	if curs, err := store.LoadServers(); err != nil {
		s.log.Warnf("loading server cursors failed: %v", err)
	} else {
		for _, cur := range curs {
			s.seeds[cur.ServerID] = cur
		}
	}
}

// seedFor finds the persisted cursor a metadata-positioned listener
// should resume from. Listener ids map to master server ids only once
// events flow, so the lookup is by listener id by convention.
func (s *Supervisor) seedFor(spec ListenerSpec) *consistency.ServerCursor {
	if spec.Start.Kind != PositionMetadata {
		return nil
	}
	if cur, ok := s.seeds[spec.ListenerID]; ok {
		seed := cur
		return &seed
	}
	return nil
}

// cursorSnapshot collects the current cursor of every listener for the
// persister.
func (s *Supervisor) cursorSnapshot() []consistency.ServerCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consistency.ServerCursor, 0, len(s.listeners))
	for _, lst := range s.listeners {
		cur := lst.Cursor()
		if cur.ServerID == 0 {
			continue // nothing observed yet
		}
		out = append(out, cur)
	}
	return out
}

// Query returns the serverIndex-th consistency record of dbTable.
func (s *Supervisor) Query(dbTable string, serverIndex int) (consistency.Record, bool) {
	return s.registry.Query(dbTable, serverIndex)
}

// Reconnect replaces the listener with the given id (or starts a new
// one) using a fresh spec. On failure the spec's ErrorMessage slot is
// filled.
func (s *Supervisor) Reconnect(spec *ListenerSpec, slaveServerID uint32) error {
	slaveServerID = resolveServerID(slaveServerID)

	s.mu.Lock()
	old, existed := s.listeners[spec.ListenerID]
	s.mu.Unlock()
	if existed {
		old.Stop()
	}

	lst := newListener(*spec, slaveServerID, s.registry, s.opts.HeartbeatPeriod, s.log)
	if err := lst.Start(s.seedFor(*spec)); err != nil {
		spec.ErrorMessage = err.Error()
		return err
	}
	s.mu.Lock()
	s.listeners[spec.ListenerID] = lst
	s.mu.Unlock()
	return nil
}

// SetPositionFile repositions one listener to file+offset coordinates.
func (s *Supervisor) SetPositionFile(listenerID uint32, file string, pos uint32) error {
	lst, err := s.listener(listenerID)
	if err != nil {
		return err
	}
	return lst.SetPositionFile(file, pos)
}

// SetPositionGtid repositions one listener to a GTID.
func (s *Supervisor) SetPositionGtid(listenerID uint32, gtid binlog.Gtid) error {
	lst, err := s.listener(listenerID)
	if err != nil {
		return err
	}
	return lst.SetPositionGtid(gtid)
}

// Listener returns the running listener with the given id.
func (s *Supervisor) Listener(listenerID uint32) (*Listener, error) {
	return s.listener(listenerID)
}

func (s *Supervisor) listener(listenerID uint32) (*Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lst, ok := s.listeners[listenerID]
	if !ok {
		return nil, ErrListenerNotFound.New(listenerID)
	}
	return lst, nil
}

// Shutdown stops every listener, flushes the metadata store one last
// time and returns the first trailing error any listener reported.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	listeners := make([]*Listener, 0, len(s.listeners))
	for _, lst := range s.listeners {
		listeners = append(listeners, lst)
	}
	persister := s.persister
	store := s.store
	s.persister, s.store = nil, nil
	s.running = false
	s.mu.Unlock()

	var trailing error
	for _, lst := range listeners {
		lst.Stop()
		if err := lst.Err(); err != nil && trailing == nil {
			trailing = err
		}
	}
	if persister != nil {
		persister.Stop() // includes the final flush of stopped cursors
	}
	if store != nil {
		_ = store.Close()
	}

	s.mu.Lock()
	s.listeners = make(map[uint32]*Listener)
	s.mu.Unlock()
	return trailing
}

func resolveServerID(id uint32) uint32 {
	if env := os.Getenv(serverIDEnv); env != "" {
		if v, err := strconv.ParseUint(env, 10, 32); err == nil && v != 0 {
			return uint32(v)
		}
	}
	if id == 0 {
		return 1
	}
	return id
}

func applyTraceLevel(log *logrus.Logger, traceLevel uint32) {
	switch {
	case traceLevel&TraceDebug == TraceDebug:
		log.SetLevel(logrus.DebugLevel)
	case traceLevel&TraceEvents != 0:
		log.SetLevel(logrus.InfoLevel)
	}
}
