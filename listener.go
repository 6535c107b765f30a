package tablerepl

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/mariadb-corporation/tablerepl/binlog"
	"github.com/mariadb-corporation/tablerepl/consistency"
)

// eventBufferSize bounds the in-flight events between the network
// reader and the dispatcher. The reader stops pulling from the socket
// while the buffer is full, which pushes back on the master.
const eventBufferSize = 50

// incidentLostEvents is the incident code reported when the dump
// stream dies, matching what masters use for possible lost events.
const incidentLostEvents = 175

// errStreamEnded is the dispatcher's internal end-of-stream sentinel.
var errStreamEnded = errors.NewKind("stream ended")

// Listener owns the replication session to one upstream server: the
// connection, the content-handler pipeline and the consistency updates
// derived from the stream.
type Listener struct {
	spec          ListenerSpec
	slaveServerID uint32
	registry      *consistency.Registry
	heartbeat     time.Duration
	log           *logrus.Entry

	mu         sync.Mutex
	conn       *binlog.Remote
	serverType binlog.ServerType
	handler    *consistencyHandler
	pipeline   *binlog.Pipeline
	cursor     consistency.ServerCursor
	binlogFile string
	lastErr    error

	closing atomic.Bool
	events  chan binlog.Event
	done    chan struct{}
}

func newListener(spec ListenerSpec, slaveServerID uint32, registry *consistency.Registry,
	heartbeat time.Duration, log *logrus.Logger) *Listener {
	return &Listener{
		spec:          spec,
		slaveServerID: slaveServerID,
		registry:      registry,
		heartbeat:     heartbeat,
		log: log.WithFields(logrus.Fields{
			"listener": spec.ListenerID,
			"server":   spec.URI,
		}),
	}
}

// Start connects and begins streaming. seed, when non-nil, is the
// persisted cursor used by the PositionMetadata start kind.
func (l *Listener) Start(seed *consistency.ServerCursor) error {
	conn, err := l.connect(l.spec.Start, seed)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.serverType = conn.ServerType()
	l.handler = newConsistencyHandler(l.registry, l.serverType, l.log)
	l.pipeline = &binlog.Pipeline{}
	l.pipeline.Attach(l.handler)
	l.cursor = consistency.ServerCursor{ServerType: l.serverType}
	if seed != nil {
		l.cursor = *seed
		l.cursor.ServerType = l.serverType
	}
	l.binlogFile, _ = conn.Position()
	l.events = make(chan binlog.Event, eventBufferSize)
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.readLoop(conn, l.events)
	go l.dispatchLoop(l.events)
	return nil
}

// connect dials, authenticates and issues the dump command for the
// requested start position.
func (l *Listener) connect(start StartPosition, seed *consistency.ServerCursor) (*binlog.Remote, error) {
	ep, err := parseURI(l.spec.URI)
	if err != nil {
		return nil, err
	}
	conn, err := binlog.Dial("tcp", ep.address)
	if err != nil {
		return nil, err
	}
	if err := conn.Authenticate(ep.user, ep.password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	l.log.WithFields(logrus.Fields{
		"type":    conn.ServerType(),
		"version": conn.ServerVersion(),
	}).Info("connected")

	if l.heartbeat > 0 {
		if err := conn.SetHeartbeatPeriod(l.heartbeat); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	if err := l.startDump(conn, start, seed); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (l *Listener) startDump(conn *binlog.Remote, start StartPosition, seed *consistency.ServerCursor) error {
	switch start.Kind {
	case PositionFile:
		return conn.StartDumpFile(l.slaveServerID, start.File, start.Offset)
	case PositionGtid:
		if !start.Gtid.IsReal() {
			return l.startFromMasterStatus(conn)
		}
		return conn.StartDumpGtid(l.slaveServerID, start.Gtid)
	default: // PositionMetadata
		if seed != nil && seed.GtidKnown && seed.Gtid.Dialect() == conn.ServerType() {
			return conn.StartDumpGtid(l.slaveServerID, seed.Gtid)
		}
		return l.startFromMasterStatus(conn)
	}
}

// startFromMasterStatus bootstraps from the master's current write
// position when no usable GTID or file coordinates exist.
func (l *Listener) startFromMasterStatus(conn *binlog.Remote) error {
	file, pos, err := conn.MasterStatus()
	if err != nil {
		return err
	}
	if file == "" {
		return ErrConfig.New("server has no binary log to dump")
	}
	return conn.StartDumpFile(l.slaveServerID, file, pos)
}

// readLoop pulls events off the wire into the bounded buffer. On a
// stream failure it pushes a synthetic incident so that consumers see
// the interruption in-band, then ends the stream.
func (l *Listener) readLoop(conn *binlog.Remote, events chan<- binlog.Event) {
	defer close(events)
	for {
		ev, err := conn.NextEvent()
		switch {
		case err == nil:
			events <- ev
		case binlog.ErrMalformedEvent.Is(err):
			// the event boundary is intact: report, pass it through as
			// unknown and keep streaming
			l.log.Warnf("%v", err)
			events <- ev
		case err == io.EOF:
			l.log.Info("server closed the binlog stream")
			return
		default:
			if l.closing.Load() {
				return
			}
			l.setErr(err)
			_, pos := conn.Position()
			events <- l.incidentEvent(pos, fmt.Sprintf("Read error: %v", err))
			return
		}
	}
}

func (l *Listener) incidentEvent(pos uint32, msg string) binlog.Event {
	l.mu.Lock()
	serverID := l.cursor.ServerID
	l.mu.Unlock()
	return binlog.Event{
		Header: binlog.EventHeader{
			EventType: binlog.INCIDENT_EVENT,
			ServerID:  serverID,
			NextPos:   pos,
		},
		Data: &binlog.IncidentEvent{
			Type:     incidentLostEvents,
			Message:  msg,
			Position: uint64(pos),
		},
	}
}

// dispatchLoop drains the buffer through the pipeline, in wire order,
// and keeps the server cursor current.
func (l *Listener) dispatchLoop(events <-chan binlog.Event) {
	defer close(l.done)
	read := func() (binlog.Event, error) {
		ev, ok := <-events
		if !ok {
			return binlog.Event{}, errStreamEnded.New()
		}
		return ev, nil
	}
	for {
		ev, err := l.pipeline.Next(read)
		if err != nil {
			if errStreamEnded.Is(err) {
				return
			}
			// a handler failure aborts only the current event
			l.log.Warnf("handler error: %v", err)
			continue
		}
		l.observe(ev)
	}
}

// observe applies an event's effect on the per-server cursor after the
// pipeline is done with it.
func (l *Listener) observe(ev binlog.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Header.ServerID != 0 {
		l.cursor.ServerID = ev.Header.ServerID
	}
	if re, ok := ev.Data.(*binlog.RotateEvent); ok {
		l.binlogFile = re.NextBinlog
		l.cursor.BinlogPos = re.Position
	} else if ev.Header.NextPos != 0 {
		l.cursor.BinlogPos = uint64(ev.Header.NextPos)
	}
	l.cursor.Gtid = l.handler.gtid
	l.cursor.GtidKnown = l.handler.gtidKnown
	if l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.log.WithFields(logrus.Fields{
			"type": ev.Header.EventType,
			"pos":  ev.Header.NextPos,
		}).Debug("event")
	}
}

// Cursor returns a copy of the current per-server cursor.
func (l *Listener) Cursor() consistency.ServerCursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Err returns the first fatal stream error, if any.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Listener) setErr(err error) {
	l.mu.Lock()
	if l.lastErr == nil {
		l.lastErr = err
	}
	l.mu.Unlock()
}

// SetPositionFile validates the coordinates against the server over a
// throwaway connection and, only if they exist, restarts the session
// there. An empty file means the listener's current binlog file. The
// running session is not disturbed when validation fails.
func (l *Listener) SetPositionFile(file string, pos uint32) error {
	if file == "" {
		l.mu.Lock()
		file = l.binlogFile
		l.mu.Unlock()
	}
	if err := l.validate(func(probe *binlog.Remote) error {
		return probe.ValidatePosition(file, pos)
	}); err != nil {
		return err
	}
	return l.restart(StartPosition{Kind: PositionFile, File: file, Offset: pos})
}

// SetPositionGtid restarts the session from the given GTID after
// confirming over a throwaway connection that the server is reachable
// and speaks the GTID's dialect.
func (l *Listener) SetPositionGtid(gtid binlog.Gtid) error {
	if !gtid.IsReal() {
		return ErrConfig.New("cannot reposition to an unknown GTID")
	}
	if err := l.validate(func(probe *binlog.Remote) error {
		if probe.ServerType() != gtid.Dialect() {
			return ErrConfig.New(fmt.Sprintf("server is %s but GTID is %s",
				probe.ServerType(), gtid.Dialect()))
		}
		return nil
	}); err != nil {
		return err
	}
	return l.restart(StartPosition{Kind: PositionGtid, Gtid: gtid})
}

// validate runs a check against a temporary connection that never
// touches the streaming session.
func (l *Listener) validate(check func(*binlog.Remote) error) error {
	ep, err := parseURI(l.spec.URI)
	if err != nil {
		return err
	}
	probe, err := binlog.Dial("tcp", ep.address)
	if err != nil {
		return err
	}
	defer probe.Close()
	if err := probe.Authenticate(ep.user, ep.password); err != nil {
		return err
	}
	return check(probe)
}

// restart tears the session down and starts a new one at the given
// position.
func (l *Listener) restart(start StartPosition) error {
	l.Stop()
	l.mu.Lock()
	l.spec.Start = start
	l.lastErr = nil
	l.mu.Unlock()
	l.closing.Store(false)
	return l.Start(nil)
}

// Stop asks the loops to exit, closes the connection and waits for the
// dispatcher to drain.
func (l *Listener) Stop() {
	l.closing.Store(true)
	l.mu.Lock()
	conn := l.conn
	done := l.done
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}
