package tablerepl

import (
	"github.com/sirupsen/logrus"

	"github.com/mariadb-corporation/tablerepl/binlog"
	"github.com/mariadb-corporation/tablerepl/consistency"
	"github.com/mariadb-corporation/tablerepl/tableparser"
)

// consistencyHandler is the content handler that turns the replication
// stream into registry updates. It tracks the current transaction GTID
// and the table-id map established by table map events; statement
// based events go through the table name extractor instead.
type consistencyHandler struct {
	binlog.Dispatch

	registry   *consistency.Registry
	serverType binlog.ServerType
	log        *logrus.Entry

	gtid      binlog.Gtid
	gtidKnown bool
	tables    map[uint64]string // table id -> db.table
}

func newConsistencyHandler(registry *consistency.Registry, serverType binlog.ServerType, log *logrus.Entry) *consistencyHandler {
	return &consistencyHandler{
		registry:   registry,
		serverType: serverType,
		log:        log,
		tables:     make(map[uint64]string),
	}
}

func (h *consistencyHandler) OnGtid(e *binlog.Event) (*binlog.Event, error) {
	ge, ok := e.Data.(*binlog.GtidEvent)
	if !ok {
		return e, nil
	}
	if ge.Gtid.Dialect() != h.serverType {
		// a MySQL GTID on a MariaDB stream (or the reverse) would
		// poison the registry with the wrong dialect
		h.log.Warnf("ignoring gtid %s: dialect does not match server type %s", ge.Gtid, h.serverType)
		return e, nil
	}
	h.gtid = ge.Gtid
	h.gtidKnown = true
	return e, nil
}

func (h *consistencyHandler) OnQuery(e *binlog.Event) (*binlog.Event, error) {
	qe, ok := e.Data.(*binlog.QueryEvent)
	if !ok {
		return e, nil
	}
	refs, tracked := tableparser.Tables(qe.Query)
	if !tracked {
		return e, nil
	}
	for _, ref := range refs {
		db := ref.Db
		if db == "" {
			db = qe.Schema
		}
		h.registry.Update(&e.Header, db+"."+ref.Table, h.gtidKnown, h.gtid)
	}
	return e, nil
}

func (h *consistencyHandler) OnTableMap(e *binlog.Event) (*binlog.Event, error) {
	tm, ok := e.Data.(*binlog.TableMapEvent)
	if !ok {
		return e, nil
	}
	h.tables[tm.TableID] = tm.QualifiedName()
	return e, nil
}

func (h *consistencyHandler) OnRows(e *binlog.Event) (*binlog.Event, error) {
	re, ok := e.Data.(*binlog.RowsEvent)
	if !ok {
		return e, nil
	}
	var name string
	if re.TableMap != nil {
		name = re.TableMap.QualifiedName()
	} else if mapped, ok := h.tables[re.TableID]; ok {
		name = mapped
	}
	if name == "" {
		return e, nil
	}
	h.registry.Update(&e.Header, name, h.gtidKnown, h.gtid)
	return e, nil
}

func (h *consistencyHandler) OnRotate(e *binlog.Event) (*binlog.Event, error) {
	if re, ok := e.Data.(*binlog.RotateEvent); ok {
		// table ids are only stable within one binlog file
		h.tables = make(map[uint64]string)
		h.log.WithFields(logrus.Fields{
			"file": re.NextBinlog,
			"pos":  re.Position,
		}).Debug("rotate")
	}
	return e, nil
}

func (h *consistencyHandler) OnIncident(e *binlog.Event) (*binlog.Event, error) {
	if ie, ok := e.Data.(*binlog.IncidentEvent); ok {
		h.log.WithFields(logrus.Fields{
			"code": ie.Type,
			"pos":  ie.Position,
		}).Warnf("incident: %s", ie.Message)
	}
	return e, nil
}
