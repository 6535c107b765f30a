// Package metadata persists the consistency registry and the
// per-server replication cursors into two tables of a MariaDB/MySQL
// metadata database, and loads them back at startup.
package metadata

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/mariadb-corporation/tablerepl/binlog"
	"github.com/mariadb-corporation/tablerepl/consistency"
)

// ErrPersistence wraps failed metadata reads and writes. Writes are
// retried on the next flush interval and never block the listeners.
var ErrPersistence = errors.NewKind("metadata: %s")

// metadataDatabase is the schema holding the two bookkeeping tables.
const metadataDatabase = "SKYSQL_GATEWAY_METADATA"

const (
	createConsistencyTable = "CREATE TABLE IF NOT EXISTS " + metadataDatabase + ".TABLE_REPLICATION_CONSISTENCY(" +
		"DB_TABLE_NAME VARCHAR(255) NOT NULL," +
		"SERVER_ID INT NOT NULL," +
		"GTID VARBINARY(255)," +
		"BINLOG_POS BIGINT NOT NULL," +
		"GTID_KNOWN INT," +
		"PRIMARY KEY(DB_TABLE_NAME, SERVER_ID)) ENGINE=InnoDB"

	createServersTable = "CREATE TABLE IF NOT EXISTS " + metadataDatabase + ".TABLE_REPLICATION_SERVERS(" +
		"SERVER_ID INT NOT NULL," +
		"BINLOG_POS BIGINT NOT NULL," +
		"GTID VARBINARY(255)," +
		"GTID_KNOWN INT," +
		"SERVER_TYPE INT," +
		"PRIMARY KEY(SERVER_ID)) ENGINE=InnoDB"

	upsertConsistency = "INSERT INTO " + metadataDatabase + ".TABLE_REPLICATION_CONSISTENCY" +
		"(DB_TABLE_NAME, SERVER_ID, GTID, BINLOG_POS, GTID_KNOWN) VALUES (?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE GTID=VALUES(GTID), BINLOG_POS=VALUES(BINLOG_POS), GTID_KNOWN=VALUES(GTID_KNOWN)"

	upsertServer = "INSERT INTO " + metadataDatabase + ".TABLE_REPLICATION_SERVERS" +
		"(SERVER_ID, BINLOG_POS, GTID, GTID_KNOWN, SERVER_TYPE) VALUES (?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE BINLOG_POS=VALUES(BINLOG_POS), GTID=VALUES(GTID), " +
		"GTID_KNOWN=VALUES(GTID_KNOWN), SERVER_TYPE=VALUES(SERVER_TYPE)"

	selectConsistency = "SELECT DB_TABLE_NAME, SERVER_ID, GTID, BINLOG_POS, GTID_KNOWN FROM " +
		metadataDatabase + ".TABLE_REPLICATION_CONSISTENCY"

	selectServers = "SELECT SERVER_ID, BINLOG_POS, GTID, GTID_KNOWN, SERVER_TYPE FROM " +
		metadataDatabase + ".TABLE_REPLICATION_SERVERS"
)

// Store is a connection to the metadata database.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open connects to the metadata server. The DSN is a go-sql-driver DSN
// without a database part, e.g. "user:pass@tcp(host:3306)/".
func Open(dsn string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, ErrPersistence.Wrap(err, err.Error())
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, ErrPersistence.Wrap(err, err.Error())
	}
	return &Store{db: db, log: log.WithField("component", "metadata")}, nil
}

// EnsureSchema creates the metadata database and both tables when
// missing.
func (s *Store) EnsureSchema() error {
	stmts := []string{
		"CREATE DATABASE IF NOT EXISTS " + metadataDatabase,
		createConsistencyTable,
		createServersTable,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return ErrPersistence.Wrap(err, err.Error())
		}
	}
	return nil
}

// LoadConsistency reads every persisted consistency record. A read
// failure is reported but non-fatal to the caller: the registry simply
// starts empty.
func (s *Store) LoadConsistency() ([]consistency.Record, error) {
	rows, err := s.db.Query(selectConsistency)
	if err != nil {
		return nil, ErrPersistence.Wrap(err, err.Error())
	}
	defer rows.Close()

	var out []consistency.Record
	for rows.Next() {
		var (
			rec       consistency.Record
			gtidBytes []byte
			known     int
		)
		if err := rows.Scan(&rec.DbTable, &rec.ServerID, &gtidBytes, &rec.BinlogPos, &known); err != nil {
			return out, ErrPersistence.Wrap(err, err.Error())
		}
		rec.GtidKnown = known != 0
		gtid, err := binlog.ParseGtid(string(gtidBytes))
		if err != nil {
			s.log.WithField("table", rec.DbTable).Warnf("discarding unparsable stored gtid: %v", err)
			rec.GtidKnown = false
		} else {
			rec.Gtid = gtid
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, ErrPersistence.Wrap(err, err.Error())
	}
	return out, nil
}

// SaveConsistency upserts the given records by primary key.
func (s *Store) SaveConsistency(recs []consistency.Record) error {
	stmt, err := s.db.Prepare(upsertConsistency)
	if err != nil {
		return ErrPersistence.Wrap(err, err.Error())
	}
	defer stmt.Close()

	for _, rec := range recs {
		known := 0
		if rec.GtidKnown {
			known = 1
		}
		if _, err := stmt.Exec(rec.DbTable, rec.ServerID, []byte(rec.Gtid.String()), rec.BinlogPos, known); err != nil {
			return ErrPersistence.Wrap(err, err.Error())
		}
	}
	return nil
}

// LoadServers reads the persisted per-server cursors.
func (s *Store) LoadServers() ([]consistency.ServerCursor, error) {
	rows, err := s.db.Query(selectServers)
	if err != nil {
		return nil, ErrPersistence.Wrap(err, err.Error())
	}
	defer rows.Close()

	var out []consistency.ServerCursor
	for rows.Next() {
		var (
			cur       consistency.ServerCursor
			gtidBytes []byte
			known     int
			styp      int
		)
		if err := rows.Scan(&cur.ServerID, &cur.BinlogPos, &gtidBytes, &known, &styp); err != nil {
			return out, ErrPersistence.Wrap(err, err.Error())
		}
		cur.GtidKnown = known != 0
		cur.ServerType = binlog.ServerType(styp)
		gtid, err := binlog.ParseGtid(string(gtidBytes))
		if err != nil {
			s.log.WithField("server", cur.ServerID).Warnf("discarding unparsable stored gtid: %v", err)
			cur.GtidKnown = false
		} else {
			cur.Gtid = gtid
		}
		out = append(out, cur)
	}
	if err := rows.Err(); err != nil {
		return out, ErrPersistence.Wrap(err, err.Error())
	}
	return out, nil
}

// SaveServers upserts the per-server cursors.
func (s *Store) SaveServers(curs []consistency.ServerCursor) error {
	stmt, err := s.db.Prepare(upsertServer)
	if err != nil {
		return ErrPersistence.Wrap(err, err.Error())
	}
	defer stmt.Close()

	for _, cur := range curs {
		known := 0
		if cur.GtidKnown {
			known = 1
		}
		if _, err := stmt.Exec(cur.ServerID, cur.BinlogPos, []byte(cur.Gtid.String()), known, int(cur.ServerType)); err != nil {
			return ErrPersistence.Wrap(err, err.Error())
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
