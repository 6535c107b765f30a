// Package classifier maps client query packets to a statement type
// mask, an operation and the objects the statement touches. Routers
// use it to decide whether a statement can be sent to a slave.
//
// A Classifier keeps per-instance state (sql_mode, server version) and
// is not safe for concurrent use; router threads hold one instance
// each.
package classifier

// ParseResult tells how completely the classifier understood a packet.
type ParseResult int

const (
	// ParseInvalid means the statement was not recognized at all.
	// Callers should fail safe and treat the statement as a write.
	ParseInvalid ParseResult = iota
	ParseTokenized
	ParsePartiallyParsed
	ParseParsed
)

func (r ParseResult) String() string {
	switch r {
	case ParseTokenized:
		return "tokenized"
	case ParsePartiallyParsed:
		return "partially parsed"
	case ParseParsed:
		return "parsed"
	}
	return "invalid"
}

// CollectFlags hint which facts the caller will ask for. They are an
// optimization hint only: the classifier transparently reparses when a
// later call needs more than was collected.
type CollectFlags uint32

const (
	CollectEssentials CollectFlags = 1 << iota
	CollectTables
	CollectDatabases
	CollectFields
	CollectFunctions

	CollectAll = CollectEssentials | CollectTables | CollectDatabases |
		CollectFields | CollectFunctions
)

// TypeMask is a bitmask of statement traits. More than one bit may be
// set; callers test with bitwise AND, never with equality.
type TypeMask uint32

const (
	TypeRead TypeMask = 1 << iota
	TypeWrite
	TypeMasterRead
	TypeSessionWrite
	TypeUserVarRead
	TypeUserVarWrite
	TypeSysVarRead
	TypeGSysVarRead
	TypeGSysVarWrite
	TypeBeginTrx
	TypeCommit
	TypeRollback
	TypeEnableAutocommit
	TypeDisableAutocommit
	TypePrepareNamedStmt
	TypePrepareStmt
	TypeExecStmt
	TypeCreateTmpTable
	TypeReadTmpTable
	TypeShowDatabases
	TypeShowTables
	TypeDeallocPrepare
	TypeLocalRead
)

// Operation is the primary verb of a statement.
type Operation int

const (
	OpUndefined Operation = iota
	OpAlter
	OpCall
	OpChangeDb
	OpCreate
	OpDelete
	OpDrop
	OpExecute
	OpExplain
	OpGrant
	OpInsert
	OpLoad
	OpLoadLocal
	OpRevoke
	OpSelect
	OpShow
	OpTruncate
	OpUpdate
)

var operationNames = map[Operation]string{
	OpUndefined: "undefined",
	OpAlter:     "alter",
	OpCall:      "call",
	OpChangeDb:  "changeDb",
	OpCreate:    "create",
	OpDelete:    "delete",
	OpDrop:      "drop",
	OpExecute:   "execute",
	OpExplain:   "explain",
	OpGrant:     "grant",
	OpInsert:    "insert",
	OpLoad:      "load",
	OpLoadLocal: "loadLocal",
	OpRevoke:    "revoke",
	OpSelect:    "select",
	OpShow:      "show",
	OpTruncate:  "truncate",
	OpUpdate:    "update",
}

func (op Operation) String() string {
	if s, ok := operationNames[op]; ok {
		return s
	}
	return "undefined"
}

// FieldRef names a column, optionally qualified.
type FieldRef struct {
	Db     string
	Table  string
	Column string
}

// FunctionRef names a called function and the fields used as its
// arguments.
type FunctionRef struct {
	Name   string
	Fields []FieldRef
}

// Classifier is the contract routers program against. Packet arguments
// are raw COM_QUERY client packets (command byte followed by SQL
// text).
type Classifier interface {
	Parse(packet []byte, flags CollectFlags) ParseResult
	TypeMask(packet []byte) TypeMask
	Operation(packet []byte) Operation
	Tables(packet []byte, qualified bool) []string
	Databases(packet []byte) []string
	Fields(packet []byte) []FieldRef
	Functions(packet []byte) []FunctionRef
	Canonical(packet []byte) string
	HasWhereClause(packet []byte) bool
	PrepareName(packet []byte) (string, bool)
	PreparableStatement(packet []byte) ([]byte, bool)
	CreatedTableName(packet []byte) (string, bool)
	IsDropTable(packet []byte) bool
	SetSQLMode(mode string)
	SetServerVersion(version uint32) // major*10000 + minor*100 + patch
}

// comQueryText extracts the SQL text from a COM_QUERY packet.
const comQuery = 0x03

func comQueryText(packet []byte) (string, bool) {
	if len(packet) < 2 || packet[0] != comQuery {
		return "", false
	}
	return string(packet[1:]), true
}
