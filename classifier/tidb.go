package classifier

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// DefaultCacheBytes is the classification cache budget used when the
// configuration does not set one.
const DefaultCacheBytes = 4 << 20

// TidbClassifier classifies statements with the TiDB SQL parser. Not
// safe for concurrent use; hold one per router thread.
type TidbClassifier struct {
	parser        *parser.Parser
	sqlMode       string
	serverVersion uint32
	cache         *lruCache
}

var _ Classifier = (*TidbClassifier)(nil)

// New builds a classifier with the given cache byte budget; zero or
// negative disables caching.
func New(cacheBytes int) *TidbClassifier {
	return &TidbClassifier{
		parser: parser.New(),
		cache:  newLRUCache(cacheBytes),
	}
}

// SetSQLMode updates the sql_mode used for parsing. Unknown mode
// strings leave the previous mode in place.
func (c *TidbClassifier) SetSQLMode(mode string) {
	m, err := mysql.GetSQLMode(mode)
	if err != nil {
		return
	}
	c.sqlMode = mode
	c.parser.SetSQLMode(m)
}

// SetServerVersion records the upstream version (encoded
// major*10000 + minor*100 + patch). It participates in the cache key:
// the same SQL may classify differently across versions.
func (c *TidbClassifier) SetServerVersion(version uint32) {
	c.serverVersion = version
}

// Parse classifies the packet. The collect flags are accepted as a
// hint only; everything is derived in one pass and kept in the cache,
// so later getters never need the caller to have asked in advance.
func (c *TidbClassifier) Parse(packet []byte, flags CollectFlags) ParseResult {
	_ = flags
	return c.analyze(packet).result
}

func (c *TidbClassifier) TypeMask(packet []byte) TypeMask {
	return c.analyze(packet).mask
}

func (c *TidbClassifier) Operation(packet []byte) Operation {
	return c.analyze(packet).op
}

func (c *TidbClassifier) Tables(packet []byte, qualified bool) []string {
	a := c.analyze(packet)
	out := make([]string, 0, len(a.tables))
	for _, t := range a.tables {
		if qualified && t.db != "" {
			out = append(out, t.db+"."+t.table)
		} else {
			out = append(out, t.table)
		}
	}
	return out
}

func (c *TidbClassifier) Databases(packet []byte) []string {
	return c.analyze(packet).databases
}

func (c *TidbClassifier) Fields(packet []byte) []FieldRef {
	return c.analyze(packet).fields
}

func (c *TidbClassifier) Functions(packet []byte) []FunctionRef {
	return c.analyze(packet).functions
}

func (c *TidbClassifier) Canonical(packet []byte) string {
	return c.analyze(packet).canonical
}

func (c *TidbClassifier) HasWhereClause(packet []byte) bool {
	return c.analyze(packet).hasWhere
}

func (c *TidbClassifier) PrepareName(packet []byte) (string, bool) {
	a := c.analyze(packet)
	return a.prepareName, a.prepareName != ""
}

func (c *TidbClassifier) PreparableStatement(packet []byte) ([]byte, bool) {
	a := c.analyze(packet)
	return a.preparable, a.preparable != nil
}

func (c *TidbClassifier) CreatedTableName(packet []byte) (string, bool) {
	a := c.analyze(packet)
	return a.createdTable, a.createdTable != ""
}

func (c *TidbClassifier) IsDropTable(packet []byte) bool {
	return c.analyze(packet).isDropTable
}

type tableRef struct {
	db    string
	table string
}

type analysis struct {
	result       ParseResult
	mask         TypeMask
	op           Operation
	tables       []tableRef
	databases    []string
	fields       []FieldRef
	functions    []FunctionRef
	canonical    string
	hasWhere     bool
	prepareName  string
	preparable   []byte
	createdTable string
	isDropTable  bool
}

// invalidAnalysis is the fail-safe classification: unknown statements
// route as writes.
func invalidAnalysis(canonical string) *analysis {
	return &analysis{result: ParseInvalid, mask: TypeWrite, canonical: canonical}
}

func (c *TidbClassifier) analyze(packet []byte) *analysis {
	sql, ok := comQueryText(packet)
	if !ok {
		return invalidAnalysis("")
	}
	canonical := parser.Normalize(sql, "ON")
	key := fmt.Sprintf("%s\x00%s\x00%d", canonical, c.sqlMode, c.serverVersion)
	if a := c.cache.get(key); a != nil {
		return a
	}

	a := c.classify(sql)
	a.canonical = canonical
	// The autocommit bits depend on the literal value, which the
	// canonical form replaces with '?'; such results are not cached.
	if a.mask&(TypeEnableAutocommit|TypeDisableAutocommit) == 0 {
		c.cache.put(key, a)
	}
	return a
}

func (c *TidbClassifier) classify(sql string) *analysis {
	stmts, _, err := c.parser.Parse(sql, "", "")
	if err != nil || len(stmts) == 0 {
		return invalidAnalysis("")
	}
	a := &analysis{result: ParseParsed}
	// multi-statement packets classify as the union of their parts
	for _, stmt := range stmts {
		c.classifyStmt(stmt, a)
	}
	col := &collector{a: a}
	for _, stmt := range stmts {
		stmt.Accept(col)
	}
	return a
}

func (c *TidbClassifier) classifyStmt(stmt ast.StmtNode, a *analysis) {
	switch n := stmt.(type) {
	case *ast.SelectStmt:
		a.op = OpSelect
		a.mask |= TypeRead
		if n.LockInfo != nil && n.LockInfo.LockType != ast.SelectLockNone {
			a.mask |= TypeMasterRead
		}
		if n.Where != nil {
			a.hasWhere = true
		}
	case *ast.SetOprStmt:
		a.op = OpSelect
		a.mask |= TypeRead
	case *ast.InsertStmt:
		// REPLACE classifies as an insert too
		a.op = OpInsert
		a.mask |= TypeWrite
	case *ast.UpdateStmt:
		a.op = OpUpdate
		a.mask |= TypeWrite
		if n.Where != nil {
			a.hasWhere = true
		}
	case *ast.DeleteStmt:
		a.op = OpDelete
		a.mask |= TypeWrite
		if n.Where != nil {
			a.hasWhere = true
		}
	case *ast.LoadDataStmt:
		a.mask |= TypeWrite
		if n.FileLocRef == ast.FileLocClient {
			a.op = OpLoadLocal
		} else {
			a.op = OpLoad
		}
	case *ast.CreateTableStmt:
		a.op = OpCreate
		a.mask |= TypeWrite
		if n.TemporaryKeyword != ast.TemporaryNone {
			a.mask |= TypeCreateTmpTable
		}
		if n.Table != nil {
			a.createdTable = n.Table.Name.String()
		}
	case *ast.CreateIndexStmt, *ast.CreateDatabaseStmt, *ast.CreateViewStmt:
		a.op = OpCreate
		a.mask |= TypeWrite
	case *ast.DropTableStmt:
		a.op = OpDrop
		a.mask |= TypeWrite
		a.isDropTable = !n.IsView
	case *ast.DropIndexStmt, *ast.DropDatabaseStmt:
		a.op = OpDrop
		a.mask |= TypeWrite
	case *ast.AlterTableStmt, *ast.AlterDatabaseStmt:
		a.op = OpAlter
		a.mask |= TypeWrite
	case *ast.TruncateTableStmt:
		a.op = OpTruncate
		a.mask |= TypeWrite
	case *ast.RenameTableStmt:
		a.op = OpAlter
		a.mask |= TypeWrite
	case *ast.ShowStmt:
		a.op = OpShow
		a.mask |= TypeRead
		switch n.Tp {
		case ast.ShowDatabases:
			a.mask |= TypeShowDatabases
		case ast.ShowTables:
			a.mask |= TypeShowTables
		}
	case *ast.ExplainStmt:
		a.op = OpExplain
		a.mask |= TypeRead
	case *ast.BeginStmt:
		a.mask |= TypeBeginTrx
	case *ast.CommitStmt:
		a.mask |= TypeCommit
	case *ast.RollbackStmt:
		a.mask |= TypeRollback
	case *ast.UseStmt:
		a.op = OpChangeDb
		a.mask |= TypeSessionWrite
		a.databases = append(a.databases, string(n.DBName))
	case *ast.SetStmt:
		c.classifySet(n, a)
	case *ast.PrepareStmt:
		a.mask |= TypePrepareNamedStmt
		a.prepareName = n.Name
		if n.SQLText != "" {
			a.preparable = append([]byte{comQuery}, n.SQLText...)
		}
	case *ast.ExecuteStmt:
		a.op = OpExecute
		a.mask |= TypeExecStmt
	case *ast.DeallocateStmt:
		a.mask |= TypeDeallocPrepare
	case *ast.GrantStmt:
		a.op = OpGrant
		a.mask |= TypeWrite
	case *ast.RevokeStmt:
		a.op = OpRevoke
		a.mask |= TypeWrite
	case *ast.CallStmt:
		a.op = OpCall
		// a procedure may write; routing must assume it does
		a.mask |= TypeWrite
	default:
		if a.mask == 0 {
			a.mask = TypeWrite
		}
	}
}

func (c *TidbClassifier) classifySet(n *ast.SetStmt, a *analysis) {
	for _, v := range n.Variables {
		switch {
		case !v.IsSystem:
			a.mask |= TypeUserVarWrite
		case v.IsGlobal:
			a.mask |= TypeGSysVarWrite
		default:
			a.mask |= TypeSessionWrite
		}
		if strings.EqualFold(v.Name, "autocommit") {
			if enabled, ok := boolValue(v.Value); ok {
				if enabled {
					a.mask |= TypeEnableAutocommit
				} else {
					a.mask |= TypeDisableAutocommit
				}
			}
		}
	}
	if a.mask == 0 {
		a.mask = TypeSessionWrite
	}
}

func boolValue(expr ast.ExprNode) (value, ok bool) {
	ve, isValue := expr.(ast.ValueExpr)
	if !isValue {
		return false, false
	}
	switch v := fmt.Sprint(ve.GetValue()); strings.ToLower(v) {
	case "1", "on", "true":
		return true, true
	case "0", "off", "false":
		return false, true
	}
	return false, false
}

// collector walks a statement and records referenced tables,
// databases, fields, functions and variable reads.
type collector struct {
	a *analysis
}

func (c *collector) Enter(n ast.Node) (ast.Node, bool) {
	switch node := n.(type) {
	case *ast.TableName:
		ref := tableRef{db: node.Schema.String(), table: node.Name.String()}
		if !containsTable(c.a.tables, ref) {
			c.a.tables = append(c.a.tables, ref)
		}
		if ref.db != "" && !containsString(c.a.databases, ref.db) {
			c.a.databases = append(c.a.databases, ref.db)
		}
	case *ast.ColumnName:
		if node.Name.String() != "" {
			c.a.fields = append(c.a.fields, FieldRef{
				Db:     node.Schema.String(),
				Table:  node.Table.String(),
				Column: node.Name.String(),
			})
		}
	case *ast.FuncCallExpr:
		c.a.functions = append(c.a.functions, FunctionRef{
			Name:   node.FnName.String(),
			Fields: argFields(node.Args),
		})
	case *ast.AggregateFuncExpr:
		c.a.functions = append(c.a.functions, FunctionRef{
			Name:   node.F,
			Fields: argFields(node.Args),
		})
	case *ast.VariableExpr:
		switch {
		case !node.IsSystem:
			c.a.mask |= TypeUserVarRead
		case node.IsGlobal:
			c.a.mask |= TypeGSysVarRead
		default:
			c.a.mask |= TypeSysVarRead
		}
	}
	return n, false
}

func (c *collector) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

func argFields(args []ast.ExprNode) []FieldRef {
	var fields []FieldRef
	for _, arg := range args {
		if col, ok := arg.(*ast.ColumnNameExpr); ok {
			fields = append(fields, FieldRef{
				Db:     col.Name.Schema.String(),
				Table:  col.Name.Table.String(),
				Column: col.Name.Name.String(),
			})
		}
	}
	return fields
}

func containsTable(refs []tableRef, ref tableRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
