package tableparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTables_Insert(t *testing.T) {
	cases := map[string][]TableRef{
		"INSERT INTO t1 VALUES (1)":                        {{Table: "t1"}},
		"insert into db1.t1 values (1)":                    {{Db: "db1", Table: "t1"}},
		"INSERT LOW_PRIORITY IGNORE INTO t1 SET x=1":       {{Table: "t1"}},
		"INSERT DELAYED INTO `my table` VALUES (1)":        {{Table: "my table"}},
		"INSERT HIGH_PRIORITY INTO \"a\".\"b\" VALUES (1)": {{Db: "a", Table: "b"}},
	}
	for sql, want := range cases {
		got, ok := Tables(sql)
		require.True(t, ok, "input %q", sql)
		require.Equal(t, want, got, "input %q", sql)
	}
}

func TestTables_Replace(t *testing.T) {
	got, ok := Tables("REPLACE INTO t1 VALUES (1)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)

	// INTO is optional for REPLACE
	got, ok = Tables("REPLACE LOW_PRIORITY t1 VALUES (1)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)
}

func TestTables_UpdateList(t *testing.T) {
	got, ok := Tables("UPDATE LOW_PRIORITY IGNORE a.t1, `b`.`t 2`, t3 SET x=1")
	require.True(t, ok)
	require.Equal(t, []TableRef{
		{Db: "a", Table: "t1"},
		{Db: "b", Table: "t 2"},
		{Table: "t3"},
	}, got)
}

func TestTables_Delete(t *testing.T) {
	got, ok := Tables("DELETE FROM t1 WHERE id = 1")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)

	got, ok = Tables("DELETE LOW_PRIORITY QUICK IGNORE FROM db1.t1, db2.t2")
	require.True(t, ok)
	require.Equal(t, []TableRef{
		{Db: "db1", Table: "t1"},
		{Db: "db2", Table: "t2"},
	}, got)

	_, ok = Tables("DELETE t1")
	require.False(t, ok, "DELETE without FROM must not match")
}

func TestTables_LoadData(t *testing.T) {
	got, ok := Tables("LOAD DATA INFILE '/tmp/data.csv' INTO TABLE t1")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)

	got, ok = Tables("LOAD DATA LOCAL INFILE '/x' REPLACE INTO TABLE db1.t1 FIELDS TERMINATED BY ','")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Db: "db1", Table: "t1"}}, got)

	// an INTO inside the filename must not fool the scanner
	got, ok = Tables("LOAD DATA INFILE '/tmp/INTO TABLE evil' INTO TABLE t1")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)
}

func TestTables_Create(t *testing.T) {
	got, ok := Tables("CREATE TABLE t1 (id INT)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)

	got, ok = Tables("CREATE TEMPORARY TABLE IF NOT EXISTS db1.t1 (id INT)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Db: "db1", Table: "t1"}}, got)

	_, ok = Tables("CREATE INDEX i1 ON t1 (id)")
	require.False(t, ok, "CREATE INDEX is not tracked")

	_, ok = Tables("CREATE DATABASE db9")
	require.False(t, ok, "CREATE DATABASE is not tracked")
}

func TestTables_Drop(t *testing.T) {
	got, ok := Tables("DROP TABLE t1")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)

	got, ok = Tables("DROP TABLE IF EXISTS t1, db2.t2")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}, {Db: "db2", Table: "t2"}}, got)

	_, ok = Tables("DROP DATABASE db1")
	require.False(t, ok)
}

func TestTables_QuotedIdentifiers(t *testing.T) {
	got, ok := Tables("INSERT INTO `we``ird` VALUES (1)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "we`ird"}}, got)

	got, ok = Tables(`UPDATE "do""uble" SET x=1`)
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: `do"uble`}}, got)

	_, ok = Tables("INSERT INTO `unterminated VALUES (1)")
	require.False(t, ok, "unterminated quote must not match")
}

func TestTables_NotTracked(t *testing.T) {
	for _, sql := range []string{
		"SELECT * FROM t1",
		"BEGIN",
		"COMMIT",
		"SET @x = 1",
		"GRANT ALL ON db1.* TO u",
		"TRUNCATE TABLE t1",
		"ALTER TABLE t1 ADD COLUMN c INT",
		"SHOW TABLES",
		"",
		"   ",
		"INSERTX INTO t1 VALUES (1)",
		"UPDATES t1 SET x=1",
	} {
		refs, ok := Tables(sql)
		require.False(t, ok, "input %q", sql)
		require.Empty(t, refs, "input %q", sql)
	}
}

func TestTables_KeywordBoundary(t *testing.T) {
	// INTO must not match a prefix of an identifier
	_, ok := Tables("INSERT INTOX VALUES (1)")
	require.False(t, ok)

	// modifiers are optional and order matters only as documented
	got, ok := Tables("insert ignore into t1 values (1)")
	require.True(t, ok)
	require.Equal(t, []TableRef{{Table: "t1"}}, got)
}

func TestTables_SoundnessOverCompleteness(t *testing.T) {
	// every returned pair must be a syntactic table reference in the
	// statement; when unsure the extractor returns nothing
	refs, ok := Tables("UPDATE 5 SET x=1")
	require.False(t, ok)
	require.Empty(t, refs)
}
