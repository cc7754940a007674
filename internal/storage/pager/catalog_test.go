package pager

import "testing"

func TestParseCreateTableBasic(t *testing.T) {
	def, err := parseCreateTable("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(def.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(def.Columns))
	}
	if def.Columns[0].Name != "id" || def.Columns[0].DeclType != "INTEGER" || !def.Columns[0].PrimaryKey {
		t.Fatalf("column 0 = %+v", def.Columns[0])
	}
	if def.Columns[1].Name != "name" || !def.Columns[1].NotNull {
		t.Fatalf("column 1 = %+v", def.Columns[1])
	}
	if def.WithoutRowid {
		t.Fatal("table was not declared WITHOUT ROWID")
	}
	if def.RowidAlias != 0 {
		t.Fatalf("RowidAlias = %d, want 0 (integer primary key aliases rowid)", def.RowidAlias)
	}
}

func TestParseCreateTableWithoutRowid(t *testing.T) {
	def, err := parseCreateTable("CREATE TABLE t (k TEXT PRIMARY KEY, v BLOB) WITHOUT ROWID")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !def.WithoutRowid {
		t.Fatal("expected WithoutRowid=true")
	}
	if def.RowidAlias != -1 {
		t.Fatalf("RowidAlias = %d, want -1 for a WITHOUT ROWID table", def.RowidAlias)
	}
}

func TestParseCreateTableSkipsTableLevelConstraints(t *testing.T) {
	def, err := parseCreateTable("CREATE TABLE t (a INTEGER, b INTEGER, PRIMARY KEY (a, b))")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(def.Columns) != 2 {
		t.Fatalf("got %d columns, want 2 (table-level PRIMARY KEY should not become a column)", len(def.Columns))
	}
}

func TestParseCreateTableRejectsGarbage(t *testing.T) {
	_, err := parseCreateTable("not even remotely a create table statement")
	if err == nil {
		t.Fatal("expected a SchemaError for unparseable DDL")
	}
	if _, ok := err.(*SchemaError); !ok {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
}

func TestParseCreateIndexBasic(t *testing.T) {
	def, err := parseCreateIndex("CREATE UNIQUE INDEX idx_users_name ON users (name DESC)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !def.Unique {
		t.Fatal("expected Unique=true")
	}
	if len(def.Columns) != 1 || def.Columns[0].Name != "name" || !def.Columns[0].Desc {
		t.Fatalf("columns = %+v", def.Columns)
	}
}

func TestParseCreateIndexMultiColumnAscDefault(t *testing.T) {
	def, err := parseCreateIndex("CREATE INDEX idx_ab ON t (a, b ASC)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Unique {
		t.Fatal("plain CREATE INDEX must not be Unique")
	}
	if len(def.Columns) != 2 {
		t.Fatalf("got %d columns, want 2", len(def.Columns))
	}
	if def.Columns[0].Desc || def.Columns[1].Desc {
		t.Fatal("neither column specified DESC")
	}
}

func TestSplitTopLevelRespectsParens(t *testing.T) {
	parts := splitTopLevel("a INTEGER, b TEXT CHECK(b <> ''), c BLOB")
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3: %v", len(parts), parts)
	}
}

func TestSchemaRowEncodeDecodeRoundTrip(t *testing.T) {
	enc := encodeSchemaRow("table", "widgets", "widgets", PageID(5), "CREATE TABLE widgets (id INTEGER)")
	row, err := decodeSchemaRow(42, enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.rowid != 42 || row.typ != "table" || row.name != "widgets" || row.tblName != "widgets" || row.rootpage != 5 {
		t.Fatalf("decoded row mismatch: %+v", row)
	}
}

func TestSchemaLoadPopulatesAllKinds(t *testing.T) {
	rows := []struct {
		rowid int64
		typ   string
		name  string
		tbl   string
		root  PageID
		sql   string
	}{
		{1, "table", "t1", "t1", 2, "CREATE TABLE t1 (id INTEGER PRIMARY KEY)"},
		{2, "index", "idx1", "t1", 3, "CREATE INDEX idx1 ON t1 (id)"},
		{3, "view", "v1", "", 0, "CREATE VIEW v1 AS SELECT * FROM t1"},
	}
	s := NewSchema()
	err := s.Load(func(yield func(int64, []byte) error) error {
		for _, r := range rows {
			payload := encodeSchemaRow(r.typ, r.name, r.tbl, r.root, r.sql)
			if err := yield(r.rowid, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := s.Tables["t1"]; !ok {
		t.Fatal("table t1 missing from schema")
	}
	if _, ok := s.Indexes["idx1"]; !ok {
		t.Fatal("index idx1 missing from schema")
	}
	if v, ok := s.Views["v1"]; !ok || v.SQL != rows[2].sql {
		t.Fatalf("view v1 missing or mismatched: %+v", s.Views["v1"])
	}
	if got := s.NextRowid(); got != 4 {
		t.Fatalf("NextRowid() = %d, want 4 (max loaded rowid 3, plus 1)", got)
	}
}

func TestFormatColumnDef(t *testing.T) {
	got := FormatColumnDef(Column{Name: "id", DeclType: "INTEGER", PrimaryKey: true, NotNull: true})
	want := `"id" INTEGER PRIMARY KEY NOT NULL`
	if got != want {
		t.Fatalf("FormatColumnDef = %q, want %q", got, want)
	}
}
