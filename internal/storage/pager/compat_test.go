package pager

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // register the "sqlite" driver for cross-checking file format compatibility
)

// A plain (unencrypted) database written by this package must be a
// byte-for-byte valid SQLite 3 file: a real SQLite reader has to be
// able to open it and see exactly the rows this package wrote, with
// no cooperation beyond the file itself.
func TestCompatPlainDatabaseReadableByRealSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compat.db")
	db := mustOpen(t, path, Config{PageSize: DefaultPageSize, Writable: true})

	tx, err := db.Begin(true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.CreateTable("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT, weight REAL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	rows := []struct {
		id     int64
		name   string
		weight float64
	}{
		{1, "sprocket", 1.5},
		{2, "cog", 2.25},
		{3, "gear", 3.125},
	}
	for _, r := range rows {
		vals := []ColumnValue{IntValue(r.id), TextValueS(r.name), RealValue(r.weight)}
		if err := tx.InsertRow("widgets", r.id, vals); err != nil {
			t.Fatalf("insert %v: %v", r, err)
		}
	}
	if err := tx.CreateIndex("CREATE INDEX idx_widgets_name ON widgets (name)"); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer sqldb.Close()

	rs, err := sqldb.Query(`SELECT id, name, weight FROM widgets ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rs.Close()

	var got []struct {
		id     int64
		name   string
		weight float64
	}
	for rs.Next() {
		var id int64
		var name string
		var weight float64
		if err := rs.Scan(&id, &name, &weight); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, struct {
			id     int64
			name   string
			weight float64
		}{id, name, weight})
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("real SQLite saw %d rows, want %d", len(got), len(rows))
	}
	for i, r := range rows {
		if got[i].id != r.id || got[i].name != r.name || got[i].weight != r.weight {
			t.Fatalf("row %d = %+v, want %+v", i, got[i], r)
		}
	}

	var cnt int
	if err := sqldb.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='index' AND name='idx_widgets_name'`).Scan(&cnt); err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if cnt != 1 {
		t.Fatal("real SQLite does not see the index this package wrote into sqlite_master")
	}

	var name string
	if err := sqldb.QueryRow(`SELECT name FROM widgets WHERE name = ?`, "cog").Scan(&name); err != nil {
		t.Fatalf("indexed lookup: %v", err)
	}
	if name != "cog" {
		t.Fatalf("indexed lookup returned %q, want %q", name, "cog")
	}
}
