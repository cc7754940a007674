package pager

import (
	"regexp"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Schema catalog
// ───────────────────────────────────────────────────────────────────────────
//
// The catalog is the rowid-keyed b-tree rooted at page 1. Each row is
// (type, name, tbl_name, rootpage, sql) with type in
// {table, index, view, trigger}. It is rebuilt in memory on open and
// invalidated on commit whenever DDL ran; there is no process-global
// singleton, each Database owns its own Schema.

type Column struct {
	Name       string
	DeclType   string
	NotNull    bool
	PrimaryKey bool
}

type TableDef struct {
	Name         string
	RootPage     PageID
	Columns      []Column
	WithoutRowid bool
	RowidAlias   int // column ordinal whose value aliases rowid, or -1
}

type descColumn struct {
	Name string
	Desc bool
}

type IndexDef struct {
	Name     string
	Table    string
	RootPage PageID
	Unique   bool
	Columns  []descColumn
}

type ViewDef struct {
	Name string
	SQL  string
}

// Schema is the in-memory catalog for one open database.
type Schema struct {
	Tables  map[string]*TableDef
	Indexes map[string]*IndexDef
	Views   map[string]*ViewDef
	next    int64 // rowid cursor for new sqlite_master rows
}

func NewSchema() *Schema {
	return &Schema{
		Tables:  map[string]*TableDef{},
		Indexes: map[string]*IndexDef{},
		Views:   map[string]*ViewDef{},
	}
}

// schemaRow is one decoded (type, name, tbl_name, rootpage, sql) row.
type schemaRow struct {
	rowid    int64
	typ      string
	name     string
	tblName  string
	rootpage PageID
	sql      string
}

func decodeSchemaRow(rowid int64, payload []byte) (schemaRow, error) {
	cols, err := DecodeRecord(payload)
	if err != nil {
		return schemaRow{}, err
	}
	if len(cols) < 5 {
		return schemaRow{}, &CorruptRecordError{Reason: "schema row has fewer than 5 columns"}
	}
	get := func(i int) string {
		if cols[i].Kind == KindText {
			return string(cols[i].Bytes)
		}
		return ""
	}
	root := PageID(0)
	if cols[3].Kind == KindInt64 {
		root = PageID(cols[3].Int64)
	}
	return schemaRow{
		rowid:    rowid,
		typ:      get(0),
		name:     get(1),
		tblName:  get(2),
		rootpage: root,
		sql:      get(4),
	}, nil
}

func encodeSchemaRow(typ, name, tblName string, rootpage PageID, sql string) []byte {
	return EncodeRecord([]ColumnValue{
		TextValueS(typ),
		TextValueS(name),
		TextValueS(tblName),
		IntValue(int64(rootpage)),
		TextValueS(sql),
	})
}

// Load walks every row of the schema b-tree (via the supplied scan
// function, which yields (rowid, payload) pairs in rowid order) and
// populates the schema.
func (s *Schema) Load(scan func(func(rowid int64, payload []byte) error) error) error {
	return scan(func(rowid int64, payload []byte) error {
		row, err := decodeSchemaRow(rowid, payload)
		if err != nil {
			return err
		}
		if row.rowid >= s.next {
			s.next = row.rowid + 1
		}
		switch row.typ {
		case "table":
			def, err := parseCreateTable(row.sql)
			if err != nil {
				return err
			}
			def.Name = row.name
			def.RootPage = row.rootpage
			s.Tables[row.name] = def
		case "index":
			def, err := parseCreateIndex(row.sql)
			if err != nil {
				return err
			}
			def.Name = row.name
			def.Table = row.tblName
			def.RootPage = row.rootpage
			s.Indexes[row.name] = def
		case "view":
			s.Views[row.name] = &ViewDef{Name: row.name, SQL: row.sql}
		}
		return nil
	})
}

// ───────────────────────────────────────────────────────────────────────────
// Minimal DDL parsing
// ───────────────────────────────────────────────────────────────────────────
//
// The core does not plan or execute queries; it only needs enough of
// CREATE TABLE and CREATE INDEX to populate the catalog structures
// consumed by external collaborators (§6). CREATE VIEW text is not
// parsed here; view rows are only read back by Schema.Load.

var (
	reCreateTable = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["'` + "`" + `\[]?(\w+)["'` + "`" + `\]]?\s*\((.*)\)\s*(WITHOUT\s+ROWID)?\s*;?\s*$`)
	reCreateIndex = regexp.MustCompile(`(?is)^\s*CREATE\s+(UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?["'` + "`" + `\[]?(\w+)["'` + "`" + `\]]?\s+ON\s+["'` + "`" + `\[]?(\w+)["'` + "`" + `\]]?\s*\((.*)\)\s*;?\s*$`)
)

func parseCreateTable(sql string) (*TableDef, error) {
	m := reCreateTable.FindStringSubmatch(sql)
	if m == nil {
		return nil, &SchemaError{Reason: "cannot parse CREATE TABLE: " + sql}
	}
	colList, withoutRowid := m[2], m[3] != ""
	def := &TableDef{Name: m[1], WithoutRowid: withoutRowid, RowidAlias: -1}
	for _, part := range splitTopLevel(colList) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		upper := strings.ToUpper(part)
		if strings.HasPrefix(upper, "PRIMARY KEY") || strings.HasPrefix(upper, "UNIQUE") ||
			strings.HasPrefix(upper, "FOREIGN KEY") || strings.HasPrefix(upper, "CHECK") {
			continue // table-level constraint, not a column definition
		}
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		col := Column{Name: strings.Trim(fields[0], "\"'`[]")}
		if len(fields) > 1 {
			col.DeclType = strings.ToUpper(fields[1])
		}
		if strings.Contains(upper, "NOT NULL") {
			col.NotNull = true
		}
		if strings.Contains(upper, "PRIMARY KEY") {
			col.PrimaryKey = true
		}
		def.Columns = append(def.Columns, col)
	}
	for i, c := range def.Columns {
		if c.PrimaryKey && c.DeclType == "INTEGER" && !def.WithoutRowid {
			def.RowidAlias = i
			break
		}
	}
	return def, nil
}

func parseCreateIndex(sql string) (*IndexDef, error) {
	m := reCreateIndex.FindStringSubmatch(sql)
	if m == nil {
		return nil, &SchemaError{Reason: "cannot parse CREATE INDEX: " + sql}
	}
	def := &IndexDef{Name: m[2], Table: m[3], Unique: m[1] != ""}
	for _, part := range splitTopLevel(m[4]) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		desc := false
		upper := strings.ToUpper(part)
		name := part
		if strings.HasSuffix(upper, " DESC") {
			desc = true
			name = strings.TrimSpace(part[:len(part)-len(" DESC")])
		} else if strings.HasSuffix(upper, " ASC") {
			name = strings.TrimSpace(part[:len(part)-len(" ASC")])
		}
		def.Columns = append(def.Columns, descColumn{Name: strings.Trim(name, "\"'`[]"), Desc: desc})
	}
	return def, nil
}

// splitTopLevel splits a comma list while respecting parenthesis
// nesting (e.g. within CHECK(...) or default expressions).
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func quoteIdent(s string) string { return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\"" }

// FormatColumnDef renders a column definition back into SQL text. The
// DDL paths in this package do not call it: they store the caller's own
// CREATE statement in the schema row.
func FormatColumnDef(c Column) string {
	var b strings.Builder
	b.WriteString(quoteIdent(c.Name))
	if c.DeclType != "" {
		b.WriteByte(' ')
		b.WriteString(c.DeclType)
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

// NextRowid returns a fresh rowid for inserting into the schema table
// and advances the internal cursor.
func (s *Schema) NextRowid() int64 {
	s.next++
	return s.next - 1
}
