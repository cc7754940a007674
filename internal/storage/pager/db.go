package pager

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/SimonWaldherr/sharc/internal/storage"
)

// ───────────────────────────────────────────────────────────────────────────
// Database object and writer
// ───────────────────────────────────────────────────────────────────────────
//
// Database is the public handle: it owns a Pager, the in-memory Schema
// rebuilt from page 1's own b-tree, and the named path lock shared with
// any other handle on the same file. All mutation happens inside a
// Transaction, which is the only thing allowed to touch page content;
// the Database itself only opens/closes transactions and answers
// read-only schema questions.

// JournalMode selects how pre-images are captured during a write
// transaction.
type JournalMode int

const (
	JournalModeDelete JournalMode = iota // sibling -journal file, removed on commit
	JournalModeMemory                    // no pre-images are captured; Rollback cannot restore modified pages
)

// Config configures Open.
type Config struct {
	PageSize       int
	CacheSizePages int
	Writable       bool
	Password       []byte
	KDFTimeCost    int
	KDFMemoryKiB   int
	KDFParallel    int
	JournalMode    JournalMode
}

// Database is one open handle on a database file.
type Database struct {
	path        string
	pager       *Pager
	schema      *Schema
	lock        *pathLock
	journalMode JournalMode

	mu sync.Mutex // serializes operations against this handle's Pager
	tx *Transaction
}

// Open opens or creates the database file at path.
func Open(path string, cfg Config) (*Database, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &IoError{Op: "resolve path", Reason: err}
	}
	pl := acquirePathLock(abs)

	p, _, err := OpenPager(path, OpenOptions{
		PageSize:       cfg.PageSize,
		CacheSizePages: cfg.CacheSizePages,
		Writable:       cfg.Writable,
		Password:       cfg.Password,
		KDFTimeCost:    cfg.KDFTimeCost,
		KDFMemoryKiB:   cfg.KDFMemoryKiB,
		KDFParallel:    cfg.KDFParallel,
	})
	if err != nil {
		releasePathLock(abs)
		return nil, err
	}

	if cfg.Writable && cfg.JournalMode == JournalModeDelete {
		restore := func(id PageID, body []byte) error { return p.WritePage(id, body) }
		present, err := RecoverIfPresent(path, p.PageSize(), restore)
		if err != nil {
			p.Close()
			releasePathLock(abs)
			return nil, err
		}
		if present {
			if err := p.Flush(); err != nil {
				p.Close()
				releasePathLock(abs)
				return nil, err
			}
			if err := reloadPageCount(p); err != nil {
				p.Close()
				releasePathLock(abs)
				return nil, err
			}
		}
	}

	db := &Database{path: abs, pager: p, lock: pl, journalMode: cfg.JournalMode}
	if err := db.loadSchema(); err != nil {
		p.Close()
		releasePathLock(abs)
		return nil, err
	}
	return db, nil
}

func reloadPageCount(p *Pager) error {
	buf, err := p.GetPage(1)
	if err != nil {
		return err
	}
	defer p.UnpinPage(1)
	hdr, err := UnmarshalDBHeader(buf)
	if err != nil {
		return err
	}
	p.SetPageCount(hdr.PageCount)
	return nil
}

func (db *Database) loadSchema() error {
	src := &readOnlySource{pager: db.pager}
	bt := NewBTree(src, 1, true)
	schema := NewSchema()
	err := schema.Load(func(yield func(int64, []byte) error) error {
		c := bt.NewCursor()
		ok, err := c.First()
		if err != nil {
			return err
		}
		for ok {
			cell, err := c.Cell()
			if err != nil {
				return err
			}
			payload, err := c.Payload()
			if err != nil {
				return err
			}
			if err := yield(cell.Rowid, payload); err != nil {
				return err
			}
			ok, err = c.Next()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.schema = schema
	return nil
}

// Schema returns the currently loaded catalog. Valid between
// transactions; a DDL-bearing transaction reloads it on commit.
func (db *Database) Schema() *Schema { return db.schema }

// Close releases the underlying file and the shared path lock.
func (db *Database) Close() error {
	err := db.pager.Close()
	releasePathLock(db.path)
	return err
}

// VerifyIntegrity walks every table and index b-tree reachable from the
// schema in cursor order and checks that table rowids strictly increase
// and index keys never decrease from one cell to the next. Interior
// separator keys and repeated visits to a page are not checked
// separately.
func (db *Database) VerifyIntegrity() error {
	src := &readOnlySource{pager: db.pager}
	for name, def := range db.schema.Tables {
		if def.RootPage == InvalidPageID {
			continue
		}
		bt := NewBTree(src, def.RootPage, !def.WithoutRowid)
		if err := verifyBTreeOrder(bt, name); err != nil {
			return err
		}
	}
	for name, def := range db.schema.Indexes {
		if def.RootPage == InvalidPageID {
			continue
		}
		bt := NewBTree(src, def.RootPage, false)
		if err := verifyBTreeOrder(bt, name); err != nil {
			return err
		}
	}
	return nil
}

func verifyBTreeOrder(bt *BTree, name string) error {
	c := bt.NewCursor()
	ok, err := c.First()
	if err != nil {
		return err
	}
	var lastRowid int64
	var lastKey []byte
	first := true
	for ok {
		cell, err := c.Cell()
		if err != nil {
			return err
		}
		if bt.IsTable {
			if !first && cell.Rowid <= lastRowid {
				return &CorruptPageError{Reason: fmt.Sprintf("%s: rowid out of order (%d after %d)", name, cell.Rowid, lastRowid)}
			}
			lastRowid = cell.Rowid
		} else {
			key, err := c.Payload()
			if err != nil {
				return err
			}
			if !first && CompareRecords(key, lastKey) < 0 {
				return &CorruptPageError{Reason: fmt.Sprintf("%s: index key out of order", name)}
			}
			lastKey = append([]byte(nil), key...)
		}
		first = false
		ok, err = c.Next()
		if err != nil {
			return err
		}
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// readOnlySource: PageSource for schema load / integrity check
// ───────────────────────────────────────────────────────────────────────────

type readOnlySource struct{ pager *Pager }

func (s *readOnlySource) Read(id PageID) ([]byte, error) {
	buf, err := s.pager.GetPage(id)
	if err != nil {
		return nil, err
	}
	cp := append([]byte(nil), buf...)
	s.pager.UnpinPage(id)
	return cp, nil
}
func (s *readOnlySource) Write(PageID, []byte) error {
	return &TransactionError{Reason: "write attempted outside a transaction"}
}
func (s *readOnlySource) Alloc() (PageID, []byte, error) {
	return InvalidPageID, nil, &TransactionError{Reason: "allocation attempted outside a transaction"}
}
func (s *readOnlySource) Free(PageID) error {
	return &TransactionError{Reason: "free attempted outside a transaction"}
}
func (s *readOnlySource) Usable() int { return s.pager.Usable() }

// ───────────────────────────────────────────────────────────────────────────
// Transaction
// ───────────────────────────────────────────────────────────────────────────

// Transaction is the only path by which page content changes. Begin
// acquires the path lock (shared for a read transaction, exclusive for
// a write transaction) for its whole lifetime; Commit or Rollback
// releases it.
type Transaction struct {
	db       *Database
	src      *txSource
	writable bool
	ddlRan   bool
	done     bool
}

// Begin opens a transaction. Only one write transaction may be open on
// a path at a time, enforced by the shared lock.
func (db *Database) Begin(writable bool) (*Transaction, error) {
	db.mu.Lock()
	if db.tx != nil {
		db.mu.Unlock()
		return nil, &TransactionError{Reason: "transaction already open on this handle"}
	}
	db.mu.Unlock()

	if writable {
		if !db.pager.Writable() {
			return nil, &TransactionError{Reason: "write transaction on read-only database"}
		}
		db.lock.Lock()
	} else {
		db.lock.RLock()
	}

	var j *Journal
	var err error
	if writable && db.journalMode == JournalModeDelete {
		j, err = CreateJournal(db.path, db.pager.PageSize())
		if err != nil {
			if writable {
				db.lock.Unlock()
			} else {
				db.lock.RUnlock()
			}
			return nil, err
		}
	}

	hdrBuf, err := db.pager.GetPage(1)
	if err != nil {
		return nil, err
	}
	hdr, err := UnmarshalDBHeader(hdrBuf)
	db.pager.UnpinPage(1)
	if err != nil {
		return nil, err
	}

	src := &txSource{
		db:            db,
		journal:       j,
		freelist:      NewFreelistManager(hdr.FreelistTrunk, hdr.FreelistPageCount, db.pager.Usable()),
		origPageCount: db.pager.PageCount(),
		header:        hdr,
	}

	tx := &Transaction{db: db, src: src, writable: writable}
	db.mu.Lock()
	db.tx = tx
	db.mu.Unlock()
	return tx, nil
}

func (tx *Transaction) unlock() {
	tx.db.mu.Lock()
	tx.db.tx = nil
	tx.db.mu.Unlock()
	if tx.writable {
		tx.db.lock.Unlock()
	} else {
		tx.db.lock.RUnlock()
	}
}

// Commit persists the updated header (page count, freelist state,
// schema cookie) and discards the journal.
func (tx *Transaction) Commit() error {
	if tx.done {
		return &TransactionError{Reason: "transaction already closed"}
	}
	defer tx.unlock()
	tx.done = true
	if !tx.writable {
		return nil
	}

	hdr := tx.src.header
	hdr.PageCount = uint32(tx.db.pager.PageCount())
	hdr.FreelistTrunk = tx.src.freelist.Head
	hdr.FreelistPageCount = tx.src.freelist.Count
	hdr.FileChangeCounter++
	if tx.ddlRan {
		hdr.SchemaCookie++
	}
	buf := make([]byte, tx.db.pager.PageSize())
	if err := tx.db.pager.ReadPage(1, buf); err != nil {
		return err
	}
	if err := MarshalDBHeader(hdr, buf); err != nil {
		return err
	}
	if err := tx.src.Write(1, buf); err != nil {
		return err
	}
	if err := tx.db.pager.Flush(); err != nil {
		return err
	}
	if tx.src.journal != nil {
		if err := tx.src.journal.Commit(); err != nil {
			return err
		}
	}
	if tx.ddlRan {
		return tx.db.loadSchema()
	}
	return nil
}

// Rollback restores every page the transaction touched from the
// rollback journal and abandons any newly allocated pages. Under
// JournalModeMemory there is no journal: only the newly allocated pages
// are abandoned, and pages modified in place keep their new contents.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return &TransactionError{Reason: "transaction already closed"}
	}
	defer tx.unlock()
	tx.done = true
	if !tx.writable {
		return nil
	}
	if tx.src.journal != nil {
		restore := func(id PageID, body []byte) error {
			tx.db.pager.Invalidate(id)
			return tx.db.pager.WritePage(id, body)
		}
		if err := tx.src.journal.Rollback(restore); err != nil {
			return err
		}
	}
	if tx.db.pager.PageCount() > tx.src.origPageCount {
		if err := tx.db.pager.Truncate(tx.src.origPageCount); err != nil {
			return err
		}
	}
	if err := tx.db.pager.Flush(); err != nil {
		return err
	}
	if tx.ddlRan {
		return tx.db.loadSchema()
	}
	return nil
}

// Table opens the named table's b-tree for this transaction.
func (tx *Transaction) Table(name string) (*BTree, *TableDef, error) {
	def, ok := tx.db.schema.Tables[name]
	if !ok {
		return nil, nil, &SchemaError{Reason: "no such table: " + name}
	}
	return NewBTree(tx.src, def.RootPage, !def.WithoutRowid), def, nil
}

// Index opens the named index's b-tree for this transaction.
func (tx *Transaction) Index(name string) (*BTree, *IndexDef, error) {
	def, ok := tx.db.schema.Indexes[name]
	if !ok {
		return nil, nil, &SchemaError{Reason: "no such index: " + name}
	}
	return NewBTree(tx.src, def.RootPage, false), def, nil
}

// InsertRow inserts values (in table column order) under rowid. If the
// table has an INTEGER PRIMARY KEY alias column, pass rowid equal to
// that column's value; the caller is responsible for keeping them
// consistent, since the column is still encoded in the record per the
// on-disk format's own redundancy.
func (tx *Transaction) InsertRow(table string, rowid int64, values []ColumnValue) error {
	bt, def, err := tx.Table(table)
	if err != nil {
		return err
	}
	if len(values) != len(def.Columns) {
		return &SchemaError{Reason: "column count mismatch for table " + table}
	}
	return bt.InsertTable(rowid, EncodeRecord(values))
}

// GetRow fetches one row by rowid.
func (tx *Transaction) GetRow(table string, rowid int64) ([]ColumnValue, bool, error) {
	bt, _, err := tx.Table(table)
	if err != nil {
		return nil, false, err
	}
	c := bt.NewCursor()
	ok, err := c.SeekRowid(rowid)
	if err != nil || !ok {
		return nil, false, err
	}
	payload, err := c.Payload()
	if err != nil {
		return nil, false, err
	}
	vals, err := DecodeRecord(payload)
	return vals, true, err
}

// ExportRowJSON fetches one row and renders it as a JSON object keyed
// by column name, for diagnostics and ad-hoc inspection tooling. BLOB
// columns are emitted as the standard library's base64 encoding of
// []byte.
func (tx *Transaction) ExportRowJSON(table string, rowid int64) ([]byte, bool, error) {
	bt, def, err := tx.Table(table)
	if err != nil {
		return nil, false, err
	}
	c := bt.NewCursor()
	ok, err := c.SeekRowid(rowid)
	if err != nil || !ok {
		return nil, false, err
	}
	payload, err := c.Payload()
	if err != nil {
		return nil, false, err
	}
	vals, err := DecodeRecord(payload)
	if err != nil {
		return nil, false, err
	}
	obj := make(map[string]any, len(vals)+1)
	obj["rowid"] = rowid
	for i, v := range vals {
		name := fmt.Sprintf("col%d", i)
		if i < len(def.Columns) {
			name = def.Columns[i].Name
		}
		obj[name] = columnValueToAny(v)
	}
	buf, err := storage.JSONMarshal(obj)
	if err != nil {
		return nil, false, &IoError{Op: "marshal row", Reason: err}
	}
	return buf, true, nil
}

func columnValueToAny(v ColumnValue) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt64:
		return v.Int64
	case KindReal:
		return v.Real
	case KindText:
		return string(v.Bytes)
	case KindBlob:
		return v.Bytes
	default:
		return nil
	}
}

// DeleteRow removes one row by rowid.
func (tx *Transaction) DeleteRow(table string, rowid int64) error {
	bt, _, err := tx.Table(table)
	if err != nil {
		return err
	}
	return bt.DeleteTable(rowid)
}

// ScanTable calls yield for every row in rowid order until yield
// returns false or the table is exhausted.
func (tx *Transaction) ScanTable(table string, yield func(rowid int64, values []ColumnValue) (bool, error)) error {
	bt, _, err := tx.Table(table)
	if err != nil {
		return err
	}
	c := bt.NewCursor()
	ok, err := c.First()
	if err != nil {
		return err
	}
	for ok {
		cell, err := c.Cell()
		if err != nil {
			return err
		}
		payload, err := c.Payload()
		if err != nil {
			return err
		}
		vals, err := DecodeRecord(payload)
		if err != nil {
			return err
		}
		cont, err := yield(cell.Rowid, vals)
		if err != nil || !cont {
			return err
		}
		ok, err = c.Next()
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateTable parses a CREATE TABLE statement, allocates its root page,
// and records it in the schema b-tree.
func (tx *Transaction) CreateTable(sql string) error {
	def, err := parseCreateTable(sql)
	if err != nil {
		return err
	}
	if _, exists := tx.db.schema.Tables[def.Name]; exists {
		return &SchemaError{Reason: "table already exists: " + def.Name}
	}
	root, err := CreateEmpty(tx.src, !def.WithoutRowid)
	if err != nil {
		return err
	}
	schemaBT := NewBTree(tx.src, 1, true)
	row := encodeSchemaRow("table", def.Name, def.Name, root, sql)
	if err := schemaBT.InsertTable(tx.db.schema.NextRowid(), row); err != nil {
		return err
	}
	def.RootPage = root
	tx.db.schema.Tables[def.Name] = def
	tx.ddlRan = true
	return nil
}

// CreateIndex parses a CREATE INDEX statement, builds the index by
// scanning the target table, and records it in the schema b-tree.
func (tx *Transaction) CreateIndex(sql string) error {
	def, err := parseCreateIndex(sql)
	if err != nil {
		return err
	}
	if _, exists := tx.db.schema.Indexes[def.Name]; exists {
		return &SchemaError{Reason: "index already exists: " + def.Name}
	}
	tableDef, ok := tx.db.schema.Tables[def.Table]
	if !ok {
		return &SchemaError{Reason: "no such table: " + def.Table}
	}
	root, err := CreateEmpty(tx.src, false)
	if err != nil {
		return err
	}
	idxBT := NewBTree(tx.src, root, false)

	colIdx := make([]int, len(def.Columns))
	for i, ic := range def.Columns {
		found := -1
		for j, c := range tableDef.Columns {
			if c.Name == ic.Name {
				found = j
				break
			}
		}
		if found < 0 {
			return &SchemaError{Reason: "no such column: " + ic.Name}
		}
		colIdx[i] = found
	}

	err = tx.ScanTable(def.Table, func(rowid int64, values []ColumnValue) (bool, error) {
		keyCols := make([]ColumnValue, 0, len(colIdx)+1)
		for _, ci := range colIdx {
			keyCols = append(keyCols, values[ci])
		}
		keyCols = append(keyCols, IntValue(rowid))
		key := EncodeRecord(keyCols)
		if err := idxBT.InsertIndex(key, CompareRecords); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	schemaBT := NewBTree(tx.src, 1, true)
	row := encodeSchemaRow("index", def.Name, def.Table, root, sql)
	if err := schemaBT.InsertTable(tx.db.schema.NextRowid(), row); err != nil {
		return err
	}
	tx.ddlRan = true
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// txSource: the journal- and freelist-aware PageSource for a write
// transaction (also used, harmlessly, by read transactions: Write/
// Alloc/Free are simply never called on one).
// ───────────────────────────────────────────────────────────────────────────

type txSource struct {
	db            *Database
	journal       *Journal
	freelist      *FreelistManager
	origPageCount int
	header        *DBHeader
}

func (s *txSource) Read(id PageID) ([]byte, error) {
	buf, err := s.db.pager.GetPage(id)
	if err != nil {
		return nil, err
	}
	cp := append([]byte(nil), buf...)
	s.db.pager.UnpinPage(id)
	return cp, nil
}

func (s *txSource) Write(id PageID, buf []byte) error {
	if s.journal != nil {
		if old, err := s.Read(id); err == nil {
			if err := s.journal.SavePreimage(id, old); err != nil {
				return err
			}
		} else if _, ok := err.(*InvalidPageNumberError); !ok {
			return err
		}
	}
	return s.db.pager.WritePage(id, buf)
}

func (s *txSource) Alloc() (PageID, []byte, error) {
	readPage := func(id PageID) ([]byte, error) { return s.Read(id) }
	writePage := func(id PageID, buf []byte) error { return s.Write(id, buf) }
	if id, err := s.freelist.Pop(readPage, writePage); err != nil {
		return InvalidPageID, nil, err
	} else if id != InvalidPageID {
		return id, make([]byte, s.db.pager.PageSize()), nil
	}
	id, err := s.db.pager.Extend(1)
	if err != nil {
		return InvalidPageID, nil, err
	}
	return id, make([]byte, s.db.pager.PageSize()), nil
}

func (s *txSource) Free(id PageID) error {
	readPage := func(pid PageID) ([]byte, error) { return s.Read(pid) }
	writePage := func(pid PageID, buf []byte) error { return s.Write(pid, buf) }
	return s.freelist.Push(id, readPage, writePage)
}

func (s *txSource) Usable() int { return s.db.pager.Usable() }
