package pager

import (
	"encoding/binary"
	"hash/crc32"
	"os"
)

// ───────────────────────────────────────────────────────────────────────────
// Rollback journal
// ───────────────────────────────────────────────────────────────────────────
//
// A sibling file (dbPath + "-journal") records the pre-image of every
// page a transaction is about to modify, written before the page itself
// changes on the main file. Committing deletes the journal; its mere
// presence at open time is proof a prior transaction never finished,
// and recovery replays it to restore the pages it names before removing
// it. There is no redo side: every page write already landed on the
// main file, so recovery only ever undoes.

var journalMagic = [8]byte{'S', 'H', 'A', 'R', 'C', 'J', 'N', 'L'}

const journalHeaderSize = 16 // magic(8) + pageSize(4) + reserved(4)

// journalRecord on disk: page number (4) + original page bytes
// (pageSize) + CRC32 of the original bytes (4).
func journalRecordSize(pageSize int) int { return 4 + pageSize + 4 }

// Journal captures pre-images for one in-progress transaction.
type Journal struct {
	path     string
	f        *os.File
	pageSize int
	saved    map[PageID]bool
}

// JournalPath returns the sibling journal path for a database file.
func JournalPath(dbPath string) string { return dbPath + "-journal" }

// CreateJournal creates (or truncates) the journal file and writes its
// header. Call SavePreimage once per page before the first write to
// that page within the transaction, then Commit or Rollback.
func CreateJournal(dbPath string, pageSize int) (*Journal, error) {
	f, err := os.OpenFile(JournalPath(dbPath), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &IoError{Op: "create journal", Reason: err}
	}
	hdr := make([]byte, journalHeaderSize)
	copy(hdr[0:8], journalMagic[:])
	binary.BigEndian.PutUint32(hdr[8:12], uint32(pageSize))
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		return nil, &IoError{Op: "write journal header", Reason: err}
	}
	return &Journal{path: dbPath, f: f, pageSize: pageSize, saved: map[PageID]bool{}}, nil
}

// SavePreimage appends original's current on-disk bytes for page id,
// unless this transaction has already captured that page. It fsyncs
// before returning: the pre-image must be durable before the caller
// overwrites the live page.
func (j *Journal) SavePreimage(id PageID, original []byte) error {
	if j.saved[id] {
		return nil
	}
	if len(original) != j.pageSize {
		return &CorruptPageError{Page: id, Reason: "pre-image length does not match journal page size"}
	}
	rec := make([]byte, journalRecordSize(j.pageSize))
	binary.BigEndian.PutUint32(rec[0:4], uint32(id))
	copy(rec[4:4+j.pageSize], original)
	sum := crc32.ChecksumIEEE(original)
	binary.BigEndian.PutUint32(rec[4+j.pageSize:], sum)

	fi, err := j.f.Stat()
	if err != nil {
		return &IoError{Op: "stat journal", Reason: err}
	}
	if _, err := j.f.WriteAt(rec, fi.Size()); err != nil {
		return &IoError{Op: "write journal record", Reason: err}
	}
	if err := j.f.Sync(); err != nil {
		return &IoError{Op: "sync journal", Reason: err}
	}
	j.saved[id] = true
	return nil
}

// Commit discards the journal: its absence is what marks the
// transaction as durably committed.
func (j *Journal) Commit() error {
	if err := j.f.Close(); err != nil {
		return &IoError{Op: "close journal", Reason: err}
	}
	if err := os.Remove(JournalPath(j.path)); err != nil && !os.IsNotExist(err) {
		return &IoError{Op: "remove journal", Reason: err}
	}
	j.saved = map[PageID]bool{}
	return nil
}

// Rollback restores every page this transaction touched to its
// pre-image via restore, then discards the journal.
func (j *Journal) Rollback(restore func(PageID, []byte) error) error {
	if err := replayJournalFile(j.f, j.pageSize, restore); err != nil {
		return err
	}
	return j.Commit()
}

// RecoverIfPresent is called when opening a database file: if a journal
// from an interrupted transaction exists, it replays every valid
// record via restore (stopping at the first record whose CRC does not
// match, since that page was only partially written by a crash mid-
// append) and then removes the journal. present reports whether a
// journal was found at all.
func RecoverIfPresent(dbPath string, pageSize int, restore func(PageID, []byte) error) (present bool, err error) {
	path := JournalPath(dbPath)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &IoError{Op: "open journal for recovery", Reason: err}
	}
	defer f.Close()

	if err := replayJournalFile(f, pageSize, restore); err != nil {
		return true, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return true, &IoError{Op: "remove journal after recovery", Reason: err}
	}
	return true, nil
}

func replayJournalFile(f *os.File, pageSize int, restore func(PageID, []byte) error) error {
	var hdr [journalHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil // header never completed writing; nothing to replay
	}
	if string(hdr[0:8]) != string(journalMagic[:]) {
		return nil // not one of ours, or zero-length; treat as no-op
	}
	recSize := journalRecordSize(pageSize)
	off := int64(journalHeaderSize)
	rec := make([]byte, recSize)
	for {
		n, err := f.ReadAt(rec, off)
		if n < recSize || err != nil {
			return nil // partial trailing record: the crash happened mid-append
		}
		id := PageID(binary.BigEndian.Uint32(rec[0:4]))
		body := rec[4 : 4+pageSize]
		wantSum := binary.BigEndian.Uint32(rec[4+pageSize:])
		if crc32.ChecksumIEEE(body) != wantSum {
			return nil // corrupt tail record, stop before it
		}
		if err := restore(id, body); err != nil {
			return err
		}
		off += int64(recSize)
	}
}
