// Package pager implements a page-based storage engine compatible with
// the SQLite 3 on-disk file format, with an optional page-level
// AES-256-GCM transform layered underneath.
//
// The storage format consists of a main database file with fixed-size
// pages (default 4 KiB) whose first page carries the 100-byte SQLite
// database header followed by the schema b-tree's root node. A sibling
// rollback journal captures pre-images of pages touched by an
// in-progress transaction; its absence is the sole witness that the
// last transaction committed. Every mutation is synchronous — the
// pager performs no background work.
package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 4096

	// OverflowThreshold is retained only as a legacy default for callers
	// that do not compute the exact inline/overflow split; the mutator
	// always uses computeLocal for the authoritative payload split.
	OverflowThreshold = 1024
)

// PageID is a 1-based page identifier. Page 0 never exists on disk; it
// is used as a sentinel for "no page" (an empty freelist, a terminated
// overflow chain, a root child pointer not yet assigned).
type PageID uint32

// InvalidPageID is the sentinel for "no page."
const InvalidPageID PageID = 0

// MinPageSize and MaxPageSize bound the page sizes a database header may
// declare, per the SQLite file format. 65536 is encoded on disk as the
// special value 1 in the big-endian page-size field.
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// DBHeaderSize is the length of the database header occupying the first
// bytes of page 1.
const DBHeaderSize = 100

// magic is the fixed 16-byte string at the start of the database header.
var magic = [16]byte{'S', 'Q', 'L', 'i', 't', 'e', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '3', 0}

// ───────────────────────────────────────────────────────────────────────────
// B-tree page type flags
// ───────────────────────────────────────────────────────────────────────────

// PageType is the single type-flag byte at the start of every b-tree
// page. These four values are fixed by the SQLite file format.
type PageType byte

const (
	PageTypeIndexInterior PageType = 0x02
	PageTypeTableInterior PageType = 0x05
	PageTypeIndexLeaf     PageType = 0x0A
	PageTypeTableLeaf     PageType = 0x0D
)

func (t PageType) String() string {
	switch t {
	case PageTypeIndexInterior:
		return "index-interior"
	case PageTypeTableInterior:
		return "table-interior"
	case PageTypeIndexLeaf:
		return "index-leaf"
	case PageTypeTableLeaf:
		return "table-leaf"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

func (t PageType) IsLeaf() bool { return t == PageTypeIndexLeaf || t == PageTypeTableLeaf }
func (t PageType) IsTable() bool {
	return t == PageTypeTableInterior || t == PageTypeTableLeaf
}
func (t PageType) IsIndex() bool {
	return t == PageTypeIndexInterior || t == PageTypeIndexLeaf
}

func (t PageType) Valid() bool {
	switch t {
	case PageTypeIndexInterior, PageTypeTableInterior, PageTypeIndexLeaf, PageTypeTableLeaf:
		return true
	default:
		return false
	}
}

// ───────────────────────────────────────────────────────────────────────────
// Database header
// ───────────────────────────────────────────────────────────────────────────

// DBHeader is the 100-byte header occupying the first bytes of logical
// page 1.
type DBHeader struct {
	PageSize          uint32 // decoded value; on disk 65536 is encoded as 1
	ReservedPerPage   uint8
	FileChangeCounter uint32
	PageCount         uint32
	FreelistTrunk     PageID
	FreelistPageCount uint32
	SchemaCookie      uint32
	TextEncoding      uint32 // 1=UTF-8, 2=UTF-16LE, 3=UTF-16BE
	UserVersion       uint32
}

// NewDBHeader returns the header of a freshly created, empty database.
func NewDBHeader(pageSize int) *DBHeader {
	return &DBHeader{
		PageSize:          uint32(pageSize),
		FileChangeCounter: 1,
		PageCount:         1,
		FreelistTrunk:     InvalidPageID,
		TextEncoding:      1,
	}
}

// MarshalDBHeader writes h into the first DBHeaderSize bytes of buf.
func MarshalDBHeader(h *DBHeader, buf []byte) error {
	if len(buf) < DBHeaderSize {
		return fmt.Errorf("buffer too short for database header: %d < %d", len(buf), DBHeaderSize)
	}
	copy(buf[0:16], magic[:])

	if h.PageSize == 65536 {
		binary.BigEndian.PutUint16(buf[16:18], 1)
	} else {
		binary.BigEndian.PutUint16(buf[16:18], uint16(h.PageSize))
	}
	buf[18] = 1 // file format write version: legacy (rollback journal)
	buf[19] = 1 // file format read version: legacy
	buf[20] = h.ReservedPerPage
	buf[21] = 64 // max embedded payload fraction, fixed by format
	buf[22] = 32 // min embedded payload fraction, fixed by format
	buf[23] = 32 // leaf payload fraction, fixed by format
	binary.BigEndian.PutUint32(buf[24:28], h.FileChangeCounter)
	binary.BigEndian.PutUint32(buf[28:32], h.PageCount)
	binary.BigEndian.PutUint32(buf[32:36], uint32(h.FreelistTrunk))
	binary.BigEndian.PutUint32(buf[36:40], h.FreelistPageCount)
	binary.BigEndian.PutUint32(buf[40:44], h.SchemaCookie)
	binary.BigEndian.PutUint32(buf[44:48], 4) // schema format number
	binary.BigEndian.PutUint32(buf[48:52], 0) // suggested cache size, unused
	binary.BigEndian.PutUint32(buf[52:56], 0) // largest root page (vacuum), unused
	binary.BigEndian.PutUint32(buf[56:60], h.TextEncoding)
	binary.BigEndian.PutUint32(buf[60:64], h.UserVersion)
	binary.BigEndian.PutUint32(buf[64:68], 0) // incremental-vacuum mode, unused
	binary.BigEndian.PutUint32(buf[68:72], 0) // application ID, unused
	for i := 72; i < 92; i++ {
		buf[i] = 0 // reserved for expansion
	}
	binary.BigEndian.PutUint32(buf[92:96], h.FileChangeCounter) // version-valid-for
	binary.BigEndian.PutUint32(buf[96:100], 3046000)            // sqlite-version-number, informational
	return nil
}

// UnmarshalDBHeader parses the first DBHeaderSize bytes of buf.
func UnmarshalDBHeader(buf []byte) (*DBHeader, error) {
	if len(buf) < DBHeaderSize {
		return nil, fmt.Errorf("buffer too short for database header: %d < %d", len(buf), DBHeaderSize)
	}
	if string(buf[0:16]) != string(magic[:]) {
		return nil, &InvalidDatabaseError{Reason: "magic header mismatch"}
	}

	rawPS := binary.BigEndian.Uint16(buf[16:18])
	var ps uint32
	switch {
	case rawPS == 1:
		ps = 65536
	case int(rawPS) >= MinPageSize && isPowerOfTwo(uint32(rawPS)):
		ps = uint32(rawPS)
	default:
		return nil, &InvalidDatabaseError{Reason: fmt.Sprintf("invalid page size field %d", rawPS)}
	}

	return &DBHeader{
		PageSize:          ps,
		ReservedPerPage:   buf[20],
		FileChangeCounter: binary.BigEndian.Uint32(buf[24:28]),
		PageCount:         binary.BigEndian.Uint32(buf[28:32]),
		FreelistTrunk:     PageID(binary.BigEndian.Uint32(buf[32:36])),
		FreelistPageCount: binary.BigEndian.Uint32(buf[36:40]),
		SchemaCookie:      binary.BigEndian.Uint32(buf[40:44]),
		TextEncoding:      binary.BigEndian.Uint32(buf[56:60]),
		UserVersion:       binary.BigEndian.Uint32(buf[60:64]),
	}, nil
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0 && n <= MaxPageSize
}

// UsablePageSize is the portion of a page available to the b-tree layer
// once the per-page reserved bytes recorded in the database header
// (normally 0) are subtracted.
func UsablePageSize(pageSize int, reserved uint8) int {
	return pageSize - int(reserved)
}
