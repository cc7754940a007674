package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// B-tree page layout
// ───────────────────────────────────────────────────────────────────────────
//
// Byte 0 of the header is the type flag (see PageType). The remaining
// header fields are big-endian, per the SQLite format:
//
//   [1:3]  first freeblock offset (0 — this implementation always
//           compacts rather than tracking a freeblock chain)
//   [3:5]  cell count
//   [5:7]  cell content area start offset (0 means 65536)
//   [7]    fragmented free byte count (always 0, for the same reason)
//   [8:12] right-child page pointer — interior pages only
//
// A cell-pointer array of 2-byte big-endian offsets follows the header,
// growing toward higher addresses as cells are added; cell bytes grow
// from the end of the page toward the header. Page 1 carries this
// layout starting at byte 100, after the database header.

const (
	btFirstFreeblock = 1
	btCellCount      = 3
	btContentStart   = 5
	btFragBytes      = 7
	btRightChild     = 8 // interior only

	btHeaderSizeLeaf     = 8
	btHeaderSizeInterior = 12
)

// BTreePage is a view over one b-tree page's bytes. HdrOff is 0 for
// every page except page 1, where the 100-byte database header precedes
// the b-tree header.
type BTreePage struct {
	buf    []byte
	HdrOff int
}

// WrapBTreePage views an existing page buffer as a b-tree page.
func WrapBTreePage(buf []byte, hdrOff int) *BTreePage {
	return &BTreePage{buf: buf, HdrOff: hdrOff}
}

// InitBTreePage initializes buf as an empty page of the given type.
func InitBTreePage(buf []byte, hdrOff int, pt PageType) *BTreePage {
	bp := &BTreePage{buf: buf, HdrOff: hdrOff}
	buf[hdrOff] = byte(pt)
	binary.BigEndian.PutUint16(buf[hdrOff+btFirstFreeblock:], 0)
	binary.BigEndian.PutUint16(buf[hdrOff+btCellCount:], 0)
	bp.setContentStart(len(buf))
	buf[hdrOff+btFragBytes] = 0
	if !pt.IsLeaf() {
		binary.BigEndian.PutUint32(buf[hdrOff+btRightChild:], uint32(InvalidPageID))
	}
	return bp
}

func (bp *BTreePage) Type() PageType { return PageType(bp.buf[bp.HdrOff]) }

func (bp *BTreePage) IsLeaf() bool { return bp.Type().IsLeaf() }

func (bp *BTreePage) headerSize() int {
	if bp.IsLeaf() {
		return btHeaderSizeLeaf
	}
	return btHeaderSizeInterior
}

func (bp *BTreePage) NumCells() int {
	return int(binary.BigEndian.Uint16(bp.buf[bp.HdrOff+btCellCount:]))
}

func (bp *BTreePage) setNumCells(n int) {
	binary.BigEndian.PutUint16(bp.buf[bp.HdrOff+btCellCount:], uint16(n))
}

// contentStart returns the byte offset (absolute within buf) where the
// cell content area begins; 0 on disk means 65536.
func (bp *BTreePage) contentStart() int {
	v := int(binary.BigEndian.Uint16(bp.buf[bp.HdrOff+btContentStart:]))
	if v == 0 {
		return 65536
	}
	return v
}

func (bp *BTreePage) setContentStart(v int) {
	if v >= 65536 {
		binary.BigEndian.PutUint16(bp.buf[bp.HdrOff+btContentStart:], 0)
		return
	}
	binary.BigEndian.PutUint16(bp.buf[bp.HdrOff+btContentStart:], uint16(v))
}

func (bp *BTreePage) RightChild() PageID {
	return PageID(binary.BigEndian.Uint32(bp.buf[bp.HdrOff+btRightChild:]))
}

func (bp *BTreePage) SetRightChild(id PageID) {
	binary.BigEndian.PutUint32(bp.buf[bp.HdrOff+btRightChild:], uint32(id))
}

func (bp *BTreePage) ptrArrayOff() int {
	return bp.HdrOff + bp.headerSize()
}

func (bp *BTreePage) cellPtr(i int) int {
	off := bp.ptrArrayOff() + 2*i
	return int(binary.BigEndian.Uint16(bp.buf[off:]))
}

func (bp *BTreePage) setCellPtr(i, v int) {
	off := bp.ptrArrayOff() + 2*i
	binary.BigEndian.PutUint16(bp.buf[off:], uint16(v))
}

// CellBytes returns the raw on-page bytes of cell i, from its pointer
// to the end of the page. Callers that need the exact cell length parse
// it themselves (the cell shape self-describes its length); this slice
// is only guaranteed to start at the right place.
func (bp *BTreePage) CellBytes(i int) []byte {
	return bp.buf[bp.cellPtr(i):]
}

// Bytes returns the underlying page buffer.
func (bp *BTreePage) Bytes() []byte { return bp.buf }

// FreeSpace returns the bytes available for the content of one more
// cell, after reserving its new pointer-array entry, in the gap between
// the pointer array and the content area. U is accepted for symmetry
// with the other page methods and does not affect the result.
func (bp *BTreePage) FreeSpace(U int) int {
	used := bp.ptrArrayOff() + 2*bp.NumCells()
	return bp.contentStart() - used - 2
}

// InsertCellAt inserts cellBytes as cell index pos (0-based, shifting
// later cells up by one slot), writing its bytes into freshly
// reclaimed content-area space. Callers choose pos via a key search so
// cells remain sorted.
func (bp *BTreePage) InsertCellAt(pos int, cellBytes []byte, U int) error {
	if bp.FreeSpace(U) < len(cellBytes) {
		bp.Defragment(U)
		if bp.FreeSpace(U) < len(cellBytes) {
			return &CorruptPageError{Reason: "insufficient free space for cell"}
		}
	}
	n := bp.NumCells()
	newStart := bp.contentStart() - len(cellBytes)
	copy(bp.buf[newStart:], cellBytes)
	bp.setContentStart(newStart)

	// Shift pointer-array entries [pos, n) up by one slot.
	for i := n; i > pos; i-- {
		bp.setCellPtr(i, bp.cellPtr(i-1))
	}
	bp.setCellPtr(pos, newStart)
	bp.setNumCells(n + 1)
	return nil
}

// DeleteCellAt removes cell index pos from the pointer array. The
// vacated content-area bytes become unreachable fragmentation until the
// next Defragment.
func (bp *BTreePage) DeleteCellAt(pos int) {
	n := bp.NumCells()
	for i := pos; i < n-1; i++ {
		bp.setCellPtr(i, bp.cellPtr(i+1))
	}
	bp.setNumCells(n - 1)
}

// cellLen returns the on-page byte length of the cell starting at buf,
// dispatching on this page's type.
func cellLen(pt PageType, buf []byte, U int) (int, error) {
	switch pt {
	case PageTypeTableLeaf:
		_, n, err := DecodeTableLeafCell(buf, U)
		return n, err
	case PageTypeTableInterior:
		_, n, err := DecodeTableInteriorCell(buf)
		return n, err
	case PageTypeIndexLeaf:
		_, n, err := DecodeIndexLeafCell(buf, U)
		return n, err
	case PageTypeIndexInterior:
		_, n, err := DecodeIndexInteriorCell(buf, U)
		return n, err
	default:
		return 0, &CorruptPageError{Reason: "unknown page type"}
	}
}

// Defragment repacks live cells against the end of the page, eliminating
// space left by deletions, and rewrites the pointer array's offsets in
// place (order preserved).
func (bp *BTreePage) Defragment(U int) error {
	n := bp.NumCells()
	pt := bp.Type()
	cells := make([][]byte, n)
	for i := 0; i < n; i++ {
		raw := bp.CellBytes(i)
		ln, err := cellLen(pt, raw, U)
		if err != nil {
			return err
		}
		cells[i] = append([]byte(nil), raw[:ln]...)
	}
	end := len(bp.buf)
	for i := n - 1; i >= 0; i-- {
		end -= len(cells[i])
		copy(bp.buf[end:], cells[i])
		bp.setCellPtr(i, end)
	}
	bp.setContentStart(end)
	return nil
}
