package pager

import (
	"encoding/binary"
)

// ───────────────────────────────────────────────────────────────────────────
// Cells
// ───────────────────────────────────────────────────────────────────────────
//
// Four cell shapes, one per (table|index) x (interior|leaf) combination:
//
//   table leaf:      varint payload_size, varint rowid, local payload, [overflow ptr]
//   table interior:  4-byte left child, varint rowid
//   index leaf:      varint payload_size, local payload, [overflow ptr]
//   index interior:  4-byte left child, varint payload_size, local payload, [overflow ptr]

// Cell is a decoded b-tree cell. Table cells use Rowid as the key; index
// cells use their payload (the index key record) for ordering. LocalPayload is
// the slice stored inline on the page (borrowed); Overflow, when
// non-zero, names the first page of the chain holding the remainder.
// TotalSize is the full logical payload length, inline and overflow
// combined.
type Cell struct {
	LeftChild    PageID // interior cells only
	Rowid        int64  // table cells only
	LocalPayload []byte
	Overflow     PageID
	TotalSize    int
}

// computeLocal implements the inline/overflow payload split from the
// format specification: usable page size U, total payload P.
func computeLocal(U, P int) (local int, hasOverflow bool) {
	X := U - 35
	if P <= X {
		return P, false
	}
	M := ((U-12)*32)/255 - 23
	K := M + (P-M)%(U-4)
	if K <= X {
		return K, true
	}
	return M, true
}

// EncodeTableLeafCell builds the on-page bytes for a table-leaf cell
// given the full logical payload. If the payload does not fit inline,
// the remainder must already have been written to an overflow chain
// rooted at overflowPage.
func EncodeTableLeafCell(U int, rowid int64, payload []byte, overflowPage PageID) []byte {
	local, hasOverflow := computeLocal(U, len(payload))
	buf := make([]byte, 0, local+20)
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], uint64(len(payload)))
	buf = append(buf, tmp[:n]...)
	n = PutVarint(tmp[:], uint64(rowid))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, payload[:local]...)
	if hasOverflow {
		var ov [4]byte
		binary.BigEndian.PutUint32(ov[:], uint32(overflowPage))
		buf = append(buf, ov[:]...)
	}
	return buf
}

// DecodeTableLeafCell parses a table-leaf cell starting at buf[0].
func DecodeTableLeafCell(buf []byte, U int) (Cell, int, error) {
	payloadSize, n1 := Varint(buf)
	if n1 == 0 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated payload-size varint in table leaf cell"}
	}
	rowidU, n2 := Varint(buf[n1:])
	if n2 == 0 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated rowid varint in table leaf cell"}
	}
	off := n1 + n2
	local, hasOverflow := computeLocal(U, int(payloadSize))
	if off+local > len(buf) {
		return Cell{}, 0, &CorruptPageError{Reason: "table leaf cell local payload exceeds page"}
	}
	c := Cell{
		Rowid:        int64(rowidU),
		LocalPayload: buf[off : off+local],
		TotalSize:    int(payloadSize),
	}
	off += local
	if hasOverflow {
		if off+4 > len(buf) {
			return Cell{}, 0, &CorruptPageError{Reason: "table leaf cell missing overflow pointer"}
		}
		c.Overflow = PageID(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return c, off, nil
}

// EncodeTableInteriorCell builds a fixed-shape interior cell.
func EncodeTableInteriorCell(leftChild PageID, rowid int64) []byte {
	buf := make([]byte, 4, 4+MaxVarintLen)
	binary.BigEndian.PutUint32(buf, uint32(leftChild))
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], uint64(rowid))
	buf = append(buf, tmp[:n]...)
	return buf
}

// DecodeTableInteriorCell parses a table-interior cell at buf[0].
func DecodeTableInteriorCell(buf []byte) (Cell, int, error) {
	if len(buf) < 5 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated table interior cell"}
	}
	left := PageID(binary.BigEndian.Uint32(buf[:4]))
	rowidU, n := Varint(buf[4:])
	if n == 0 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated rowid varint in table interior cell"}
	}
	return Cell{LeftChild: left, Rowid: int64(rowidU)}, 4 + n, nil
}

// EncodeIndexLeafCell builds an index-leaf cell from the full logical
// key payload.
func EncodeIndexLeafCell(U int, payload []byte, overflowPage PageID) []byte {
	local, hasOverflow := computeLocal(U, len(payload))
	buf := make([]byte, 0, local+10)
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], uint64(len(payload)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, payload[:local]...)
	if hasOverflow {
		var ov [4]byte
		binary.BigEndian.PutUint32(ov[:], uint32(overflowPage))
		buf = append(buf, ov[:]...)
	}
	return buf
}

// DecodeIndexLeafCell parses an index-leaf cell at buf[0].
func DecodeIndexLeafCell(buf []byte, U int) (Cell, int, error) {
	payloadSize, n1 := Varint(buf)
	if n1 == 0 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated payload-size varint in index leaf cell"}
	}
	local, hasOverflow := computeLocal(U, int(payloadSize))
	off := n1
	if off+local > len(buf) {
		return Cell{}, 0, &CorruptPageError{Reason: "index leaf cell local payload exceeds page"}
	}
	c := Cell{LocalPayload: buf[off : off+local], TotalSize: int(payloadSize)}
	off += local
	if hasOverflow {
		if off+4 > len(buf) {
			return Cell{}, 0, &CorruptPageError{Reason: "index leaf cell missing overflow pointer"}
		}
		c.Overflow = PageID(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return c, off, nil
}

// EncodeIndexInteriorCell builds an index-interior cell.
func EncodeIndexInteriorCell(U int, leftChild PageID, payload []byte, overflowPage PageID) []byte {
	local, hasOverflow := computeLocal(U, len(payload))
	buf := make([]byte, 4, local+14)
	binary.BigEndian.PutUint32(buf, uint32(leftChild))
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], uint64(len(payload)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, payload[:local]...)
	if hasOverflow {
		var ov [4]byte
		binary.BigEndian.PutUint32(ov[:], uint32(overflowPage))
		buf = append(buf, ov[:]...)
	}
	return buf
}

// DecodeIndexInteriorCell parses an index-interior cell at buf[0].
func DecodeIndexInteriorCell(buf []byte, U int) (Cell, int, error) {
	if len(buf) < 5 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated index interior cell"}
	}
	left := PageID(binary.BigEndian.Uint32(buf[:4]))
	payloadSize, n1 := Varint(buf[4:])
	if n1 == 0 {
		return Cell{}, 0, &CorruptPageError{Reason: "truncated payload-size varint in index interior cell"}
	}
	local, hasOverflow := computeLocal(U, int(payloadSize))
	off := 4 + n1
	if off+local > len(buf) {
		return Cell{}, 0, &CorruptPageError{Reason: "index interior cell local payload exceeds page"}
	}
	c := Cell{LeftChild: left, LocalPayload: buf[off : off+local], TotalSize: int(payloadSize)}
	off += local
	if hasOverflow {
		if off+4 > len(buf) {
			return Cell{}, 0, &CorruptPageError{Reason: "index interior cell missing overflow pointer"}
		}
		c.Overflow = PageID(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return c, off, nil
}
