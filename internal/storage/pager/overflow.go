package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Overflow chain
// ───────────────────────────────────────────────────────────────────────────
//
// An overflow page's first 4 bytes point to the next overflow page (0
// terminates the chain); the remaining usable-4 bytes hold payload.
// There is no per-page length field: the logical payload length is
// known from the owning cell, and the final page in the chain may be
// only partially used.

// OverflowCapacity returns the number of payload bytes carried per
// overflow page for the given usable page size.
func OverflowCapacity(usablePageSize int) int {
	return usablePageSize - 4
}

// OverflowNext reads the next-page pointer from an overflow page buffer.
func OverflowNext(buf []byte) PageID {
	return PageID(binary.BigEndian.Uint32(buf[0:4]))
}

// SetOverflowNext writes the next-page pointer into an overflow page
// buffer.
func SetOverflowNext(buf []byte, next PageID) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(next))
}

// OverflowData returns the payload-carrying slice of an overflow page
// buffer (everything after the next-pointer).
func OverflowData(buf []byte) []byte {
	return buf[4:]
}

// AssembleOverflowPayload concatenates inline bytes already held by the
// caller with the remainder read by walking the overflow chain via
// readPage, until exactly totalSize bytes have been assembled. A cycle
// or a zero pointer encountered before the full payload is read fails
// with CorruptPageError.
func AssembleOverflowPayload(inline []byte, first PageID, totalSize int, readPage func(PageID) ([]byte, error)) ([]byte, error) {
	out := make([]byte, totalSize)
	n := copy(out, inline)
	seen := map[PageID]bool{}
	cur := first
	for n < totalSize {
		if cur == InvalidPageID {
			return nil, &CorruptPageError{Reason: "overflow chain terminated before payload fully assembled"}
		}
		if seen[cur] {
			return nil, &CorruptPageError{Page: cur, Reason: "overflow chain cycle detected"}
		}
		seen[cur] = true

		buf, err := readPage(cur)
		if err != nil {
			return nil, err
		}
		data := OverflowData(buf)
		remain := totalSize - n
		take := len(data)
		if take > remain {
			take = remain
		}
		n += copy(out[n:], data[:take])
		cur = OverflowNext(buf)
	}
	return out, nil
}

// WriteOverflowChain writes data across freshly allocated overflow
// pages, one at a time from allocPage, and returns the first page of
// the chain (InvalidPageID if data is empty). writePage persists each
// page as it is filled.
func WriteOverflowChain(usablePageSize int, data []byte, allocPage func() (PageID, []byte, error), writePage func(PageID, []byte) error) (PageID, error) {
	if len(data) == 0 {
		return InvalidPageID, nil
	}
	capacity := OverflowCapacity(usablePageSize)

	type pending struct {
		id  PageID
		buf []byte
	}
	var chain []pending
	off := 0
	for off < len(data) {
		id, buf, err := allocPage()
		if err != nil {
			return InvalidPageID, err
		}
		n := len(data) - off
		if n > capacity {
			n = capacity
		}
		copy(OverflowData(buf), data[off:off+n])
		chain = append(chain, pending{id: id, buf: buf})
		off += n
	}
	for i, p := range chain {
		if i+1 < len(chain) {
			SetOverflowNext(p.buf, chain[i+1].id)
		} else {
			SetOverflowNext(p.buf, InvalidPageID)
		}
		if err := writePage(p.id, p.buf); err != nil {
			return InvalidPageID, err
		}
	}
	return chain[0].id, nil
}
