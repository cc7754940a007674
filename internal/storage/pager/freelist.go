package pager

import "encoding/binary"

// ───────────────────────────────────────────────────────────────────────────
// Freelist
// ───────────────────────────────────────────────────────────────────────────
//
// A chain of trunk pages. Each trunk holds a 4-byte next-trunk pointer,
// a 4-byte leaf count, then up to (U-8)/4 4-byte leaf page numbers. The
// database header stores the head trunk page and the total free-page
// count (trunks plus leaves).

const (
	trunkNextOff  = 0
	trunkCountOff = 4
	trunkDataOff  = 8
)

// TrunkCapacity returns how many leaf page numbers fit in one trunk page
// of usable size U.
func TrunkCapacity(U int) int {
	return (U - trunkDataOff) / 4
}

func trunkNext(buf []byte) PageID   { return PageID(binary.BigEndian.Uint32(buf[trunkNextOff:])) }
func trunkLeafCount(buf []byte) int { return int(binary.BigEndian.Uint32(buf[trunkCountOff:])) }

func setTrunkNext(buf []byte, id PageID) {
	binary.BigEndian.PutUint32(buf[trunkNextOff:], uint32(id))
}
func setTrunkLeafCount(buf []byte, n int) {
	binary.BigEndian.PutUint32(buf[trunkCountOff:], uint32(n))
}
func trunkLeaf(buf []byte, i int) PageID {
	return PageID(binary.BigEndian.Uint32(buf[trunkDataOff+4*i:]))
}
func setTrunkLeaf(buf []byte, i int, id PageID) {
	binary.BigEndian.PutUint32(buf[trunkDataOff+4*i:], uint32(id))
}

func initTrunk(buf []byte, next PageID) {
	setTrunkNext(buf, next)
	setTrunkLeafCount(buf, 0)
}

// FreelistManager maintains the trunk-chain head and running free-page
// count; it performs no caching of its own, delegating page reads and
// writes to the caller (normally the writer's transaction) so that
// pre-images still flow through the rollback journal.
type FreelistManager struct {
	Head  PageID
	Count uint32
	U     int // usable page size
}

// NewFreelistManager wraps the head/count recorded in the database
// header.
func NewFreelistManager(head PageID, count uint32, usable int) *FreelistManager {
	return &FreelistManager{Head: head, Count: count, U: usable}
}

// Push returns page pageNumber to the freelist. readPage must return a
// buffer for pageNumber (its prior contents are irrelevant and will be
// overwritten); writePage persists the result.
func (fm *FreelistManager) Push(pageNumber PageID, readPage func(PageID) ([]byte, error), writePage func(PageID, []byte) error) error {
	if fm.Head == InvalidPageID {
		buf, err := readPage(pageNumber)
		if err != nil {
			return err
		}
		initTrunk(buf, InvalidPageID)
		if err := writePage(pageNumber, buf); err != nil {
			return err
		}
		fm.Head = pageNumber
		fm.Count++
		return nil
	}

	trunkBuf, err := readPage(fm.Head)
	if err != nil {
		return err
	}
	leafCount := trunkLeafCount(trunkBuf)
	if leafCount < TrunkCapacity(fm.U) {
		setTrunkLeaf(trunkBuf, leafCount, pageNumber)
		setTrunkLeafCount(trunkBuf, leafCount+1)
		if err := writePage(fm.Head, trunkBuf); err != nil {
			return err
		}
		fm.Count++
		return nil
	}

	newBuf, err := readPage(pageNumber)
	if err != nil {
		return err
	}
	initTrunk(newBuf, fm.Head)
	if err := writePage(pageNumber, newBuf); err != nil {
		return err
	}
	fm.Head = pageNumber
	fm.Count++
	return nil
}

// Pop removes and returns a page from the freelist, or InvalidPageID if
// the freelist is empty.
func (fm *FreelistManager) Pop(readPage func(PageID) ([]byte, error), writePage func(PageID, []byte) error) (PageID, error) {
	if fm.Head == InvalidPageID {
		return InvalidPageID, nil
	}
	trunkBuf, err := readPage(fm.Head)
	if err != nil {
		return InvalidPageID, err
	}
	leafCount := trunkLeafCount(trunkBuf)
	if leafCount > 0 {
		pid := trunkLeaf(trunkBuf, leafCount-1)
		setTrunkLeafCount(trunkBuf, leafCount-1)
		if err := writePage(fm.Head, trunkBuf); err != nil {
			return InvalidPageID, err
		}
		fm.Count--
		return pid, nil
	}

	pid := fm.Head
	fm.Head = trunkNext(trunkBuf)
	fm.Count--
	return pid, nil
}
