package pager

import (
	"container/list"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Page substrate
// ───────────────────────────────────────────────────────────────────────────
//
// Pager is the raw block-device abstraction of §4.1: a numbered sequence
// of fixed-size pages, read through an LRU cache that guarantees a
// borrowed view stays valid until the caller unpins it. In encrypted
// mode the cache stores plaintext; the Transform decrypts on miss and
// encrypts on writeback.

// PageBackend is the minimal byte-addressable device a Pager reads and
// writes fixed-size pages through. osBackend, over *os.File, is the
// implementation this package provides.
type PageBackend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// osBackend adapts *os.File to PageBackend.
type osBackend struct{ f *os.File }

func (b *osBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *osBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *osBackend) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *osBackend) Sync() error                               { return b.f.Sync() }
func (b *osBackend) Close() error                              { return b.f.Close() }

// Pager owns the page cache and backing device for one database file.
// It is not safe for concurrent use from multiple goroutines; the
// database object above it serializes access per the lock protocol of
// §5.
type Pager struct {
	backend   PageBackend
	transform *PageTransform // nil for a plain (unencrypted) database
	pageSize  int
	reserved  uint8
	pageCount uint32
	writable  bool

	cache *pageCache

	mu sync.Mutex
}

type cacheEntry struct {
	id    PageID
	buf   []byte
	pins  int
	elem  *list.Element
	dirty bool
}

// pageCache is an LRU cache of plaintext page buffers keyed by page
// number. Pinned entries are never evicted.
type pageCache struct {
	capacity int
	entries  map[PageID]*cacheEntry
	order    *list.List // front = most recently used
}

func newPageCache(capacity int) *pageCache {
	if capacity < 1 {
		capacity = 1
	}
	return &pageCache{capacity: capacity, entries: map[PageID]*cacheEntry{}, order: list.New()}
}

func (c *pageCache) get(id PageID) *cacheEntry {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.order.MoveToFront(e.elem)
	return e
}

func (c *pageCache) insert(id PageID, buf []byte) *cacheEntry {
	e := &cacheEntry{id: id, buf: buf}
	e.elem = c.order.PushFront(e)
	c.entries[id] = e
	c.evictIfNeeded()
	return e
}

func (c *pageCache) evictIfNeeded() {
	for len(c.entries) > c.capacity {
		victim := c.order.Back()
		for victim != nil {
			ce := victim.Value.(*cacheEntry)
			if ce.pins == 0 {
				c.order.Remove(victim)
				delete(c.entries, ce.id)
				break
			}
			victim = victim.Prev()
		}
		if victim == nil {
			return // everything pinned; cache temporarily exceeds capacity
		}
	}
}

func (c *pageCache) invalidate(id PageID) {
	if e, ok := c.entries[id]; ok {
		c.order.Remove(e.elem)
		delete(c.entries, id)
	}
}

// OpenOptions configures a Pager at open time.
type OpenOptions struct {
	PageSize      int  // used only when creating a new database
	CacheSizePages int
	Writable      bool
	Password      []byte // presence triggers encryption discovery/derivation
	KDFTimeCost   int
	KDFMemoryKiB  int
	KDFParallel   int
}

// DefaultCacheSizePages matches the configuration default of ~64 MiB at
// 4 KiB pages.
const DefaultCacheSizePages = 16384

// OpenPager opens or creates the database file at path and returns a
// Pager positioned to read its header. newFile reports whether the
// file did not previously exist (and was created empty).
func OpenPager(path string, opts OpenOptions) (p *Pager, newFile bool, err error) {
	flag := os.O_RDWR
	if !opts.Writable {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, &IoError{Op: "open", Reason: err}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, &IoError{Op: "stat", Reason: err}
	}
	newFile = fi.Size() == 0

	cacheSize := opts.CacheSizePages
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSizePages
	}

	p = &Pager{
		backend:  &osBackend{f: f},
		writable: opts.Writable,
		cache:    newPageCache(cacheSize),
	}

	if newFile {
		ps := opts.PageSize
		if ps == 0 {
			ps = DefaultPageSize
		}
		p.pageSize = ps
		p.pageCount = 1
		if len(opts.Password) > 0 {
			if err := p.createEncrypted(opts); err != nil {
				f.Close()
				return nil, false, err
			}
		} else {
			if err := p.createPlain(); err != nil {
				f.Close()
				return nil, false, err
			}
		}
		return p, true, nil
	}

	if err := p.openExisting(opts); err != nil {
		f.Close()
		return nil, false, err
	}
	n := fi.Size() / int64(p.pageSize)
	if p.Encrypted() {
		n = (fi.Size() - EncryptionHeaderSize) / int64(p.pageSize+EncryptionOverhead)
	}
	if uint32(n) > p.pageCount {
		p.pageCount = uint32(n)
	}
	return p, false, nil
}

func (p *Pager) createPlain() error {
	buf := make([]byte, p.pageSize)
	hdr := NewDBHeader(p.pageSize)
	if err := MarshalDBHeader(hdr, buf); err != nil {
		return err
	}
	InitBTreePage(buf, DBHeaderSize, PageTypeTableLeaf)
	if _, err := p.backend.WriteAt(buf, 0); err != nil {
		return &IoError{Op: "write page 1", Reason: err}
	}
	return p.backend.Sync()
}

func (p *Pager) createEncrypted(opts OpenOptions) error {
	tp, hdrBuf, err := NewPageTransformForCreate(opts.Password, p.pageSize, opts.KDFTimeCost, opts.KDFMemoryKiB, opts.KDFParallel)
	if err != nil {
		return err
	}
	p.transform = tp
	if _, err := p.backend.WriteAt(hdrBuf, 0); err != nil {
		return &IoError{Op: "write encryption header", Reason: err}
	}

	plain := make([]byte, p.pageSize)
	hdr := NewDBHeader(p.pageSize)
	if err := MarshalDBHeader(hdr, plain); err != nil {
		return err
	}
	InitBTreePage(plain, DBHeaderSize, PageTypeTableLeaf)

	cipher := make([]byte, p.pageSize+EncryptionOverhead)
	if err := p.transform.Seal(cipher, plain, 1); err != nil {
		return err
	}
	if _, err := p.backend.WriteAt(cipher, EncryptionHeaderSize); err != nil {
		return &IoError{Op: "write page 1", Reason: err}
	}
	return p.backend.Sync()
}

func (p *Pager) openExisting(opts OpenOptions) error {
	var probe [16]byte
	if _, err := p.backend.ReadAt(probe[:], 0); err != nil {
		return &IoError{Op: "read header probe", Reason: err}
	}

	if string(probe[:len(encryptionMagic)]) == string(encryptionMagic[:]) {
		var hdrBuf [EncryptionHeaderSize]byte
		if _, err := p.backend.ReadAt(hdrBuf[:], 0); err != nil {
			return &IoError{Op: "read encryption header", Reason: err}
		}
		tp, innerPageSize, err := OpenPageTransform(hdrBuf[:], opts.Password)
		if err != nil {
			return err
		}
		p.transform = tp
		p.pageSize = innerPageSize

		plain := make([]byte, p.pageSize)
		cipher := make([]byte, p.pageSize+EncryptionOverhead)
		if _, err := p.backend.ReadAt(cipher, EncryptionHeaderSize); err != nil {
			return &IoError{Op: "read page 1", Reason: err}
		}
		if err := p.transform.Open(plain, cipher, 1); err != nil {
			return err
		}
		hdr, err := UnmarshalDBHeader(plain)
		if err != nil {
			return err
		}
		p.reserved = hdr.ReservedPerPage
		p.pageCount = hdr.PageCount
		return nil
	}

	buf := make([]byte, DBHeaderSize)
	if _, err := p.backend.ReadAt(buf, 0); err != nil {
		return &IoError{Op: "read database header", Reason: err}
	}
	hdr, err := UnmarshalDBHeader(buf)
	if err != nil {
		return err
	}
	p.pageSize = int(hdr.PageSize)
	p.reserved = hdr.ReservedPerPage
	p.pageCount = hdr.PageCount
	return nil
}

func (p *Pager) PageSize() int    { return p.pageSize }
func (p *Pager) Usable() int      { return UsablePageSize(p.pageSize, p.reserved) }
func (p *Pager) PageCount() int   { return int(p.pageCount) }
func (p *Pager) Encrypted() bool  { return p.transform != nil }
func (p *Pager) Writable() bool   { return p.writable }

func (p *Pager) physicalOffset(id PageID) int64 {
	base := int64(id-1) * int64(p.pageSize)
	if p.transform != nil {
		return EncryptionHeaderSize + (int64(id-1))*int64(p.pageSize+EncryptionOverhead)
	}
	return base
}

// GetPage returns a borrowed, pinned view of page id's plaintext bytes.
// The caller must call UnpinPage when done; until then the buffer's
// contents are guaranteed stable.
func (p *Pager) GetPage(id PageID) ([]byte, error) {
	if id == InvalidPageID || uint32(id) > p.pageCount {
		return nil, &InvalidPageNumberError{Page: id, PageCount: p.pageCount}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if e := p.cache.get(id); e != nil {
		e.pins++
		return e.buf, nil
	}

	buf, err := p.readPageFromDevice(id)
	if err != nil {
		return nil, err
	}
	e := p.cache.insert(id, buf)
	e.pins++
	return e.buf, nil
}

func (p *Pager) readPageFromDevice(id PageID) ([]byte, error) {
	off := p.physicalOffset(id)
	if p.transform == nil {
		buf := make([]byte, p.pageSize)
		n, err := p.backend.ReadAt(buf, off)
		if err != nil {
			return nil, &IoError{Op: "read page", Reason: err}
		}
		if n < p.pageSize {
			return nil, &ShortReadError{Page: id, Want: p.pageSize, Got: n}
		}
		return buf, nil
	}

	cipher := make([]byte, p.pageSize+EncryptionOverhead)
	n, err := p.backend.ReadAt(cipher, off)
	if err != nil {
		return nil, &IoError{Op: "read page", Reason: err}
	}
	if n < len(cipher) {
		return nil, &ShortReadError{Page: id, Want: len(cipher), Got: n}
	}
	plain := make([]byte, p.pageSize)
	if err := p.transform.Open(plain, cipher, uint32(id)); err != nil {
		return nil, err
	}
	return plain, nil
}

// UnpinPage releases one pin on page id obtained from GetPage.
func (p *Pager) UnpinPage(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.cache.get(id); e != nil && e.pins > 0 {
		e.pins--
	}
}

// ReadPage copies exactly PageSize bytes of page id's plaintext into
// dst.
func (p *Pager) ReadPage(id PageID, dst []byte) error {
	buf, err := p.GetPage(id)
	if err != nil {
		return err
	}
	defer p.UnpinPage(id)
	copy(dst, buf)
	return nil
}

// WritePage writes src as the new plaintext contents of page id,
// updating the cache. The caller is responsible for having captured a
// pre-image into the rollback journal first; WritePage itself performs
// no journaling.
func (p *Pager) WritePage(id PageID, src []byte) error {
	if !p.writable {
		return &TransactionError{Reason: "write attempted on read-only pager"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, p.pageSize)
	copy(buf, src)

	if e := p.cache.get(id); e != nil {
		e.buf = buf
		e.dirty = true
	} else {
		e := p.cache.insert(id, buf)
		e.dirty = true
	}
	return p.writePageToDevice(id, buf)
}

func (p *Pager) writePageToDevice(id PageID, plain []byte) error {
	off := p.physicalOffset(id)
	if p.transform == nil {
		if _, err := p.backend.WriteAt(plain, off); err != nil {
			return &IoError{Op: "write page", Reason: err}
		}
		return nil
	}
	cipher := make([]byte, p.pageSize+EncryptionOverhead)
	if err := p.transform.Seal(cipher, plain, uint32(id)); err != nil {
		return err
	}
	if _, err := p.backend.WriteAt(cipher, off); err != nil {
		return &IoError{Op: "write page", Reason: err}
	}
	return nil
}

// Extend grows the database by additional pages, zero-filling each new
// page, and returns the first new page number.
func (p *Pager) Extend(additional int) (PageID, error) {
	if !p.writable {
		return InvalidPageID, &TransactionError{Reason: "extend attempted on read-only pager"}
	}
	first := PageID(p.pageCount + 1)
	zero := make([]byte, p.pageSize)
	for i := 0; i < additional; i++ {
		id := PageID(p.pageCount + 1)
		if err := p.writePageToDevice(id, zero); err != nil {
			return InvalidPageID, err
		}
		p.pageCount++
	}
	return first, nil
}

// Truncate shrinks the database to exactly pages pages.
func (p *Pager) Truncate(pages int) error {
	if !p.writable {
		return &TransactionError{Reason: "truncate attempted on read-only pager"}
	}
	for pid := uint32(pages) + 1; pid <= p.pageCount; pid++ {
		p.cache.invalidate(PageID(pid))
	}
	p.pageCount = uint32(pages)
	size := p.physicalOffset(PageID(pages + 1))
	if err := p.backend.Truncate(size); err != nil {
		return &IoError{Op: "truncate", Reason: err}
	}
	return nil
}

// Invalidate discards any cached copy of page id.
func (p *Pager) Invalidate(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.invalidate(id)
}

// Flush makes all prior writes durable on the backing device.
func (p *Pager) Flush() error {
	if err := p.backend.Sync(); err != nil {
		return &IoError{Op: "flush", Reason: err}
	}
	return nil
}

// Close releases the backing file.
func (p *Pager) Close() error {
	if err := p.backend.Close(); err != nil {
		return &IoError{Op: "close", Reason: err}
	}
	return nil
}

// SetPageCount is used by the writer/freelist bookkeeping when the
// header's page count must be reconciled after recovery.
func (p *Pager) SetPageCount(n uint32) { p.pageCount = n }
