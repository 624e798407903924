package rawstore

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

const (
	InvalidPageNumber int64 = -1
	FirstPageNumber   int64 = 1

	InvalidRecordID int32 = 0
	FirstRecordID   int32 = 1

	// FirstSlot is the slot number of the first record on a page.
	FirstSlot = 0
)

// PageKey identifies a page: the container it belongs to and its number.
type PageKey struct {
	Container uint64
	Page      int64
}

func (k PageKey) String() string {
	return fmt.Sprintf("Page(%d,Container(%d))", k.Page, k.Container)
}

// RecordHandle is the external identity of a record. Slot is only a hint;
// slots shift on insert and purge, so callers resolve the handle with
// Page.FindRecordByID before trusting it.
type RecordHandle struct {
	Page PageKey
	ID   int32
	Slot int
}

// InvalidRecordHandle is returned when an insert did not happen.
var InvalidRecordHandle = RecordHandle{Page: PageKey{Page: InvalidPageNumber}, ID: InvalidRecordID, Slot: -1}

func (h RecordHandle) Valid() bool {
	return h.ID != InvalidRecordID && h.Page.Page != InvalidPageNumber
}

func (h RecordHandle) String() string {
	return fmt.Sprintf("Record(%d,%s)", h.ID, h.Page)
}

// Pointer returns the page-local pointer form stored in overflow fields and
// record headers.
func (h RecordHandle) Pointer() RecordPointer {
	return RecordPointer{Page: h.Page.Page, ID: h.ID}
}

// RecordPointer is the (page, record id) pair written inside a container.
type RecordPointer struct {
	Page int64
	ID   int32
}

func (p RecordPointer) size() int {
	return sizeCompressedLong(p.Page) + sizeCompressedInt(int(p.ID))
}

func (p RecordPointer) appendTo(dst []byte) []byte {
	dst = appendCompressedLong(dst, p.Page)
	return appendCompressedInt(dst, int(p.ID))
}

func readRecordPointer(c *cursor) (RecordPointer, error) {
	page, err := c.readCompressedLong()
	if err != nil {
		return RecordPointer{}, err
	}
	id, err := c.readCompressedInt()
	if err != nil {
		return RecordPointer{}, err
	}
	return RecordPointer{Page: page, ID: int32(id)}, nil
}

func (p RecordPointer) clone() *RecordPointer { return &p }

func (p RecordPointer) String() string {
	return fmt.Sprintf("(%d,%d)", p.Page, p.ID)
}

// ContainerHandle is one transaction's access to a container. It latches
// pages on the transaction's behalf and remembers them so Close can release
// whatever is still held.
type ContainerHandle struct {
	c        *Container
	xact     Transaction
	locking  LockingPolicy
	readOnly bool

	mu      sync.Mutex
	latched map[*Page]int
	closed  bool
	pending []reclaimWork
}

// Container returns the container the handle belongs to.
func (h *ContainerHandle) Container() *Container { return h.c }

// Transaction returns the transaction the handle works for.
func (h *ContainerHandle) Transaction() Transaction { return h.xact }

// Locking returns the locking policy of the handle.
func (h *ContainerHandle) Locking() LockingPolicy { return h.locking }

func (h *ContainerHandle) usable() error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrContainerClosed
	}
	return h.c.checkUsable()
}

func (h *ContainerHandle) writable() error {
	if h.readOnly {
		return ErrContainerReadOnly
	}
	return h.usable()
}

// GetPage latches page n, waiting for other owners. Pages that are not
// allocated fail with ErrInvalidPage.
func (h *ContainerHandle) GetPage(n int64) (*Page, error) {
	return h.getPage(n, true, true)
}

// GetPageNoWait is GetPage without waiting: it returns nil when another
// owner holds the latch.
func (h *ContainerHandle) GetPageNoWait(n int64) (*Page, error) {
	return h.getPage(n, false, true)
}

func (h *ContainerHandle) getPage(n int64, wait, validOnly bool) (*Page, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}
	if n < FirstPageNumber {
		return nil, errors.Wrapf(ErrPageNotFound, "page %d", n)
	}
	p, err := h.c.pin(n)
	if err != nil {
		return nil, err
	}
	if !p.latch.acquire(h, wait) {
		h.c.unpin(p)
		return nil, nil
	}
	h.register(p)
	if validOnly && !p.IsValid() {
		p.Release()
		return nil, errors.Wrapf(ErrInvalidPage, "%s", p.key)
	}
	return p, nil
}

func (h *ContainerHandle) register(p *Page) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latched[p]++
}

// deregister drops one latch level and reports the remaining count.
func (h *ContainerHandle) deregister(p *Page) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.latched[p] - 1
	if n <= 0 {
		delete(h.latched, p)
		return 0
	}
	h.latched[p] = n
	return n
}

// holds reports whether the handle has page n latched.
func (h *ContainerHandle) holds(n int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.latched {
		if p.key.Page == n {
			return true
		}
	}
	return false
}

// LatchedPages returns the number of pages the handle holds.
func (h *ContainerHandle) LatchedPages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.latched)
}

// Release unlatches the page. The cache pin is dropped after the latch.
func (p *Page) Release() {
	h := p.latch.holder()
	assert(h != nil, "release of unlatched %s", p.key)
	p.latch.release(h)
	h.deregister(p)
	p.c.unpin(p)
}

// AddPage allocates a page for new rows and returns it latched.
func (h *ContainerHandle) AddPage() (*Page, error) {
	p, err := h.allocPage(false)
	if err != nil {
		return nil, err
	}
	h.c.alloc.noteInsert(p.key.Page, true)
	return p, nil
}

// RemovePage frees a latched page. The latch is released.
func (h *ContainerHandle) RemovePage(p *Page) error {
	if err := h.writable(); err != nil {
		return err
	}
	assert(p.latch.holder() == h, "remove of %s not latched by handle", p.key)
	if err := p.logAndApply(&Operation{Kind: OpSetStatus, Status: PageInvalid}); err != nil {
		return err
	}
	n := p.key.Page
	p.Release()
	h.c.alloc.give(n)
	h.c.log.WithField("page", n).Debug("page deallocated")
	return nil
}

// GetPageForInsert returns a latched page from the insert hints that can
// take another row, or nil. Hinted pages are tried without waiting.
func (h *ContainerHandle) GetPageForInsert() (*Page, error) {
	if err := h.writable(); err != nil {
		return nil, err
	}
	for _, n := range h.c.alloc.insertHints() {
		if h.holds(n) {
			continue
		}
		p, err := h.getPage(n, false, false)
		if err != nil {
			if errors.Is(err, ErrPageNotFound) {
				continue
			}
			return nil, err
		}
		if p == nil {
			continue
		}
		if p.IsValid() && !p.IsOverflowPage() && p.AllowInsert() {
			return p, nil
		}
		p.Release()
	}
	return nil, nil
}

// PostCommit hands the handle's deferred work to the container. The
// transaction layer calls it once the transaction has committed.
func (h *ContainerHandle) PostCommit() {
	h.mu.Lock()
	work := h.pending
	h.pending = nil
	h.mu.Unlock()
	h.c.reclaim.add(work...)
}

// Abort drops deferred work that only applies after a commit.
func (h *ContainerHandle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = nil
}

func (h *ContainerHandle) deferReclaim(w reclaimWork) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, w)
}

// Close releases every latch the handle still holds.
func (h *ContainerHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	held := h.latched
	h.latched = make(map[*Page]int)
	h.mu.Unlock()

	for p, n := range held {
		if p.latch.forceRelease(h) {
			h.c.log.WithField("page", p.key.Page).Debug("latch released on handle close")
		}
		for i := 0; i < n; i++ {
			h.c.unpin(p)
		}
	}
}
