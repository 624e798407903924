package rawstore

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// allocator tracks free pages and the insert hints of a container. Its
// mutex is never held while waiting for a page latch.
type allocator struct {
	mu   sync.Mutex
	free []int64
	// next is the first page number never handed out.
	next int64

	lastInserted int64
	lastUnfilled int64
	lastOverflow int64
}

func newAllocator(next int64) *allocator {
	return &allocator{
		next:         maxOf(next, FirstPageNumber),
		lastInserted: InvalidPageNumber,
		lastUnfilled: InvalidPageNumber,
		lastOverflow: InvalidPageNumber,
	}
}

// scanAllocation rebuilds the free pool from the page headers in the store.
func (c *Container) scanAllocation() (*allocator, error) {
	count, err := c.store.PageCount()
	if err != nil {
		return nil, errors.Wrap(err, "page count")
	}
	a := newAllocator(count)
	buf := make([]byte, c.opts.PageSize)
	for n := FirstPageNumber; n < count; n++ {
		if err := c.store.ReadPage(n, buf); err != nil {
			if errors.Is(err, ErrPageNotFound) {
				a.free = append(a.free, n)
				continue
			}
			return nil, errors.Wrapf(err, "scan page %d", n)
		}
		h, err := ReadPageHeader(buf, c.format)
		if err != nil {
			return nil, errors.Wrapf(err, "scan page %d", n)
		}
		if h.Status == PageInvalid {
			a.free = append(a.free, n)
		}
	}
	// lowest numbers are handed out first
	for i, j := 0, len(a.free)-1; i < j; i, j = i+1, j-1 {
		a.free[i], a.free[j] = a.free[j], a.free[i]
	}
	return a, nil
}

// take removes a page number from the free pool, growing the container by
// a preallocated batch when the pool is empty.
func (a *allocator) take(c *Container) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		if err := a.preallocate(c); err != nil {
			return InvalidPageNumber, err
		}
	}
	n := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return n, nil
}

// preallocate writes a batch of free page images past the end of the
// container.
func (a *allocator) preallocate(c *Container) error {
	p := newPage(nil, c.format, c.opts.PageSize)
	first := a.next
	size := int64(c.opts.PreAllocSize)
	for n := first + size - 1; n >= first; n-- {
		p.key = c.key(n)
		p.initFresh(false, PageInvalid, FirstRecordID, 0)
		if err := c.store.WritePage(n, p.image()); err != nil {
			return errors.Wrapf(err, "preallocate page %d", n)
		}
		a.free = append(a.free, n)
	}
	a.next = first + size
	c.log.WithFields(log.Fields{"first": first, "count": size}).Debug("pages preallocated")
	return nil
}

// give returns a page number to the free pool.
func (a *allocator) give(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, n)
	if a.lastInserted == n {
		a.lastInserted = InvalidPageNumber
	}
	if a.lastUnfilled == n {
		a.lastUnfilled = InvalidPageNumber
	}
	if a.lastOverflow == n {
		a.lastOverflow = InvalidPageNumber
	}
}

// FreePages returns the number of pages in the free pool.
func (c *Container) FreePages() int {
	c.alloc.mu.Lock()
	defer c.alloc.mu.Unlock()
	return len(c.alloc.free)
}

func (a *allocator) noteInsert(n int64, unfilled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastInserted = n
	if unfilled {
		a.lastUnfilled = n
	} else if a.lastUnfilled == n {
		a.lastUnfilled = InvalidPageNumber
	}
}

func (a *allocator) noteOverflow(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastOverflow = n
}

func (a *allocator) overflowHint() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOverflow
}

func (a *allocator) insertHints() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var hints []int64
	if a.lastInserted != InvalidPageNumber {
		hints = append(hints, a.lastInserted)
	}
	if a.lastUnfilled != InvalidPageNumber && a.lastUnfilled != a.lastInserted {
		hints = append(hints, a.lastUnfilled)
	}
	return hints
}

// allocPage takes a free page, initialises it and returns it latched.
func (h *ContainerHandle) allocPage(isOverflow bool) (*Page, error) {
	if err := h.writable(); err != nil {
		return nil, err
	}
	for {
		n, err := h.c.alloc.take(h.c)
		if err != nil {
			return nil, err
		}
		p, err := h.getPage(n, true, false)
		if err != nil {
			h.c.alloc.give(n)
			return nil, err
		}
		if p.IsValid() {
			// still in use by a stale free entry
			p.Release()
			continue
		}
		nextID := FirstRecordID
		if !h.c.opts.ReuseRecordIDs {
			nextID = maxOf(p.header.NextRecordID, FirstRecordID)
		}
		op := &Operation{Kind: OpInitPage, Flag: isOverflow, NextRecordID: nextID}
		if err := p.logAndApply(op); err != nil {
			p.Release()
			h.c.alloc.give(n)
			return nil, err
		}
		h.c.log.WithFields(log.Fields{"page": n, "overflow": isOverflow}).Debug("page allocated")
		return p, nil
	}
}

// AllocateNewPage allocates a page and returns it latched. Overflow pages
// hold row continuations and long column pieces.
func (h *ContainerHandle) AllocateNewPage(isOverflow bool) (*Page, error) {
	if isOverflow {
		return h.allocPage(true)
	}
	return h.AddPage()
}

// DeallocatePage frees latched page p.
func (h *ContainerHandle) DeallocatePage(p *Page) error { return h.RemovePage(p) }

// FindPageForInsert returns a latched page with room for a row. The hint
// page is tried first, then the container's insert hints; nil means the
// caller should allocate.
func (h *ContainerHandle) FindPageForInsert(hint int64) (*Page, error) {
	if hint >= FirstPageNumber && !h.holds(hint) {
		p, err := h.getPage(hint, false, false)
		if err != nil && !errors.Is(err, ErrPageNotFound) {
			return nil, err
		}
		if p != nil {
			if p.IsValid() && !p.IsOverflowPage() && p.AllowInsert() {
				return p, nil
			}
			p.Release()
		}
	}
	return h.GetPageForInsert()
}
