package rawstore

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Container is a set of pages sharing one store and one log. It owns the
// page cache and the allocation state; transactions work through a
// ContainerHandle.
type Container struct {
	id     uint64
	opts   *Options
	format PageFormat
	store  PageStore
	wal    Logger
	log    *log.Entry

	mu      sync.Mutex
	pages   map[int64]*Page
	pool    []*Page
	corrupt error
	closed  bool

	alloc   *allocator
	reclaim *reclaimQueue
	cleaner *cleaner
}

// Open opens container id over store. wal may be nil only for temporary
// containers. A nil options uses DefaultOptions.
func Open(id uint64, store PageStore, wal Logger, options *Options) (*Container, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := options.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	if wal == nil && !opts.Temporary {
		return nil, errors.New("a durable container needs a log")
	}
	c := &Container{
		id:      id,
		opts:    opts,
		format:  StoredFormat,
		store:   store,
		wal:     wal,
		log:     log.NewEntry(opts.Logger).WithField("container", id),
		pages:   make(map[int64]*Page),
		reclaim: &reclaimQueue{},
	}
	var err error
	if c.alloc, err = c.scanAllocation(); err != nil {
		return nil, err
	}
	c.log.WithFields(log.Fields{
		"pageSize": humanize.IBytes(uint64(opts.PageSize)),
		"pages":    c.alloc.next - FirstPageNumber,
		"free":     len(c.alloc.free),
	}).Debug("container opened")
	if opts.CleanInterval > 0 && !opts.ReadOnly {
		c.cleaner = startCleaner(c, opts.CleanInterval)
	}
	return c, nil
}

// OpenMemory opens container id over a MemStore, and a MemLog unless the
// container is temporary, both using options.Compression.
func OpenMemory(id uint64, options *Options) (*Container, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := options.withDefaults()
	store, err := NewMemStore(opts.Compression, int64(opts.CacheSize)*int64(opts.PageSize))
	if err != nil {
		return nil, errors.Wrap(err, "memory store")
	}
	var wal Logger
	if !opts.Temporary {
		if wal, err = NewMemLog(opts.Compression); err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "memory log")
		}
	}
	c, err := Open(id, store, wal, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// ID returns the container id.
func (c *Container) ID() uint64 { return c.id }

// Options returns the effective options.
func (c *Container) Options() Options { return *c.opts }

// Handle opens a handle for xact. Read-only containers hand out read-only
// handles whatever readOnly says.
func (c *Container) Handle(xact Transaction, locking LockingPolicy, readOnly bool) *ContainerHandle {
	if xact == nil {
		xact = NewXact()
	}
	if locking == nil {
		locking = NoLocking{}
	}
	return &ContainerHandle{
		c:        c,
		xact:     xact,
		locking:  locking,
		readOnly: readOnly || c.opts.ReadOnly,
		latched:  make(map[*Page]int),
	}
}

func (c *Container) key(n int64) PageKey { return PageKey{Container: c.id, Page: n} }

func (c *Container) checkUsable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContainerClosed
	}
	if c.corrupt != nil {
		return errors.Wrapf(ErrContainerCorrupt, "container %d: %v", c.id, c.corrupt)
	}
	return nil
}

// pin returns the cached instance of page n, reading it from the store if
// needed. Every pin is matched by an unpin.
func (c *Container) pin(n int64) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContainerClosed
	}
	if c.corrupt != nil {
		return nil, errors.Wrapf(ErrContainerCorrupt, "container %d: %v", c.id, c.corrupt)
	}
	if p, ok := c.pages[n]; ok {
		p.pins++
		return p, nil
	}
	p := c.instance()
	p.setIdentity(c.key(n))
	if err := c.read(p); err != nil {
		p.clearIdentity()
		c.pool = append(c.pool, p)
		return nil, err
	}
	p.pins = 1
	c.pages[n] = p
	return p, nil
}

// read loads p from the store. A checksum failure is retried once from the
// store before the container is marked corrupt.
func (c *Container) read(p *Page) error {
	err := c.readOnce(p)
	if errors.Is(err, ErrBadChecksum) {
		c.log.WithField("page", p.key.Page).WithError(err).Warn("checksum mismatch, reading page again")
		err = c.readOnce(p)
	}
	if errors.Is(err, ErrBadChecksum) || errors.Is(err, ErrCorruptPage) {
		c.markCorruptLocked(p.key, err)
	}
	return err
}

func (c *Container) readOnce(p *Page) error {
	if err := c.store.ReadPage(p.key.Page, p.buf); err != nil {
		return err
	}
	return p.load(append([]byte{}, p.buf...))
}

func (c *Container) markCorruptLocked(key PageKey, err error) {
	c.log.WithField("page", key.Page).WithError(err).Error("page is corrupt, container marked corrupt")
	if c.corrupt == nil {
		c.corrupt = err
	}
	if h, ok := c.store.(CorruptionHandler); ok {
		h.MarkCorrupt(key, err)
	}
}

// instance returns a page object without identity.
func (c *Container) instance() *Page {
	if n := len(c.pool); n > 0 {
		p := c.pool[n-1]
		c.pool = c.pool[:n-1]
		return p
	}
	return newPage(c, c.format, c.opts.PageSize)
}

// unpin drops a pin and evicts clean unpinned pages above the cache size.
func (c *Container) unpin(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	assert(p.pins > 0, "unpin of unpinned %s", p.key)
	p.pins--
	if p.pins > 0 || len(c.pages) <= c.opts.CacheSize {
		return
	}
	c.evictLocked()
}

func (c *Container) evictLocked() {
	for n, p := range c.pages {
		if len(c.pages) <= c.opts.CacheSize {
			return
		}
		if p.pins > 0 || p.dirty {
			continue
		}
		delete(c.pages, n)
		p.clearIdentity()
		c.pool = append(c.pool, p)
	}
}

// pinCached pins every resident page so it cannot be evicted while the
// caller works on it. Each page must be unpinned afterwards.
func (c *Container) pinCached() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Page, 0, len(c.pages))
	for _, p := range c.pages {
		p.pins++
		out = append(out, p)
	}
	return out
}

// writeOut writes p to the store if it is dirty, following the log first.
// The caller has begun a clean of p or holds its latch.
func (c *Container) writeOut(p *Page) error {
	if !p.dirty {
		return nil
	}
	if c.wal != nil && p.lastLog != 0 {
		if err := c.wal.FlushTo(p.lastLog); err != nil {
			return errors.Wrapf(err, "flush log for %s", p.key)
		}
	}
	if err := c.store.WritePage(p.key.Page, p.image()); err != nil {
		return errors.Wrapf(err, "write %s", p.key)
	}
	p.dirty = false
	return nil
}

// clean writes a page out under the cleaner protocol.
func (c *Container) clean(p *Page, wait bool) error {
	if wait {
		p.latch.beginClean()
	} else if !p.latch.tryBeginClean() {
		return nil
	}
	defer p.latch.endClean()
	return c.writeOut(p)
}

// cleanAll writes out the dirty resident pages. Without wait, pages that
// are latched are skipped.
func (c *Container) cleanAll(wait bool) error {
	var err error
	for _, p := range c.pinCached() {
		if err == nil {
			err = c.clean(p, wait)
		}
		c.unpin(p)
	}
	return err
}

// Flush writes every dirty page and syncs the store.
func (c *Container) Flush() error {
	if c.opts.ReadOnly {
		return nil
	}
	if err := c.cleanAll(true); err != nil {
		return err
	}
	return errors.Wrap(c.store.Sync(), "sync store")
}

// Close stops the cleaner, flushes and closes the store.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if c.cleaner != nil {
		c.cleaner.stop()
	}
	var flushErr error
	if c.checkUsable() == nil {
		flushErr = c.Flush()
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.store.Close(); err != nil {
		return errors.Wrap(err, "close store")
	}
	return flushErr
}

// Corrupt returns the error that marked the container corrupt, if any.
func (c *Container) Corrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt
}
