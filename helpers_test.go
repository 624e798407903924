package rawstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testOptions() *Options {
	o := *DefaultOptions
	return &o
}

type testEnv struct {
	c     *Container
	store *MemStore
	wal   *MemLog
}

func newTestEnv(t *testing.T, opts *Options) *testEnv {
	t.Helper()
	if opts == nil {
		opts = testOptions()
	}
	c, err := OpenMemory(1, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	env := &testEnv{c: c, store: c.store.(*MemStore)}
	if !opts.Temporary {
		env.wal = c.wal.(*MemLog)
	}
	return env
}

func (e *testEnv) handle(t *testing.T) *ContainerHandle {
	h := e.c.Handle(nil, nil, false)
	t.Cleanup(h.Close)
	return h
}

func (e *testEnv) newPage(t *testing.T, h *ContainerHandle) *Page {
	t.Helper()
	p, err := h.AddPage()
	require.NoError(t, err)
	return p
}

// pattern returns n bytes that differ between neighbouring pieces, so a
// misplaced piece shows up.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func fill(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func values(cols ...[]byte) Row {
	r := make(Row, len(cols))
	for i, c := range cols {
		r[i] = Value(c)
	}
	return r
}

// evictAll drops every clean unpinned page from the cache.
func evictAll(c *Container) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, p := range c.pages {
		if p.pins == 0 && !p.dirty {
			delete(c.pages, n)
			p.clearIdentity()
			c.pool = append(c.pool, p)
		}
	}
}

func cachedCount(c *Container) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// dirtyPages returns the resident pages not yet written out.
func dirtyPages(c *Container) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.pages {
		if p.dirty {
			n++
		}
	}
	return n
}
