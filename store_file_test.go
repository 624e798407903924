//go:build unix

package rawstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileStore(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "test.rawstore")

	// open un-exist with readonly
	s, err := OpenFileStore(path, 4096, true, 0)
	assert.Nil(s)
	assert.Error(err)
	assert.True(os.IsNotExist(err))

	// open with create
	s, err = OpenFileStore(path, 4096, false, 0)
	require.NoError(t, err)

	// concurrent open with write and readonly
	r, err := OpenFileStore(path, 4096, true, 0)
	assert.Nil(r)
	assert.True(errors.Is(err, ErrWriteByOther))
	assert.NoError(s.Close())

	// concurrent open with 2 readonly
	s, err = OpenFileStore(path, 4096, true, 0)
	require.NoError(t, err)
	r, err = OpenFileStore(path, 4096, true, 0)
	require.NoError(t, err)
	assert.NoError(s.Close())
	assert.NoError(r.Close())
	assert.NoError(r.Close())
}

func TestFileStorePages(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "pages.rawstore")
	s, err := OpenFileStore(path, 1024, false, 0)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, 1024)
	assert.True(errors.Is(s.ReadPage(0, buf), ErrPageNotFound))
	image := pattern(1024, 7)
	assert.NoError(s.WritePage(2, image))
	count, err := s.PageCount()
	assert.NoError(err)
	assert.Equal(int64(3), count)

	assert.NoError(s.ReadPage(2, buf))
	assert.Equal(image, buf)
	assert.True(errors.Is(s.ReadPage(3, buf), ErrPageNotFound))
	assert.Error(s.ReadPage(2, make([]byte, 10)))
	assert.NoError(s.Sync())
}

func TestContainerOverFileStore(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "container.rawstore")
	opts := testOptions()

	s, err := OpenFileStore(path, opts.PageSize, false, 0)
	require.NoError(t, err)
	wal, err := NewMemLog(opts.Compression)
	require.NoError(t, err)
	c, err := Open(7, s, wal, opts)
	require.NoError(t, err)
	h := c.Handle(nil, nil, false)
	p, err := h.AddPage()
	require.NoError(t, err)
	row := values([]byte("on disk"), pattern(300, 3))
	_, err = p.Insert(row, nil, InsertDefault, 100)
	require.NoError(t, err)
	n := p.PageNumber()
	p.Release()
	h.Close()
	require.NoError(t, c.Flush())
	require.NoError(t, c.Close())

	ro := testOptions()
	ro.ReadOnly = true
	s, err = OpenFileStore(path, ro.PageSize, true, 0)
	require.NoError(t, err)
	c, err = Open(7, s, wal, ro)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(opts.PreAllocSize-1, c.FreePages())

	h = c.Handle(nil, nil, false)
	defer h.Close()
	p, err = h.GetPage(n)
	require.NoError(t, err)
	got, ok, err := p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row, got)
	_, err = p.Insert(values([]byte("x")), nil, InsertDefault, 100)
	assert.True(errors.Is(err, ErrContainerReadOnly))
	p.Release()
	_, err = h.AddPage()
	assert.True(errors.Is(err, ErrContainerReadOnly))
}
