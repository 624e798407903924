package rawstore

import (
	"testing"
	"time"

	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowLocks(t *testing.T) {
	assert := assertion.New(t)
	locks := NewRowLocks()
	a, b := NewXact(), NewXact()
	rh := RecordHandle{Page: PageKey{Container: 1, Page: 3}, ID: 4}

	ok, err := locks.LockRecordForRead(a, rh, false, false)
	assert.NoError(err)
	assert.True(ok)
	ok, _ = locks.LockRecordForRead(b, rh, false, false)
	assert.True(ok)
	// shared by two readers, nobody may write
	ok, _ = locks.LockRecordForWrite(a, rh, false, false)
	assert.False(ok)

	locks.Unlock(b, rh)
	assert.False(locks.Holds(b, rh))
	ok, _ = locks.LockRecordForWrite(a, rh, false, false)
	assert.True(ok)
	ok, _ = locks.LockRecordForRead(b, rh, false, false)
	assert.False(ok)
	ok, _ = locks.LockRecordForRead(b, rh, true, false)
	assert.False(ok)
	// re-entrant for the owner
	ok, _ = locks.LockRecordForRead(a, rh, false, false)
	assert.True(ok)
	ok, _ = locks.LockRecordForWrite(a, rh, true, false)
	assert.True(ok)

	other := RecordHandle{Page: rh.Page, ID: 5}
	ok, _ = locks.LockRecordForWrite(b, other, false, false)
	assert.True(ok)

	locks.ReleaseAll(a)
	assert.False(locks.Holds(a, rh))
	assert.True(locks.Holds(b, other))
	ok, _ = locks.LockRecordForWrite(b, rh, false, false)
	assert.True(ok)
}

func TestRowLocksWait(t *testing.T) {
	assert := assertion.New(t)
	locks := NewRowLocks()
	a, b := NewXact(), NewXact()
	rh := RecordHandle{Page: PageKey{Container: 1, Page: 1}, ID: 1}

	ok, _ := locks.LockRecordForWrite(a, rh, false, false)
	require.True(t, ok)
	granted := make(chan bool)
	go func() {
		ok, _ := locks.LockRecordForRead(b, rh, false, true)
		granted <- ok
	}()
	select {
	case <-granted:
		t.Fatal("read lock granted under a write lock")
	case <-time.After(50 * time.Millisecond):
	}
	locks.ReleaseAll(a)
	assert.True(<-granted)
	assert.True(locks.Holds(b, rh))
}

func TestInsertSkipsLockedRecordID(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	locks := NewRowLocks()
	x, y := NewXact(), NewXact()
	h := env.c.Handle(x, locks, false)
	t.Cleanup(h.Close)
	p := env.newPage(t, h)

	// another inserter holds the next id
	ok, _ := locks.LockRecordForWrite(y, RecordHandle{Page: p.Key(), ID: FirstRecordID}, true, false)
	require.True(t, ok)

	rh, err := p.Insert(values([]byte("row")), nil, InsertDefault, 100)
	require.NoError(t, err)
	assert.Equal(FirstRecordID+1, rh.ID)
	assert.True(locks.Holds(x, rh))
	assert.Equal(FirstRecordID+2, p.Header().NextRecordID)
}

func TestFetchWaitsForRecordLock(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	locks := NewRowLocks()
	writer, reader := NewXact(), NewXact()
	hw := env.c.Handle(writer, locks, false)
	t.Cleanup(hw.Close)
	hr := env.c.Handle(reader, locks, false)
	t.Cleanup(hr.Close)

	p := env.newPage(t, hw)
	row := values([]byte("locked"))
	_, err := p.Insert(row, nil, InsertDefault, 100)
	require.NoError(t, err)
	n := p.PageNumber()
	p.Release()

	type result struct {
		row Row
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		q, err := hr.GetPage(n)
		if err != nil {
			done <- result{err: err}
			return
		}
		got, ok, err := q.FetchFromSlot(0, nil)
		q.Release()
		done <- result{got, ok, err}
	}()

	// the reader gives the latch up while it waits for the lock, so the
	// writer can latch the page again
	p, err = hw.GetPage(n)
	require.NoError(t, err)
	select {
	case <-done:
		t.Fatal("read finished under a write lock")
	case <-time.After(50 * time.Millisecond):
	}
	p.Release()
	locks.ReleaseAll(writer)

	select {
	case r := <-done:
		assert.NoError(r.err)
		assert.True(r.ok)
		assert.Equal(row, r.row)
	case <-time.After(5 * time.Second):
		t.Fatal("reader never finished")
	}
	// read locks end with the fetch
	assert.False(locks.Holds(reader, RecordHandle{Page: p.Key(), ID: FirstRecordID}))
}
