package rawstore

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// LockingPolicy decides how records are locked. Page operations lock before
// they read the deleted bit or change a record; the policy decides how long
// locks are held.
type LockingPolicy interface {
	LockRecordForRead(x Transaction, rh RecordHandle, forUpdate, wait bool) (bool, error)
	LockRecordForWrite(x Transaction, rh RecordHandle, forInsert, wait bool) (bool, error)
	// Unlock releases a read lock early. Write locks are kept.
	Unlock(x Transaction, rh RecordHandle)
}

// NoLocking grants every request.
type NoLocking struct{}

func (NoLocking) LockRecordForRead(Transaction, RecordHandle, bool, bool) (bool, error) {
	return true, nil
}

func (NoLocking) LockRecordForWrite(Transaction, RecordHandle, bool, bool) (bool, error) {
	return true, nil
}

func (NoLocking) Unlock(Transaction, RecordHandle) {}

const lockShards = 32

type rowKey struct {
	container uint64
	page      int64
	id        int32
}

func (k rowKey) hash() uint64 {
	var b [20]byte
	binary.BigEndian.PutUint64(b[0:], k.container)
	binary.BigEndian.PutUint64(b[8:], uint64(k.page))
	binary.BigEndian.PutUint32(b[16:], uint32(k.id))
	return xxhash.Sum64(b[:])
}

type rowLock struct {
	writer  uint64
	readers map[uint64]int
}

func (l *rowLock) idle() bool { return l.writer == 0 && len(l.readers) == 0 }

type lockShard struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[rowKey]*rowLock
}

// RowLocks is a shared/exclusive record lock table. Write locks last until
// ReleaseAll; read locks until Unlock or ReleaseAll. There is no deadlock
// detection; callers that may deadlock use the no-wait form.
type RowLocks struct {
	shards [lockShards]*lockShard
}

func NewRowLocks() *RowLocks {
	r := &RowLocks{}
	for i := range r.shards {
		s := &lockShard{locks: make(map[rowKey]*rowLock)}
		s.cond = sync.NewCond(&s.mu)
		r.shards[i] = s
	}
	return r
}

func (r *RowLocks) shard(k rowKey) *lockShard {
	return r.shards[k.hash()%lockShards]
}

func keyOf(rh RecordHandle) rowKey {
	return rowKey{container: rh.Page.Container, page: rh.Page.Page, id: rh.ID}
}

func (r *RowLocks) LockRecordForRead(x Transaction, rh RecordHandle, forUpdate, wait bool) (bool, error) {
	if forUpdate {
		return r.LockRecordForWrite(x, rh, false, wait)
	}
	k := keyOf(rh)
	s := r.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		l := s.get(k)
		if l.writer == 0 || l.writer == x.ID() {
			l.readers[x.ID()]++
			return true, nil
		}
		if !wait {
			s.dropIfIdle(k, l)
			return false, nil
		}
		s.cond.Wait()
	}
}

func (r *RowLocks) LockRecordForWrite(x Transaction, rh RecordHandle, forInsert, wait bool) (bool, error) {
	k := keyOf(rh)
	s := r.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		l := s.get(k)
		if (l.writer == 0 || l.writer == x.ID()) && l.onlyReader(x.ID()) {
			l.writer = x.ID()
			return true, nil
		}
		if !wait {
			s.dropIfIdle(k, l)
			return false, nil
		}
		s.cond.Wait()
	}
}

func (r *RowLocks) Unlock(x Transaction, rh RecordHandle) {
	k := keyOf(rh)
	s := r.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		return
	}
	if n := l.readers[x.ID()]; n > 1 {
		l.readers[x.ID()] = n - 1
	} else {
		delete(l.readers, x.ID())
	}
	s.dropIfIdle(k, l)
	s.cond.Broadcast()
}

// ReleaseAll drops every lock held by x, as at commit or abort.
func (r *RowLocks) ReleaseAll(x Transaction) {
	for _, s := range r.shards {
		s.mu.Lock()
		for k, l := range s.locks {
			if l.writer == x.ID() {
				l.writer = 0
			}
			delete(l.readers, x.ID())
			s.dropIfIdle(k, l)
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Holds reports whether x holds any lock on rh.
func (r *RowLocks) Holds(x Transaction, rh RecordHandle) bool {
	k := keyOf(rh)
	s := r.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		return false
	}
	return l.writer == x.ID() || l.readers[x.ID()] > 0
}

func (s *lockShard) get(k rowKey) *rowLock {
	l, ok := s.locks[k]
	if !ok {
		l = &rowLock{readers: make(map[uint64]int)}
		s.locks[k] = l
	}
	return l
}

func (s *lockShard) dropIfIdle(k rowKey, l *rowLock) {
	if l.idle() {
		delete(s.locks, k)
	}
}

func (l *rowLock) onlyReader(id uint64) bool {
	for r := range l.readers {
		if r != id {
			return false
		}
	}
	return true
}
