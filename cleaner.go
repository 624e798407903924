package rawstore

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// reclaimWork is a column chain that an update replaced. It is freed after
// commit unless the record points at it again by then.
type reclaimWork struct {
	// owner is the record portion that pointed at the chain.
	owner RecordHandle
	chain RecordPointer
	// stamp is the owner page right after the pointer was replaced.
	stamp   PageTimeStamp
	locking LockingPolicy
}

type reclaimQueue struct {
	mu   sync.Mutex
	work []reclaimWork
}

func (q *reclaimQueue) add(w ...reclaimWork) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.work = append(q.work, w...)
}

func (q *reclaimQueue) take() []reclaimWork {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := q.work
	q.work = nil
	return w
}

func (q *reclaimQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.work)
}

// PendingReclaims returns the number of queued orphaned chains.
func (c *Container) PendingReclaims() int { return c.reclaim.len() }

// RunPostCommit processes the queued chain reclamations once. Work whose
// owner page or record is busy is queued again for the next run.
func (c *Container) RunPostCommit() error {
	var firstErr error
	for _, w := range c.reclaim.take() {
		done, err := c.reclaimChain(w)
		if err != nil {
			c.log.WithFields(log.Fields{"page": w.owner.Page.Page, "record": w.owner.ID}).WithError(err).Warn("chain reclamation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !done {
			c.reclaim.add(w)
		}
	}
	return firstErr
}

// reclaimChain frees w.chain if it is still orphaned. It reports false when
// it could not look without waiting.
func (c *Container) reclaimChain(w reclaimWork) (bool, error) {
	x := NewXact()
	h := c.Handle(x, w.locking, false)
	defer h.Close()

	p, err := h.GetPageNoWait(w.owner.Page.Page)
	if errors.Is(err, ErrInvalidPage) {
		// the owner is gone and its purge only followed live pointers
		return true, h.purgeColumnChain(w.chain)
	}
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	defer p.Release()

	granted, err := w.locking.LockRecordForRead(x, w.owner, false, false)
	if err != nil || !granted {
		return false, err
	}
	defer w.locking.Unlock(x, w.owner)

	orphaned := p.EqualTimeStamp(w.stamp)
	if !orphaned {
		slot := p.FindRecordByID(w.owner.ID, w.owner.Slot)
		if slot < 0 {
			orphaned = true
		} else {
			ptrs, err := p.pointerFields(slot)
			if err != nil {
				return false, err
			}
			orphaned = true
			for _, ptr := range ptrs {
				if ptr == w.chain {
					orphaned = false
				}
			}
		}
	}
	if !orphaned {
		c.log.WithFields(log.Fields{"page": w.owner.Page.Page, "record": w.owner.ID}).Debug("column chain is referenced again, kept")
		return true, nil
	}
	c.log.WithFields(log.Fields{"page": w.chain.Page, "record": w.chain.ID}).Debug("reclaiming orphaned column chain")
	return true, h.purgeColumnChain(w.chain)
}

// cleaner flushes dirty pages and runs post-commit work in the background.
type cleaner struct {
	c    *Container
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func startCleaner(c *Container, interval time.Duration) *cleaner {
	cl := &cleaner{c: c, quit: make(chan struct{}), done: make(chan struct{})}
	go cl.run(interval)
	return cl
}

func (cl *cleaner) run(interval time.Duration) {
	defer close(cl.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.quit:
			return
		case <-ticker.C:
			cl.pass()
		}
	}
}

// pass writes out every dirty page that is not latched and runs queued
// reclamation.
func (cl *cleaner) pass() {
	if err := cl.c.cleanAll(false); err != nil {
		cl.c.log.WithError(err).Error("background clean failed")
		return
	}
	if err := cl.c.RunPostCommit(); err != nil {
		cl.c.log.WithError(err).Warn("post-commit work failed")
	}
}

func (cl *cleaner) stop() {
	cl.once.Do(func() { close(cl.quit) })
	<-cl.done
}
