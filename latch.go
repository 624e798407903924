package rawstore

import "sync"

// LatchState is the state of a page latch.
type LatchState int

const (
	Unlatched LatchState = iota
	// PreLatch: an owner is assigned but a clean of the page is still in
	// progress.
	PreLatch
	Latched
)

func (s LatchState) String() string {
	switch s {
	case Unlatched:
		return "unlatched"
	case PreLatch:
		return "pre-latch"
	case Latched:
		return "latched"
	}
	return "unknown"
}

// latch is the exclusive access token of one page. It coordinates owners
// with each other and with the cleaner writing the page out.
type latch struct {
	mu   sync.Mutex
	cond *sync.Cond

	owner    *ContainerHandle
	preLatch bool
	inClean  bool
	// nested counts re-latches granted to an owner whose transaction is
	// aborting.
	nested int
}

func (l *latch) state() LatchState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *latch) stateLocked() LatchState {
	switch {
	case l.owner == nil:
		return Unlatched
	case l.preLatch:
		return PreLatch
	}
	return Latched
}

// acquire latches the page for h. Without wait it returns false instead of
// blocking on another owner; it still waits for a clean in progress.
func (l *latch) acquire(h *ContainerHandle, wait bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner != nil {
		if l.owner == h {
			if h.xact.InAbort() {
				l.nested++
				return true
			}
			if !wait {
				return false
			}
			assert(false, "page latched twice by the same handle outside abort")
		}
		if !wait {
			return false
		}
		l.cond.Wait()
	}
	assert(l.nested == 0, "fresh latch grant with nested count %d", l.nested)
	l.owner = h
	l.preLatch = true
	for l.inClean {
		l.cond.Wait()
	}
	l.preLatch = false
	return true
}

// release drops one latch level and reports whether the page is now
// unlatched.
func (l *latch) release(h *ContainerHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	assert(l.owner == h, "latch released by a handle that does not own it")
	if l.nested > 0 {
		l.nested--
		return false
	}
	l.owner = nil
	l.cond.Broadcast()
	return true
}

// forceRelease drops every latch level held by h.
func (l *latch) forceRelease(h *ContainerHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != h {
		return false
	}
	l.nested = 0
	l.owner = nil
	l.cond.Broadcast()
	return true
}

func (l *latch) holder() *ContainerHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.preLatch {
		return nil
	}
	return l.owner
}

// beginClean waits until no owner holds the page latched and marks a clean
// in progress. Owners arriving meanwhile stay in PreLatch.
func (l *latch) beginClean() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inClean || (l.owner != nil && !l.preLatch) {
		l.cond.Wait()
	}
	l.inClean = true
}

// tryBeginClean is beginClean without waiting.
func (l *latch) tryBeginClean() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inClean || (l.owner != nil && !l.preLatch) {
		return false
	}
	l.inClean = true
	return true
}

func (l *latch) cleaning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inClean
}

func (l *latch) endClean() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inClean = false
	l.cond.Broadcast()
}
