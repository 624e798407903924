package rawstore

import "sync/atomic"

// Transaction is the view of a transaction the page layer needs.
type Transaction interface {
	ID() uint64
	// InAbort reports whether the transaction is rolling back. An aborting
	// owner may latch a page it already holds.
	InAbort() bool
}

var lastXactID uint64

// Xact is a minimal Transaction.
type Xact struct {
	id    uint64
	abort int32
}

// NewXact returns a transaction with a process-unique id.
func NewXact() *Xact {
	return &Xact{id: atomic.AddUint64(&lastXactID, 1)}
}

func (x *Xact) ID() uint64 { return x.id }

func (x *Xact) InAbort() bool { return atomic.LoadInt32(&x.abort) != 0 }

// SetInAbort marks the start or end of abort processing.
func (x *Xact) SetInAbort(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&x.abort, v)
}
