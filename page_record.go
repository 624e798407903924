package rawstore

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// InsertFlag selects what an insert may do when the row does not fit.
type InsertFlag uint8

const (
	// InsertDefault writes the whole row on the page or nothing.
	InsertDefault InsertFlag = 1 << iota
	// InsertOverflow splits the row across pages and moves long columns
	// into chains of their own.
	InsertOverflow
)

// DefaultThreshold is the overflow threshold used by updates.
const DefaultThreshold = 100

func (p *Page) owner() *ContainerHandle {
	h := p.latch.holder()
	assert(h != nil, "%s used without latch", p.key)
	return h
}

func (p *Page) writer() (*ContainerHandle, error) {
	h := p.owner()
	if err := h.writable(); err != nil {
		return nil, err
	}
	return h, nil
}

// lockRecord locks the record at slot through the handle's locking policy.
// When the lock is not granted at once the latch is given up while
// waiting, so the record is searched for again by id afterwards.
func (p *Page) lockRecord(h *ContainerHandle, slot int, write bool) (int, error) {
	rh := RecordHandle{Page: p.key, ID: p.records[slot].ID, Slot: slot}
	lock := func(wait bool) (bool, error) {
		if write {
			return h.locking.LockRecordForWrite(h.xact, rh, false, wait)
		}
		return h.locking.LockRecordForRead(h.xact, rh, false, wait)
	}
	granted, err := lock(false)
	if err != nil || granted {
		return slot, err
	}
	if h.xact.InAbort() {
		// an aborting owner may hold the latch nested; wait latched
		_, err := lock(true)
		return slot, err
	}

	p.latch.release(h)
	_, err = lock(true)
	p.latch.acquire(h, true)
	if err != nil {
		return -1, err
	}
	if slot = p.FindRecordByID(rh.ID, slot); slot < 0 {
		return -1, errors.Wrapf(ErrRecordVanished, "%s", rh)
	}
	return slot, nil
}

// reserveRecordID picks the id for a record inserted at slot: the next id
// of the page whose write lock can be had without waiting. Ids held by
// other inserters are skipped.
func (p *Page) reserveRecordID(h *ContainerHandle, slot int) (int32, error) {
	id := maxOf(p.header.NextRecordID, FirstRecordID)
	for {
		rh := RecordHandle{Page: p.key, ID: id, Slot: slot}
		granted, err := h.locking.LockRecordForWrite(h.xact, rh, true, false)
		if err != nil {
			return InvalidRecordID, err
		}
		if granted {
			return id, nil
		}
		id++
	}
}

// writeInsert logs and applies the insert of an encoded record.
func (p *Page) writeInsert(slot int, id int32, rec []byte) error {
	return p.logAndApply(&Operation{
		Kind:     OpInsert,
		Slot:     slot,
		RecordID: id,
		Data:     rec,
		Reserved: maxOf(0, p.minimumRecordSize-len(rec)),
	})
}

func checkThreshold(threshold int) error {
	if threshold < 1 || threshold > 100 {
		return errors.Errorf("overflow threshold %d out of range [1, 100]", threshold)
	}
	return nil
}

// Insert adds row after the last slot. See InsertAtSlot.
func (p *Page) Insert(row Row, valid ColumnSet, flag InsertFlag, threshold int) (RecordHandle, error) {
	return p.InsertAtSlot(p.slots.count, row, valid, flag, threshold)
}

// InsertAtSlot inserts row at slot, moving later slots up. Columns outside
// valid are stored as non-existent. When the row does not fit the result is
// InvalidRecordHandle with a nil error, and the caller tries another page.
// With InsertOverflow the row may continue on overflow pages; threshold is
// the percentage of a page above which a column gets a chain of its own.
func (p *Page) InsertAtSlot(slot int, row Row, valid ColumnSet, flag InsertFlag, threshold int) (RecordHandle, error) {
	h, err := p.writer()
	if err != nil {
		return InvalidRecordHandle, err
	}
	if slot < FirstSlot || slot > p.slots.count {
		return InvalidRecordHandle, errors.Wrapf(ErrSlotOutOfRange, "insert at slot %d of %s with %d slots", slot, p.key, p.slots.count)
	}
	if err := checkThreshold(threshold); err != nil {
		return InvalidRecordHandle, err
	}
	if !p.AllowInsert() {
		return InvalidRecordHandle, nil
	}
	id, err := p.reserveRecordID(h, slot)
	if err != nil {
		return InvalidRecordHandle, err
	}
	sources := insertSources(row, valid)
	hdr := RecordHeader{ID: id}

	var rec []byte
	if hasFlag(flag, InsertOverflow) {
		var ok bool
		rec, ok, err = h.layoutPortion(p, hdr, sources, p.insertBudget(), threshold, false)
		if err != nil || !ok {
			return InvalidRecordHandle, err
		}
	} else {
		res := encodeRecord(hdr, sources, p.insertBudget(), p.maxFieldSize, p.policy(false, threshold))
		if res.outcome != encodeFit {
			return InvalidRecordHandle, nil
		}
		rec = res.record()
	}
	if err := p.writeInsert(slot, id, rec); err != nil {
		return InvalidRecordHandle, err
	}
	h.c.alloc.noteInsert(p.key.Page, p.Unfilled())
	return RecordHandle{Page: p.key, ID: id, Slot: slot}, nil
}

// FetchFromSlot reads the record at slot. It returns false for a deleted
// record. Only the columns in cols are filled in; the others read as null.
func (p *Page) FetchFromSlot(slot int, cols ColumnSet) (Row, bool, error) {
	return p.FetchQualified(slot, cols, nil)
}

// FetchQualified is FetchFromSlot that also returns false when the row
// does not satisfy every qualifier.
func (p *Page) FetchQualified(slot int, cols ColumnSet, quals []Qualifier) (Row, bool, error) {
	h := p.owner()
	if err := h.usable(); err != nil {
		return nil, false, err
	}
	if err := p.slots.check(slot); err != nil {
		return nil, false, errors.Wrapf(err, "%s", p.key)
	}
	slot, err := p.lockRecord(h, slot, false)
	if err != nil {
		return nil, false, err
	}
	rh := RecordHandle{Page: p.key, ID: p.records[slot].ID, Slot: slot}
	defer h.locking.Unlock(h.xact, rh)
	if p.records[slot].Deleted {
		return nil, false, nil
	}
	return h.assemble(p, slot, cols, quals)
}

// Fetch reads the record handle names. The slot in the handle is only a
// hint.
func (p *Page) Fetch(handle RecordHandle, cols ColumnSet) (Row, bool, error) {
	if handle.Page != p.key {
		return nil, false, errors.Wrapf(ErrInvalidRecordHandle, "%s is not on %s", handle, p.key)
	}
	slot := p.FindRecordByID(handle.ID, handle.Slot)
	if slot < 0 {
		return nil, false, errors.Wrapf(ErrRecordVanished, "%s", handle)
	}
	return p.FetchFromSlot(slot, cols)
}

// FetchNumFieldsAtSlot returns the number of columns of the record at
// slot, following its row chain.
func (p *Page) FetchNumFieldsAtSlot(slot int) (int, error) {
	rh, err := p.recordHeader(slot)
	if err != nil {
		return 0, err
	}
	if rh.Overflow == nil {
		return rh.EndField(), nil
	}
	h := p.owner()
	next := *rh.Overflow
	for {
		np, err := h.GetPage(next.Page)
		if err != nil {
			return 0, err
		}
		s := np.FindRecordByID(next.ID, -1)
		if s < 0 {
			np.Release()
			return 0, errors.Wrapf(ErrRecordVanished, "portion %s", next)
		}
		part := np.records[s]
		np.Release()
		if part.Overflow == nil {
			return part.EndField(), nil
		}
		next = *part.Overflow
	}
}

// DeleteAtSlot sets or clears the deleted bit of the record at slot.
func (p *Page) DeleteAtSlot(slot int, delete bool) (RecordHandle, error) {
	h, err := p.writer()
	if err != nil {
		return InvalidRecordHandle, err
	}
	if err := p.slots.check(slot); err != nil {
		return InvalidRecordHandle, errors.Wrapf(err, "%s", p.key)
	}
	if slot, err = p.lockRecord(h, slot, true); err != nil {
		return InvalidRecordHandle, err
	}
	rh := p.records[slot]
	handle := RecordHandle{Page: p.key, ID: rh.ID, Slot: slot}
	switch {
	case delete && rh.Deleted:
		return handle, errors.Wrapf(ErrAlreadyDeleted, "%s", handle)
	case !delete && !rh.Deleted:
		return handle, errors.Wrapf(ErrNotDeleted, "%s", handle)
	}
	err = p.logAndApply(&Operation{Kind: OpDelete, Slot: slot, RecordID: rh.ID, Flag: delete})
	return handle, err
}

// UpdateAtSlot replaces the columns in valid with the values in row. It
// returns false when the record is deleted. Columns past the end of the
// record are appended; a row that outgrows the page continues on overflow
// pages.
func (p *Page) UpdateAtSlot(slot int, row Row, valid ColumnSet) (bool, error) {
	h, err := p.writer()
	if err != nil {
		return false, err
	}
	if err := p.slots.check(slot); err != nil {
		return false, errors.Wrapf(err, "%s", p.key)
	}
	if slot, err = p.lockRecord(h, slot, true); err != nil {
		return false, err
	}
	if p.records[slot].Deleted {
		return false, nil
	}
	if err := h.updateRecord(p, slot, row, valid, DefaultThreshold); err != nil {
		return false, err
	}
	return true, nil
}

// SetReservedSpace changes the space kept free after the record at slot.
func (p *Page) SetReservedSpace(slot, reserved int) error {
	if _, err := p.writer(); err != nil {
		return err
	}
	e, err := p.slots.get(slot)
	if err != nil {
		return errors.Wrapf(err, "%s", p.key)
	}
	if reserved < 0 {
		return errors.Errorf("negative reserved space %d", reserved)
	}
	if delta := reserved - e.reserved; delta > p.freeSpace {
		return errors.Wrapf(ErrNoSpaceOnPage, "reserve %d more bytes at slot %d, free %d", delta, slot, p.freeSpace)
	}
	return p.logAndApply(&Operation{Kind: OpReserveSpace, Slot: slot, RecordID: p.records[slot].ID, Reserved: reserved})
}

// fields decodes every field of the portion at slot. Field data aliases
// the page.
func (p *Page) fields(slot int) ([]fieldInfo, *RecordHeader, error) {
	c, rh, err := p.fieldCursor(slot)
	if err != nil {
		return nil, nil, err
	}
	out := make([]fieldInfo, rh.NumFields)
	for i := range out {
		if out[i], err = decodeField(c); err != nil {
			return nil, nil, errors.Wrapf(err, "%s slot %d field %d", p.key, slot, i)
		}
	}
	return out, rh, nil
}

// pointerFields returns the column chain pointers held by the portion at
// slot.
func (p *Page) pointerFields(slot int) ([]RecordPointer, error) {
	fields, _, err := p.fields(slot)
	if err != nil {
		return nil, err
	}
	var ptrs []RecordPointer
	for i := range fields {
		if fields[i].isOverflow() {
			ptrs = append(ptrs, fields[i].pointer)
		}
	}
	return ptrs, nil
}

func (p *Page) logFields(slot int) log.Fields {
	return log.Fields{"page": p.key.Page, "slot": slot, "record": p.records[slot].ID}
}
