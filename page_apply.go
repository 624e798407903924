package rawstore

import (
	"fmt"

	"github.com/pkg/errors"
)

// OpKind names a page mutation.
type OpKind uint8

const (
	OpInitPage OpKind = iota + 1
	OpInsert
	OpUpdate
	OpDelete
	OpPurge
	OpReserveSpace
	OpSetStatus
)

var opKindNames = map[OpKind]string{
	OpInitPage:     "init",
	OpInsert:       "insert",
	OpUpdate:       "update",
	OpDelete:       "delete",
	OpPurge:        "purge",
	OpReserveSpace: "reserve",
	OpSetStatus:    "status",
}

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Operation describes one page mutation completely enough to redo it on the
// page image it was logged against.
type Operation struct {
	Kind    OpKind
	Page    PageKey
	Version int64

	Slot     int
	RecordID int32
	// Data is the full record portion for insert and update.
	Data []byte
	// Reserved is the reserved space of an inserted record, or the new
	// reserved space for OpReserveSpace.
	Reserved int
	// Count is the number of slots purged.
	Count int
	// Flag is the deleted bit for OpDelete and the overflow page flag for
	// OpInitPage.
	Flag         bool
	Status       uint8
	NextRecordID int32
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s %s v%d slot %d record %d", op.Kind, op.Page, op.Version, op.Slot, op.RecordID)
}

// logAndApply hands op to the log and then changes the page. Temporary
// containers are not logged.
func (p *Page) logAndApply(op *Operation) error {
	assert(p.latch.state() == Latched, "%s changed without latch", p.key)
	op.Page = p.key
	op.Version = p.header.Version + 1
	if p.c != nil && !p.c.opts.Temporary && p.c.wal != nil {
		instant, err := p.c.wal.LogBeforeMutation(p, op)
		if err != nil {
			return errors.Wrapf(err, "log %s", op)
		}
		p.lastLog = instant
	}
	err := p.redo(op)
	assert(err == nil, "apply %s: %v", op, err)
	return nil
}

// redo applies op to the page. It is the only code that changes page bytes
// after initialisation, so replaying a page's operations in order rebuilds
// the same image.
func (p *Page) redo(op *Operation) error {
	var err error
	switch op.Kind {
	case OpInitPage:
		p.initFresh(op.Flag, PageValid, op.NextRecordID, op.Version)
	case OpInsert:
		err = p.applyInsert(op.Slot, op.Data, op.Reserved)
	case OpUpdate:
		err = p.applyUpdate(op.Slot, op.Data)
	case OpDelete:
		err = p.applyDelete(op.Slot, op.Flag)
	case OpPurge:
		for i := 0; i < op.Count && err == nil; i++ {
			err = p.applyPurge(op.Slot)
		}
	case OpReserveSpace:
		err = p.applyReserve(op.Slot, op.Reserved)
	case OpSetStatus:
		p.header.Status = op.Status
	default:
		err = errors.Errorf("unknown operation kind %d", op.Kind)
	}
	if err != nil {
		return errors.Wrapf(err, "redo %s", op)
	}
	p.header.Version = op.Version
	p.dirty = true
	return nil
}

func (p *Page) applyInsert(slot int, data []byte, reserved int) error {
	e := slotEntry{offset: p.firstFreeByte, length: len(data), reserved: reserved}
	if need := e.span() + p.slots.entrySize(); need > p.freeSpace {
		return errors.Wrapf(ErrNoSpaceOnPage, "insert needs %d, free %d", need, p.freeSpace)
	}
	rh, err := decodeRecordHeader(newCursor(data, 0))
	if err != nil {
		return err
	}
	copy(p.buf[e.offset:], data)
	zero(p.buf[e.offset+e.length : e.offset+e.span()])
	if err := p.slots.insert(slot, e); err != nil {
		return err
	}
	p.records = append(p.records, nil)
	shiftRight(p.records, slot, len(p.records)-1)
	p.records[slot] = rh

	p.firstFreeByte += e.span()
	p.freeSpace -= e.span() + p.slots.entrySize()
	p.header.NextRecordID = maxOf(p.header.NextRecordID, rh.ID+1)
	if rh.Deleted {
		p.header.DeletedCount++
	}
	return nil
}

func (p *Page) applyUpdate(slot int, data []byte) error {
	e, err := p.slots.get(slot)
	if err != nil {
		return err
	}
	rh, err := decodeRecordHeader(newCursor(data, 0))
	if err != nil {
		return err
	}
	if len(data) > e.span() {
		if err := p.grow(e, len(data)-e.span()); err != nil {
			return err
		}
		e.reserved = 0
	} else {
		e.reserved = e.span() - len(data)
	}
	e.length = len(data)
	copy(p.buf[e.offset:], data)
	zero(p.buf[e.offset+e.length : e.offset+e.span()])
	p.slots.write(slot, e)

	if old := p.records[slot]; old.Deleted != rh.Deleted {
		if rh.Deleted {
			p.header.DeletedCount++
		} else {
			p.header.DeletedCount--
		}
	}
	p.records[slot] = rh
	return nil
}

func (p *Page) applyDelete(slot int, deleted bool) error {
	e, err := p.slots.get(slot)
	if err != nil {
		return err
	}
	rh := p.records[slot]
	if rh.Deleted == deleted {
		return nil
	}
	p.buf[e.offset] = putFlag(p.buf[e.offset], recordDeleted, deleted)
	rh.Deleted = deleted
	if deleted {
		p.header.DeletedCount++
	} else {
		p.header.DeletedCount--
	}
	return nil
}

func (p *Page) applyPurge(slot int) error {
	e, err := p.slots.get(slot)
	if err != nil {
		return err
	}
	p.shrink(e, e.span())
	if err := p.slots.remove(slot); err != nil {
		return err
	}
	if p.records[slot].Deleted {
		p.header.DeletedCount--
	}
	shiftLeft(p.records, slot+1, len(p.records))
	p.records = p.records[:len(p.records)-1]
	p.freeSpace += p.slots.entrySize()
	return nil
}

func (p *Page) applyReserve(slot int, reserved int) error {
	e, err := p.slots.get(slot)
	if err != nil {
		return err
	}
	switch delta := reserved - e.reserved; {
	case delta > 0:
		if err := p.grow(e, delta); err != nil {
			return err
		}
	case delta < 0:
		p.shrink(slotEntry{offset: e.offset + e.length + reserved, length: -delta}, -delta)
	}
	e.reserved = reserved
	zero(p.buf[e.offset+e.length : e.offset+e.span()])
	p.slots.write(slot, e)
	return nil
}

// grow opens delta bytes after the record at e, moving later records up.
func (p *Page) grow(e slotEntry, delta int) error {
	if delta > p.freeSpace {
		return errors.Wrapf(ErrNoSpaceOnPage, "grow by %d, free %d", delta, p.freeSpace)
	}
	end := e.offset + e.span()
	copy(p.buf[end+delta:], p.buf[end:p.firstFreeByte])
	p.slots.relocate(end, delta)
	p.firstFreeByte += delta
	p.freeSpace -= delta
	return nil
}

// shrink closes n bytes that start at e.offset, moving later records down.
func (p *Page) shrink(e slotEntry, n int) {
	end := e.offset + n
	copy(p.buf[e.offset:], p.buf[end:p.firstFreeByte])
	p.slots.relocate(end, -n)
	p.firstFreeByte -= n
	p.freeSpace += n
	zero(p.buf[p.firstFreeByte : p.firstFreeByte+n])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
