package rawstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// slotEntry locates one record portion in the record area.
type slotEntry struct {
	offset   int
	length   int
	reserved int
}

func (e slotEntry) span() int { return e.length + e.reserved }

// slotDirectory is the table at the tail of a page. Entry 0 sits just
// below the checksum and the table grows toward the record area.
type slotDirectory struct {
	buf       []byte
	fieldSize int
	count     int
}

func newSlotDirectory(buf []byte) slotDirectory {
	return slotDirectory{buf: buf, fieldSize: slotFieldSize(len(buf))}
}

func slotFieldSize(pageSize int) int {
	if pageSize < 65536 {
		return 2
	}
	return 4
}

func (d *slotDirectory) entrySize() int { return 3 * d.fieldSize }

// bytes is the space the directory takes on the page.
func (d *slotDirectory) bytes() int { return d.count * d.entrySize() }

func (d *slotDirectory) entryOffset(slot int) int {
	return len(d.buf) - checksumSize - (slot+1)*d.entrySize()
}

// low is the lowest byte the directory occupies.
func (d *slotDirectory) low() int { return d.entryOffset(d.count - 1) }

func (d *slotDirectory) check(slot int) error {
	if slot < 0 || slot >= d.count {
		return errors.Wrapf(ErrSlotOutOfRange, "slot %d of %d", slot, d.count)
	}
	return nil
}

func (d *slotDirectory) get(slot int) (slotEntry, error) {
	if err := d.check(slot); err != nil {
		return slotEntry{}, err
	}
	return d.read(slot), nil
}

func (d *slotDirectory) read(slot int) slotEntry {
	at := d.entryOffset(slot)
	return slotEntry{
		offset:   d.readField(at),
		length:   d.readField(at + d.fieldSize),
		reserved: d.readField(at + 2*d.fieldSize),
	}
}

func (d *slotDirectory) set(slot int, e slotEntry) error {
	if err := d.check(slot); err != nil {
		return err
	}
	d.write(slot, e)
	return nil
}

func (d *slotDirectory) write(slot int, e slotEntry) {
	at := d.entryOffset(slot)
	d.writeField(at, e.offset)
	d.writeField(at+d.fieldSize, e.length)
	d.writeField(at+2*d.fieldSize, e.reserved)
}

// insert opens slot, moving slot..count-1 up by one.
func (d *slotDirectory) insert(slot int, e slotEntry) error {
	if slot < 0 || slot > d.count {
		return errors.Wrapf(ErrSlotOutOfRange, "insert at slot %d of %d", slot, d.count)
	}
	es := d.entrySize()
	if slot < d.count {
		from := d.entryOffset(d.count - 1)
		to := d.entryOffset(slot) + es
		copy(d.buf[from-es:], d.buf[from:to])
	}
	d.count++
	d.write(slot, e)
	return nil
}

// remove closes slot, moving slot+1..count-1 down by one and clearing the
// vacated tail entry.
func (d *slotDirectory) remove(slot int) error {
	if err := d.check(slot); err != nil {
		return err
	}
	es := d.entrySize()
	if slot < d.count-1 {
		from := d.entryOffset(d.count - 1)
		to := d.entryOffset(slot+1) + es
		copy(d.buf[from+es:], d.buf[from:to])
	}
	tail := d.entryOffset(d.count - 1)
	for i := tail; i < tail+es; i++ {
		d.buf[i] = 0
	}
	d.count--
	return nil
}

// relocate moves every record that starts at or after from by delta.
func (d *slotDirectory) relocate(from, delta int) {
	for s := 0; s < d.count; s++ {
		e := d.read(s)
		if e.offset >= from {
			e.offset += delta
			d.write(s, e)
		}
	}
}

func (d *slotDirectory) readField(at int) int {
	if d.fieldSize == 2 {
		return int(binary.BigEndian.Uint16(d.buf[at:]))
	}
	return int(binary.BigEndian.Uint32(d.buf[at:]))
}

func (d *slotDirectory) writeField(at, v int) {
	if d.fieldSize == 2 {
		binary.BigEndian.PutUint16(d.buf[at:], uint16(v))
		return
	}
	binary.BigEndian.PutUint32(d.buf[at:], uint32(v))
}
