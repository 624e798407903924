package rawstore

import (
	"bytes"

	"github.com/pkg/errors"
)

// field status bits
const (
	fieldNull        uint8 = 0x01
	fieldOverflow    uint8 = 0x02
	fieldNonexistent uint8 = 0x04
	fieldExtensible  uint8 = 0x08
	fieldFixed       uint8 = 0x40

	fieldValidMask = fieldNull | fieldOverflow | fieldNonexistent | fieldExtensible | fieldFixed
)

const (
	// OverflowPointerSize is the worst case size of a (page, record id)
	// pointer: an 8 byte compressed long and a 4 byte compressed int.
	OverflowPointerSize = maxCompressedLongSize + maxCompressedIntSize

	// overflowPtrFieldSize is a whole pointer field: status, one byte
	// length, pointer.
	overflowPtrFieldSize = 2 + OverflowPointerSize

	maxFieldHeaderSize = 1 + maxCompressedIntSize
)

// Column is one column value. Values are opaque byte strings.
type Column struct {
	Data []byte
	Null bool
}

// Value returns a non-null column holding b.
func Value(b []byte) Column { return Column{Data: b} }

// NullColumn returns a null column.
func NullColumn() Column { return Column{Null: true} }

// Equal reports whether two columns hold the same value.
func (c Column) Equal(o Column) bool {
	if c.Null || o.Null {
		return c.Null == o.Null
	}
	return bytes.Equal(c.Data, o.Data)
}

func (c Column) clone() Column {
	if c.Null {
		return c
	}
	return Column{Data: append([]byte{}, c.Data...)}
}

// Row is an ordered list of columns.
type Row []Column

// Equal reports whether two rows hold the same values.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// fieldSource is what the encoder writes for one column: a value, a pointer
// to a column chain that already exists, or a non-existent placeholder.
type fieldSource struct {
	col         Column
	ptr         *RecordPointer
	nonexistent bool
}

func valueSource(c Column) fieldSource { return fieldSource{col: c} }

func pointerSource(p RecordPointer) fieldSource { return fieldSource{ptr: &p} }

func (s fieldSource) status() uint8 {
	switch {
	case s.ptr != nil:
		return fieldOverflow
	case s.nonexistent:
		return fieldNonexistent
	case s.col.Null:
		return fieldNull
	}
	return 0
}

func (s fieldSource) dataLen() int {
	switch {
	case s.ptr != nil:
		return s.ptr.size()
	case s.nonexistent, s.col.Null:
		return 0
	}
	return len(s.col.Data)
}

// size is the number of bytes the field occupies on a page.
func (s fieldSource) size() int {
	n := s.dataLen()
	return 1 + sizeCompressedInt(n) + n
}

func (s fieldSource) appendTo(dst []byte) []byte {
	dst = append(dst, s.status())
	dst = appendCompressedInt(dst, s.dataLen())
	switch {
	case s.ptr != nil:
		return s.ptr.appendTo(dst)
	case s.nonexistent, s.col.Null:
		return dst
	}
	return append(dst, s.col.Data...)
}

// fieldInfo is a decoded field header and the location of its data.
type fieldInfo struct {
	status  uint8
	data    []byte
	pointer RecordPointer
}

func (f *fieldInfo) isNull() bool        { return hasFlag(f.status, fieldNull) }
func (f *fieldInfo) isOverflow() bool    { return hasFlag(f.status, fieldOverflow) }
func (f *fieldInfo) isNonexistent() bool { return hasFlag(f.status, fieldNonexistent) }

// column returns a copy of the field value. Non-existent fields read as
// null.
func (f *fieldInfo) column() Column {
	if f.isNull() || f.isNonexistent() {
		return NullColumn()
	}
	return Column{Data: append([]byte{}, f.data...)}
}

// source returns the field in the form the encoder rewrites it.
func (f *fieldInfo) source() fieldSource {
	switch {
	case f.isOverflow():
		return pointerSource(f.pointer)
	case f.isNonexistent():
		return fieldSource{nonexistent: true}
	}
	return valueSource(f.column())
}

// decodeField reads one field at the cursor. The returned data aliases the
// cursor's buffer.
func decodeField(c *cursor) (fieldInfo, error) {
	status, err := c.readByte()
	if err != nil {
		return fieldInfo{}, err
	}
	if status&^fieldValidMask != 0 {
		return fieldInfo{}, errors.Wrapf(ErrCorruptPage, "field status %#x", status)
	}
	n, err := c.readCompressedInt()
	if err != nil {
		return fieldInfo{}, err
	}
	f := fieldInfo{status: status}
	if f.isOverflow() {
		end := c.pos + n
		if f.pointer, err = readRecordPointer(c); err != nil {
			return fieldInfo{}, err
		}
		if c.pos != end {
			return fieldInfo{}, errors.Wrapf(ErrCorruptPage, "overflow field length %d does not match pointer", n)
		}
		return f, nil
	}
	if (f.isNull() || f.isNonexistent()) && n != 0 {
		return fieldInfo{}, errors.Wrapf(ErrCorruptPage, "empty field with length %d", n)
	}
	if f.data, err = c.readBytes(n); err != nil {
		return fieldInfo{}, err
	}
	return f, nil
}

// skipField advances the cursor past one field.
func skipField(c *cursor) error {
	if err := c.skip(1); err != nil {
		return err
	}
	n, err := c.readCompressedInt()
	if err != nil {
		return err
	}
	return c.skip(n)
}
