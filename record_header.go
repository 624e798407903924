package rawstore

import (
	"fmt"

	"github.com/pkg/errors"
)

// record header status bits
const (
	recordDeleted       uint8 = 0x01
	recordOverflow      uint8 = 0x02
	recordHasFirstField uint8 = 0x04
	recordLongColumn    uint8 = 0x08

	recordValidMask = recordDeleted | recordOverflow | recordHasFirstField | recordLongColumn
)

// maxRecordHeaderSize is the worst case: status, 4 byte id, overflow
// pointer, 4 byte first field, 4 byte field count.
const maxRecordHeaderSize = 1 + maxCompressedIntSize + OverflowPointerSize + maxCompressedIntSize + maxCompressedIntSize

// RecordHeader is the metadata in front of every record portion on a page.
type RecordHeader struct {
	ID        int32
	NumFields int
	// FirstField is the first column held by this portion. It is nonzero
	// only for continuation portions of a split row.
	FirstField int
	Deleted    bool
	// Overflow points at the next portion of the row, if any.
	Overflow *RecordPointer
	// LongColumn marks a portion that owns at least one column chain.
	LongColumn bool
}

// HasOverflow reports whether any part of the record lives on another page.
func (h *RecordHeader) HasOverflow() bool {
	return h.Overflow != nil || h.LongColumn
}

// HasRowOverflow reports whether the row continues in another portion.
func (h *RecordHeader) HasRowOverflow() bool {
	return h.Overflow != nil
}

// EndField is the exclusive upper bound of the columns in this portion.
func (h *RecordHeader) EndField() int {
	return h.FirstField + h.NumFields
}

func (h *RecordHeader) status() uint8 {
	var s uint8
	s = putFlag(s, recordDeleted, h.Deleted)
	s = putFlag(s, recordOverflow, h.Overflow != nil)
	s = putFlag(s, recordHasFirstField, h.FirstField != 0)
	s = putFlag(s, recordLongColumn, h.LongColumn)
	return s
}

// Size returns the exact number of bytes Encode produces.
func (h *RecordHeader) Size() int {
	n := 1 + sizeCompressedInt(int(h.ID))
	if h.Overflow != nil {
		n += h.Overflow.size()
	}
	if h.FirstField != 0 {
		n += sizeCompressedInt(h.FirstField)
	}
	return n + sizeCompressedInt(h.NumFields)
}

// Encode appends the header to dst.
func (h *RecordHeader) Encode(dst []byte) []byte {
	dst = append(dst, h.status())
	dst = appendCompressedInt(dst, int(h.ID))
	if h.Overflow != nil {
		dst = h.Overflow.appendTo(dst)
	}
	if h.FirstField != 0 {
		dst = appendCompressedInt(dst, h.FirstField)
	}
	return appendCompressedInt(dst, h.NumFields)
}

func (h *RecordHeader) clone() *RecordHeader {
	c := *h
	if h.Overflow != nil {
		ptr := *h.Overflow
		c.Overflow = &ptr
	}
	return &c
}

func (h *RecordHeader) String() string {
	s := fmt.Sprintf("id=%d fields=%d", h.ID, h.NumFields)
	if h.FirstField != 0 {
		s += fmt.Sprintf(" first=%d", h.FirstField)
	}
	if h.Deleted {
		s += " deleted"
	}
	if h.Overflow != nil {
		s += " overflow=" + h.Overflow.String()
	}
	if h.LongColumn {
		s += " long"
	}
	return s
}

// decodeRecordHeader reads a header at the cursor position.
func decodeRecordHeader(c *cursor) (*RecordHeader, error) {
	status, err := c.readByte()
	if err != nil {
		return nil, err
	}
	if status&^recordValidMask != 0 {
		return nil, errors.Wrapf(ErrCorruptPage, "record header status %#x", status)
	}
	id, err := c.readCompressedInt()
	if err != nil {
		return nil, err
	}
	h := &RecordHeader{
		ID:         int32(id),
		Deleted:    hasFlag(status, recordDeleted),
		LongColumn: hasFlag(status, recordLongColumn),
	}
	if hasFlag(status, recordOverflow) {
		ptr, err := readRecordPointer(c)
		if err != nil {
			return nil, err
		}
		h.Overflow = &ptr
	}
	if hasFlag(status, recordHasFirstField) {
		if h.FirstField, err = c.readCompressedInt(); err != nil {
			return nil, err
		}
	}
	if h.NumFields, err = c.readCompressedInt(); err != nil {
		return nil, err
	}
	return h, nil
}
