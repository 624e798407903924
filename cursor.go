package rawstore

import (
	"github.com/pkg/errors"
)

// cursor is a read position over a byte slice. Every decoder takes the
// cursor explicitly so the position it leaves behind is visible at the call
// site.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte, pos int) *cursor {
	return &cursor{buf: buf, pos: pos}
}

func (c *cursor) short(n int) error {
	return errors.Wrapf(ErrCorruptPage, "read of %d bytes at %d past end %d", n, c.pos, len(c.buf))
}

func (c *cursor) readByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, c.short(1)
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readCompressedInt() (int, error) {
	if c.pos >= len(c.buf) {
		return 0, c.short(1)
	}
	v, n, err := compressedInt(c.buf[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *cursor) readCompressedLong() (int64, error) {
	if c.pos >= len(c.buf) {
		return 0, c.short(2)
	}
	v, n, err := compressedLong(c.buf[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

// readBytes returns a sub-slice of the underlying buffer, not a copy.
func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, c.short(n)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) skip(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return c.short(n)
	}
	c.pos += n
	return nil
}

func appendCompressedInt(dst []byte, v int) []byte {
	var b [maxCompressedIntSize]byte
	n := putCompressedInt(b[:], v)
	return append(dst, b[:n]...)
}

func appendCompressedLong(dst []byte, v int64) []byte {
	var b [maxCompressedLongSize]byte
	n := putCompressedLong(b[:], v)
	return append(dst, b[:n]...)
}
