package rawstore

import (
	"errors"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestSlotFieldSize(t *testing.T) {
	assert := assertion.New(t)
	assert.Equal(2, slotFieldSize(4096))
	assert.Equal(2, slotFieldSize(32768))
	assert.Equal(4, slotFieldSize(65536))
	assert.Equal(4, slotFieldSize(131072))
}

func TestSlotDirectory(t *testing.T) {
	assert := assertion.New(t)
	buf := make([]byte, 1024)
	d := newSlotDirectory(buf)
	assert.Equal(6, d.entrySize())
	assert.Equal(1024-checksumSize-6, d.entryOffset(0))
	assert.Equal(1024-checksumSize, d.low())

	a := slotEntry{offset: 60, length: 10, reserved: 2}
	b := slotEntry{offset: 72, length: 20}
	c := slotEntry{offset: 92, length: 5, reserved: 7}
	assert.NoError(d.insert(0, a))
	assert.NoError(d.insert(1, c))
	assert.NoError(d.insert(1, b))
	assert.Equal(3, d.count)
	assert.Equal(18, d.bytes())
	assert.Equal(a, d.read(0))
	assert.Equal(b, d.read(1))
	assert.Equal(c, d.read(2))
	assert.Equal(12, c.span())

	d.relocate(72, 4)
	assert.Equal(a, d.read(0))
	assert.Equal(76, d.read(1).offset)
	assert.Equal(96, d.read(2).offset)

	low := d.low()
	assert.NoError(d.remove(1))
	assert.Equal(2, d.count)
	assert.Equal(a, d.read(0))
	assert.Equal(96, d.read(1).offset)
	// the vacated entry is cleared
	for i := low; i < low+d.entrySize(); i++ {
		assert.Equal(byte(0), buf[i])
	}

	_, err := d.get(2)
	assert.True(errors.Is(err, ErrSlotOutOfRange))
	assert.True(errors.Is(d.set(-1, a), ErrSlotOutOfRange))
	assert.True(errors.Is(d.insert(4, a), ErrSlotOutOfRange))
	assert.True(errors.Is(d.remove(2), ErrSlotOutOfRange))
}

func TestSlotDirectoryWideFields(t *testing.T) {
	assert := assertion.New(t)
	buf := make([]byte, 1<<16)
	d := newSlotDirectory(buf)
	assert.Equal(12, d.entrySize())

	e := slotEntry{offset: 70000, length: 65000, reserved: 3}
	assert.NoError(d.insert(0, e))
	got, err := d.get(0)
	assert.NoError(err)
	assert.Equal(e, got)
}
