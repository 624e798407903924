package rawstore

import "github.com/pkg/errors"

// Compressed number formats. They are part of the on-page format and must
// never change.
//
// int:
//	1 byte  00xxxxxx                             value <= 0x3f
//	2 bytes 01xxxxxx xxxxxxxx                    value <= 0x3fff
//	4 bytes 1xxxxxxx xxxxxxxx xxxxxxxx xxxxxxxx  value <= MaxInt32
//
// long:
//	2 bytes 00xxxxxx xxxxxxxx                    value <= 0x3fff
//	4 bytes 01xxxxxx xxxxxxxx xxxxxxxx xxxxxxxx  value <= 0x3fffffff
//	8 bytes 1xxxxxxx ...                         value <= MaxInt64
const (
	maxCompressedIntSize  = 4
	maxCompressedLongSize = 8

	maxCompressedIntOneByte  = 0x3f
	maxCompressedIntTwoBytes = 0x3fff
	maxCompressedLongTwo     = 0x3fff
	maxCompressedLongFour    = 0x3fffffff
)

func sizeCompressedInt(v int) int {
	switch {
	case v <= maxCompressedIntOneByte:
		return 1
	case v <= maxCompressedIntTwoBytes:
		return 2
	default:
		return 4
	}
}

func sizeCompressedLong(v int64) int {
	switch {
	case v <= maxCompressedLongTwo:
		return 2
	case v <= maxCompressedLongFour:
		return 4
	default:
		return 8
	}
}

// putCompressedInt writes v at b[0:] and returns the number of bytes used.
// b must have room for sizeCompressedInt(v) bytes.
func putCompressedInt(b []byte, v int) int {
	assert(v >= 0, "compressed int %d is negative", v)
	switch {
	case v <= maxCompressedIntOneByte:
		b[0] = byte(v)
		return 1
	case v <= maxCompressedIntTwoBytes:
		b[0] = byte(0x40 | (v >> 8))
		b[1] = byte(v)
		return 2
	default:
		b[0] = byte((v>>24)|0x80) & 0xff
		b[1] = byte(v >> 16)
		b[2] = byte(v >> 8)
		b[3] = byte(v)
		return 4
	}
}

func putCompressedLong(b []byte, v int64) int {
	assert(v >= 0, "compressed long %d is negative", v)
	switch {
	case v <= maxCompressedLongTwo:
		b[0] = byte(v >> 8)
		b[1] = byte(v)
		return 2
	case v <= maxCompressedLongFour:
		b[0] = byte((v >> 24) | 0x40)
		b[1] = byte(v >> 16)
		b[2] = byte(v >> 8)
		b[3] = byte(v)
		return 4
	default:
		b[0] = byte((v>>56)|0x80) & 0xff
		b[1] = byte(v >> 48)
		b[2] = byte(v >> 40)
		b[3] = byte(v >> 32)
		b[4] = byte(v >> 24)
		b[5] = byte(v >> 16)
		b[6] = byte(v >> 8)
		b[7] = byte(v)
		return 8
	}
}

// compressedInt decodes an int at b[0:] and returns it with its length.
func compressedInt(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, errors.Wrap(ErrCorruptPage, "compressed int: short buffer")
	}
	v := int(b[0])
	switch {
	case v&^0x3f == 0:
		return v, 1, nil
	case v&0x80 == 0:
		if len(b) < 2 {
			return 0, 0, errors.Wrap(ErrCorruptPage, "compressed int: short buffer")
		}
		return (v&0x3f)<<8 | int(b[1]), 2, nil
	default:
		if len(b) < 4 {
			return 0, 0, errors.Wrap(ErrCorruptPage, "compressed int: short buffer")
		}
		return (v&0x7f)<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]), 4, nil
	}
}

func compressedLong(b []byte) (int64, int, error) {
	if len(b) < 2 {
		return 0, 0, errors.Wrap(ErrCorruptPage, "compressed long: short buffer")
	}
	v := int64(b[0])
	switch {
	case v&0xc0 == 0:
		return v<<8 | int64(b[1]), 2, nil
	case v&0x80 == 0:
		if len(b) < 4 {
			return 0, 0, errors.Wrap(ErrCorruptPage, "compressed long: short buffer")
		}
		return (v&0x3f)<<24 | int64(b[1])<<16 | int64(b[2])<<8 | int64(b[3]), 4, nil
	default:
		if len(b) < 8 {
			return 0, 0, errors.Wrap(ErrCorruptPage, "compressed long: short buffer")
		}
		var r int64 = v & 0x7f
		for i := 1; i < 8; i++ {
			r = r<<8 | int64(b[i])
		}
		return r, 8, nil
	}
}
