package rawstore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	formatIDSize   = 4
	pageHeaderSize = 56
	checksumSize   = 8

	// recordAreaStart is the offset of the first record byte.
	recordAreaStart = formatIDSize + pageHeaderSize

	// StoredPageFormat is the format id of pages written by this package.
	StoredPageFormat uint32 = 0x53504731
)

// page status values
const (
	PageValid   uint8 = 1
	PageInvalid uint8 = 2
)

// PageHeader is the fixed header that follows the format id.
type PageHeader struct {
	IsOverflow     bool
	Status         uint8
	Version        int64
	SlotCount      int
	NextRecordID   int32
	Generation     int32
	PrevGeneration int32
	BIPLocation    int64
	// DeletedCount is -1 when the stored count is unknown and has to be
	// recomputed from the records.
	DeletedCount int
}

// PageFormat is the strategy for the fixed parts of a page image.
type PageFormat interface {
	FormatID() uint32
	EncodeHeader(b []byte, h *PageHeader)
	DecodeHeader(b []byte) (PageHeader, error)
	SlotFieldSize(pageSize int) int
}

// StoredFormat is the default page format.
var StoredFormat PageFormat = storedFormat{}

type storedFormat struct{}

func (storedFormat) FormatID() uint32 { return StoredPageFormat }

func (storedFormat) SlotFieldSize(pageSize int) int { return slotFieldSize(pageSize) }

// EncodeHeader writes h into b, which starts at the header (after the
// format id) and is at least pageHeaderSize long.
func (storedFormat) EncodeHeader(b []byte, h *PageHeader) {
	b = b[:pageHeaderSize]
	if h.IsOverflow {
		b[0] = 1
	} else {
		b[0] = 0
	}
	b[1] = h.Status
	binary.BigEndian.PutUint64(b[2:], uint64(h.Version))
	binary.BigEndian.PutUint16(b[10:], uint16(h.SlotCount))
	binary.BigEndian.PutUint32(b[12:], uint32(h.NextRecordID))
	binary.BigEndian.PutUint32(b[16:], uint32(h.Generation))
	binary.BigEndian.PutUint32(b[20:], uint32(h.PrevGeneration))
	binary.BigEndian.PutUint64(b[24:], uint64(h.BIPLocation))
	binary.BigEndian.PutUint16(b[32:], uint16(h.DeletedCount+1))
	for i := 34; i < pageHeaderSize; i++ {
		b[i] = 0
	}
}

func (storedFormat) DecodeHeader(b []byte) (PageHeader, error) {
	if len(b) < pageHeaderSize {
		return PageHeader{}, errors.Wrapf(ErrCorruptPage, "page header needs %d bytes, have %d", pageHeaderSize, len(b))
	}
	h := PageHeader{
		IsOverflow:     b[0] != 0,
		Status:         b[1],
		Version:        int64(binary.BigEndian.Uint64(b[2:])),
		SlotCount:      int(binary.BigEndian.Uint16(b[10:])),
		NextRecordID:   int32(binary.BigEndian.Uint32(b[12:])),
		Generation:     int32(binary.BigEndian.Uint32(b[16:])),
		PrevGeneration: int32(binary.BigEndian.Uint32(b[20:])),
		BIPLocation:    int64(binary.BigEndian.Uint64(b[24:])),
		DeletedCount:   int(binary.BigEndian.Uint16(b[32:])) - 1,
	}
	if h.Status != PageValid && h.Status != PageInvalid {
		return PageHeader{}, errors.Wrapf(ErrCorruptPage, "page status %d", h.Status)
	}
	return h, nil
}

func pageChecksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf[:len(buf)-checksumSize])
}

func putChecksum(buf []byte) {
	binary.BigEndian.PutUint64(buf[len(buf)-checksumSize:], uint64(pageChecksum(buf)))
}

func verifyChecksum(buf []byte) error {
	stored := binary.BigEndian.Uint64(buf[len(buf)-checksumSize:])
	if computed := uint64(pageChecksum(buf)); stored != computed {
		return errors.Wrapf(ErrBadChecksum, "stored %#x computed %#x", stored, computed)
	}
	return nil
}

// ReadPageHeader decodes the format id and header of a page image after
// verifying its checksum.
func ReadPageHeader(image []byte, format PageFormat) (PageHeader, error) {
	if len(image) < recordAreaStart+checksumSize {
		return PageHeader{}, errors.Wrapf(ErrCorruptPage, "page image of %d bytes", len(image))
	}
	if err := verifyChecksum(image); err != nil {
		return PageHeader{}, err
	}
	if id := binary.BigEndian.Uint32(image); id != format.FormatID() {
		return PageHeader{}, errors.Wrapf(ErrCorruptPage, "format id %#x, want %#x", id, format.FormatID())
	}
	return format.DecodeHeader(image[formatIDSize:])
}
