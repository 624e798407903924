package rawstore

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

var (
	// DefaultPageSize is the page size used when Options.PageSize is zero.
	DefaultPageSize = 4096
)

// PageTimeStamp identifies one version of one page.
type PageTimeStamp struct {
	Page    PageKey
	Version int64
}

// Page is the in-memory form of one fixed-size page: the byte image, the
// slot directory over its tail and decoded record headers. Every method that
// reads or changes mutable state expects the caller to hold the latch.
type Page struct {
	key    PageKey
	format PageFormat
	c      *Container

	buf     []byte
	header  PageHeader
	slots   slotDirectory
	records []*RecordHeader

	totalSpace    int
	freeSpace     int
	firstFreeByte int
	maxFieldSize  int

	minimumRecordSize int
	spareSpace        int

	lastLog LogInstant
	dirty   bool
	pins    int

	latch latch
}

func newPage(c *Container, format PageFormat, pageSize int) *Page {
	p := &Page{
		c:      c,
		format: format,
		buf:    make([]byte, pageSize),
	}
	p.latch.cond = sync.NewCond(&p.latch.mu)
	if c != nil {
		p.minimumRecordSize = c.opts.MinimumRecordSize
		p.spareSpace = c.opts.SpareSpace
	} else {
		p.minimumRecordSize = DefaultOptions.MinimumRecordSize
	}
	p.slots = newSlotDirectory(p.buf)
	p.slots.fieldSize = format.SlotFieldSize(pageSize)
	p.initSpace()
	p.key = PageKey{Page: InvalidPageNumber}
	return p
}

func (p *Page) initSpace() {
	p.totalSpace = len(p.buf) - recordAreaStart - checksumSize
	p.maxFieldSize = p.totalSpace - p.slots.entrySize() - maxRecordHeaderSize - overflowPtrFieldSize - maxFieldHeaderSize
	p.freeSpace = p.totalSpace - p.slots.bytes()
	p.firstFreeByte = recordAreaStart
}

// setIdentity gives a recycled or fresh instance a page number.
func (p *Page) setIdentity(key PageKey) {
	assert(p.key.Page == InvalidPageNumber, "%s already has identity %s", key, p.key)
	p.key = key
}

// clearIdentity returns the instance to the state newPage leaves it in.
func (p *Page) clearIdentity() {
	assert(p.latch.state() == Unlatched, "clear identity of latched %s", p.key)
	assert(!p.latch.cleaning(), "clear identity of %s while it is cleaned", p.key)
	assert(p.pins == 0, "clear identity of pinned %s", p.key)
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.key = PageKey{Page: InvalidPageNumber}
	p.header = PageHeader{}
	p.slots.count = 0
	p.records = nil
	p.lastLog = 0
	p.dirty = false
	p.initSpace()
}

// initFresh formats the buffer as an empty page.
func (p *Page) initFresh(isOverflow bool, status uint8, nextID int32, version int64) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.header = PageHeader{
		IsOverflow:   isOverflow,
		Status:       status,
		Version:      version,
		NextRecordID: nextID,
	}
	p.slots.count = 0
	p.records = nil
	p.initSpace()
}

// load replaces the page content with a stored image, rebuilding the slot
// directory, header cache and space counters.
func (p *Page) load(image []byte) error {
	if len(image) != len(p.buf) {
		return corruptf(p.key, "image of %d bytes for page size %d", len(image), len(p.buf))
	}
	h, err := ReadPageHeader(image, p.format)
	if err != nil {
		return errors.Wrapf(err, "load %s", p.key)
	}
	copy(p.buf, image)
	p.header = h
	p.slots.count = h.SlotCount
	p.records = make([]*RecordHeader, h.SlotCount)
	if p.slots.bytes() > p.totalSpace {
		return corruptf(p.key, "slot count %d does not fit", h.SlotCount)
	}

	used, end, deleted := 0, recordAreaStart, 0
	for s := 0; s < p.slots.count; s++ {
		e := p.slots.read(s)
		if e.offset < recordAreaStart || e.length <= 0 || e.offset+e.span() > p.slots.low() {
			return corruptf(p.key, "slot %d entry %+v out of bounds", s, e)
		}
		rh, err := decodeRecordHeader(newCursor(p.buf[:e.offset+e.length], e.offset))
		if err != nil {
			return errors.Wrapf(err, "%s slot %d", p.key, s)
		}
		if rh.Deleted {
			deleted++
		}
		p.records[s] = rh
		used += e.span()
		end = maxOf(end, e.offset+e.span())
	}
	p.firstFreeByte = end
	p.freeSpace = p.totalSpace - used - p.slots.bytes()
	if p.firstFreeByte+p.freeSpace != p.slots.low() {
		return corruptf(p.key, "record area is not contiguous: first free %d, free %d, slots at %d",
			p.firstFreeByte, p.freeSpace, p.slots.low())
	}
	if h.DeletedCount >= 0 && h.DeletedCount != deleted {
		return corruptf(p.key, "deleted count %d, records say %d", h.DeletedCount, deleted)
	}
	p.header.DeletedCount = deleted
	p.dirty = false
	return nil
}

// image brings the header and checksum up to date and returns the page
// buffer. The result aliases the page.
func (p *Page) image() []byte {
	binary.BigEndian.PutUint32(p.buf, p.format.FormatID())
	p.header.SlotCount = p.slots.count
	p.format.EncodeHeader(p.buf[formatIDSize:], &p.header)
	putChecksum(p.buf)
	return p.buf
}

// Key returns the page identity.
func (p *Page) Key() PageKey { return p.key }

// PageNumber returns the page number.
func (p *Page) PageNumber() int64 { return p.key.Page }

// Size returns the page size in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Header returns a copy of the page header.
func (p *Page) Header() PageHeader {
	h := p.header
	h.SlotCount = p.slots.count
	return h
}

// IsOverflowPage reports whether the page holds overflow portions only.
func (p *Page) IsOverflowPage() bool { return p.header.IsOverflow }

// IsValid reports whether the page is allocated.
func (p *Page) IsValid() bool { return p.header.Status == PageValid }

// Version returns the page version, bumped by every logged change.
func (p *Page) Version() int64 { return p.header.Version }

// LastLogInstant is the log position of the most recent change.
func (p *Page) LastLogInstant() LogInstant { return p.lastLog }

// CurrentTimeStamp returns a stamp for the current page version.
func (p *Page) CurrentTimeStamp() PageTimeStamp {
	return PageTimeStamp{Page: p.key, Version: p.header.Version}
}

// EqualTimeStamp reports whether the page is unchanged since ts was taken.
func (p *Page) EqualTimeStamp(ts PageTimeStamp) bool {
	return ts.Page == p.key && ts.Version == p.header.Version
}

// RecordCount returns the number of slots in use, deleted records included.
func (p *Page) RecordCount() int { return p.slots.count }

// NonDeletedRecordCount returns the number of records not marked deleted.
func (p *Page) NonDeletedRecordCount() int { return p.slots.count - p.header.DeletedCount }

// FreeSpace returns the bytes not used by records or the slot directory.
func (p *Page) FreeSpace() int { return p.freeSpace }

// TotalSpace is the space between the header and the checksum.
func (p *Page) TotalSpace() int { return p.totalSpace }

// SlotEntrySize is the number of bytes one slot directory entry takes.
func (p *Page) SlotEntrySize() int { return p.slots.entrySize() }

func (p *Page) recordHeader(slot int) (*RecordHeader, error) {
	if err := p.slots.check(slot); err != nil {
		return nil, errors.Wrapf(err, "%s", p.key)
	}
	return p.records[slot], nil
}

// recordBytes returns the on-page bytes of the record portion at slot,
// reserved space excluded.
func (p *Page) recordBytes(slot int) ([]byte, error) {
	e, err := p.slots.get(slot)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", p.key)
	}
	return p.buf[e.offset : e.offset+e.length], nil
}

// fieldCursor returns a cursor positioned at the first field of slot.
func (p *Page) fieldCursor(slot int) (*cursor, *RecordHeader, error) {
	rec, err := p.recordBytes(slot)
	if err != nil {
		return nil, nil, err
	}
	rh := p.records[slot]
	return newCursor(rec, rh.Size()), rh, nil
}

// RecordHandleAtSlot returns the handle of the record at slot.
func (p *Page) RecordHandleAtSlot(slot int) (RecordHandle, error) {
	rh, err := p.recordHeader(slot)
	if err != nil {
		return InvalidRecordHandle, err
	}
	return RecordHandle{Page: p.key, ID: rh.ID, Slot: slot}, nil
}

// FindRecordByID returns the slot of record id, or -1. hint is tried first.
func (p *Page) FindRecordByID(id int32, hint int) int {
	if hint >= 0 && hint < p.slots.count && p.records[hint].ID == id {
		return hint
	}
	for s, rh := range p.records {
		if rh.ID == id {
			return s
		}
	}
	return -1
}

// IsDeletedAtSlot reports the deleted bit of the record at slot.
func (p *Page) IsDeletedAtSlot(slot int) (bool, error) {
	rh, err := p.recordHeader(slot)
	if err != nil {
		return false, err
	}
	return rh.Deleted, nil
}

// EntireRecordOnPage reports whether the record at slot has no portion or
// column on another page.
func (p *Page) EntireRecordOnPage(slot int) (bool, error) {
	rh, err := p.recordHeader(slot)
	if err != nil {
		return false, err
	}
	return !rh.HasOverflow(), nil
}

// RecordHeaderAtSlot returns a copy of the header of the record at slot.
func (p *Page) RecordHeaderAtSlot(slot int) (RecordHeader, error) {
	rh, err := p.recordHeader(slot)
	if err != nil {
		return RecordHeader{}, err
	}
	return *rh.clone(), nil
}

// checkSpace verifies the space accounting invariants. Tests call it after
// every mutation.
func (p *Page) checkSpace() error {
	used := 0
	for s := 0; s < p.slots.count; s++ {
		used += p.slots.read(s).span()
	}
	if p.freeSpace < 0 {
		return corruptf(p.key, "negative free space %d", p.freeSpace)
	}
	if p.freeSpace+used+p.slots.bytes()+recordAreaStart+checksumSize != len(p.buf) {
		return corruptf(p.key, "space does not add up: free %d used %d slots %d", p.freeSpace, used, p.slots.bytes())
	}
	if p.firstFreeByte+p.freeSpace != p.slots.low() {
		return corruptf(p.key, "first free byte %d + free %d != slot table %d", p.firstFreeByte, p.freeSpace, p.slots.low())
	}
	if len(p.records) != p.slots.count {
		return corruptf(p.key, "%d cached headers for %d slots", len(p.records), p.slots.count)
	}
	return nil
}

// LoadPage decodes a stored image into a page that belongs to no
// container. Inspection tools read it without latching.
func LoadPage(key PageKey, image []byte) (*Page, error) {
	p := newPage(nil, StoredFormat, len(image))
	p.key = key
	if err := p.load(image); err != nil {
		return nil, err
	}
	return p, nil
}

// SlotAt returns the record offset, length and reserved space of slot.
func (p *Page) SlotAt(slot int) (offset, length, reserved int, err error) {
	e, err := p.slots.get(slot)
	if err != nil {
		return 0, 0, 0, errors.Wrapf(err, "%s", p.key)
	}
	return e.offset, e.length, e.reserved, nil
}
