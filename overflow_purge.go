package rawstore

import (
	"github.com/pkg/errors"
)

// PurgeAtSlot removes count records starting at slot from the page. The
// overflow portions and column chains of each record are removed first,
// except in temporary containers where they are left behind.
func (p *Page) PurgeAtSlot(slot, count int) error {
	h, err := p.writer()
	if err != nil {
		return err
	}
	if count < 1 || slot < FirstSlot || slot+count > p.slots.count {
		return errors.Wrapf(ErrSlotOutOfRange, "purge %d records at slot %d of %s with %d slots", count, slot, p.key, p.slots.count)
	}
	ids := make([]int32, count)
	for i := range ids {
		ids[i] = p.records[slot+i].ID
	}
	for i, id := range ids {
		s := p.FindRecordByID(id, slot+i)
		if s < 0 {
			return errors.Wrapf(ErrRecordVanished, "record %d of %s", id, p.key)
		}
		if _, err := p.lockRecord(h, s, true); err != nil {
			return err
		}
	}
	// slots may have moved while a lock was waited for
	start := p.FindRecordByID(ids[0], slot)
	for i, id := range ids {
		if start < 0 || start+i >= p.slots.count || p.records[start+i].ID != id {
			return errors.Wrapf(ErrRecordVanished, "records to purge on %s moved", p.key)
		}
	}

	if !h.c.opts.Temporary {
		for i := 0; i < count; i++ {
			if err := h.purgeChains(p, start+i); err != nil {
				return err
			}
		}
	}
	return p.logAndApply(&Operation{Kind: OpPurge, Slot: start, RecordID: ids[0], Count: count})
}

// purgeChains removes the column chains and the row continuation of the
// record portion at slot. The portion itself stays.
func (h *ContainerHandle) purgeChains(p *Page, slot int) error {
	rh := p.records[slot]
	if !rh.HasOverflow() {
		return nil
	}
	if err := h.purgeColumnsAt(p, slot); err != nil {
		return err
	}
	if rh.Overflow == nil {
		return nil
	}
	next := rh.Overflow.clone()
	for next != nil {
		np, err := h.GetPage(next.Page)
		if errors.Is(err, ErrInvalidPage) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "row portion %s", next)
		}
		s := np.FindRecordByID(next.ID, -1)
		if s < 0 {
			np.Release()
			return nil
		}
		if err := h.purgeColumnsAt(np, s); err != nil {
			np.Release()
			return err
		}
		next = nil
		if ov := np.records[s].Overflow; ov != nil {
			next = ov.clone()
		}
		if err := h.purgePortion(np, s); err != nil {
			return err
		}
	}
	return nil
}

func (h *ContainerHandle) purgeColumnsAt(p *Page, slot int) error {
	ptrs, err := p.pointerFields(slot)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		if err := h.purgeColumnChain(ptr); err != nil {
			return err
		}
	}
	return nil
}

// purgeColumnChain removes every piece of the column chain at ptr. A chain
// that is already gone is not an error.
func (h *ContainerHandle) purgeColumnChain(ptr RecordPointer) error {
	for next := &ptr; next != nil; {
		p, err := h.GetPage(next.Page)
		if errors.Is(err, ErrInvalidPage) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "long column piece %s", next)
		}
		slot := p.FindRecordByID(next.ID, -1)
		if slot < 0 {
			p.Release()
			return nil
		}
		links, err := p.pointerFields(slot)
		if err != nil {
			p.Release()
			return err
		}
		next = nil
		if len(links) > 0 {
			next = &links[0]
		}
		if err := h.purgePortion(p, slot); err != nil {
			return err
		}
	}
	return nil
}

// purgePortion purges one overflow portion and releases its page, freeing
// the page when nothing is left on it.
func (h *ContainerHandle) purgePortion(p *Page, slot int) error {
	err := p.logAndApply(&Operation{Kind: OpPurge, Slot: slot, RecordID: p.records[slot].ID, Count: 1})
	if err != nil {
		p.Release()
		return err
	}
	if p.slots.count == 0 {
		return h.RemovePage(p)
	}
	p.Release()
	return nil
}
