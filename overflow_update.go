package rawstore

import (
	"github.com/pkg/errors"
)

// updateRecord rewrites every portion of the record at slot of p that
// holds a column in valid. Chains of replaced long columns are handed to
// post-commit reclamation.
func (h *ContainerHandle) updateRecord(p *Page, slot int, row Row, valid ColumnSet, threshold int) error {
	cur, curSlot := p, slot
	release := func() {
		if cur != p {
			cur.Release()
		}
	}
	for {
		fields, rh, err := cur.fields(curSlot)
		if err != nil {
			release()
			return err
		}
		end := rh.EndField()
		last := rh.Overflow == nil
		var next RecordPointer
		if !last {
			next = *rh.Overflow
		}

		if valid.anyIn(rh.FirstField, minOf(end, len(row))) || (last && valid.anyIn(end, len(row))) {
			sources, replaced := updateSources(fields, rh, row, valid, last)
			hdr := *rh.clone()
			hdr.NumFields = 0
			if err := h.rewritePortion(cur, curSlot, hdr, sources, threshold); err != nil {
				release()
				return err
			}
			stamp := cur.CurrentTimeStamp()
			for _, ptr := range replaced {
				h.deferReclaim(reclaimWork{
					owner:   RecordHandle{Page: cur.key, ID: rh.ID, Slot: curSlot},
					chain:   ptr,
					stamp:   stamp,
					locking: h.locking,
				})
			}
		}

		if last || !valid.anyIn(end, len(row)) {
			release()
			return nil
		}
		release()
		np, err := h.GetPage(next.Page)
		if err != nil {
			return errors.Wrapf(err, "row portion %s", next)
		}
		cur = np
		if curSlot = np.FindRecordByID(next.ID, -1); curSlot < 0 {
			release()
			return errors.Wrapf(ErrRecordVanished, "row portion %s", next)
		}
	}
}

// updateSources builds the new field list of one portion. Fields not in
// valid keep their stored form, pointers included. The last portion also
// takes the columns past the end of the record. The pointers of replaced
// long columns are returned.
func updateSources(fields []fieldInfo, rh *RecordHeader, row Row, valid ColumnSet, last bool) ([]fieldSource, []RecordPointer) {
	sources := make([]fieldSource, 0, len(fields))
	var replaced []RecordPointer
	for i := range fields {
		col := rh.FirstField + i
		if col < len(row) && valid.Has(col) {
			sources = append(sources, valueSource(row[col].clone()))
			if fields[i].isOverflow() {
				replaced = append(replaced, fields[i].pointer)
			}
			continue
		}
		sources = append(sources, fields[i].source())
	}
	if last {
		for col := rh.EndField(); col < len(row); col++ {
			if valid.Has(col) {
				sources = append(sources, valueSource(row[col].clone()))
			} else {
				sources = append(sources, fieldSource{nonexistent: true})
			}
		}
	}
	return sources, replaced
}

// rewritePortion replaces the portion at slot with sources. The portion
// may use its own space plus the free space of the page; what does not fit
// is written to a new continuation that points at the old one, before the
// portion itself is changed.
func (h *ContainerHandle) rewritePortion(p *Page, slot int, hdr RecordHeader, sources []fieldSource, threshold int) error {
	e := p.slots.read(slot)
	budget := p.freeSpace + e.span()
	rec, ok, err := h.layoutPortion(p, hdr, sources, budget, threshold, true)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrNoSpaceOnPage, "%s slot %d cannot hold a continuation pointer", p.key, slot)
	}
	if err := p.logAndApply(&Operation{Kind: OpUpdate, Slot: slot, RecordID: hdr.ID, Data: rec}); err != nil {
		return err
	}
	if p.records[slot].HasRowOverflow() && (hdr.Overflow == nil || *p.records[slot].Overflow != *hdr.Overflow) {
		h.c.log.WithFields(p.logFields(slot)).Debug("updated row continues on overflow page")
	}
	return nil
}
