package rawstore

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// layoutPortion encodes sources as the portion hdr describes within budget
// bytes of p. Long columns are moved to chains of their own and the fields
// that do not fit are written to continuation portions first, so the
// returned record is final and p is the last page written. It reports
// false when nothing fits on p.
func (h *ContainerHandle) layoutPortion(p *Page, hdr RecordHeader, sources []fieldSource, budget, threshold int, allowEmpty bool) ([]byte, bool, error) {
	pol := p.policy(true, threshold)
	pol.allowEmpty = allowEmpty
	res, sources, err := h.encodeChaining(p, hdr, sources, budget, pol)
	if err != nil {
		return nil, false, err
	}
	switch res.outcome {
	case encodeNoSpace:
		return nil, false, nil
	case encodeFit:
		return res.record(), true, nil
	}
	ptr, err := h.insertContinuation(sources[res.fields:], hdr.FirstField+res.fields, threshold, hdr.Overflow)
	if err != nil {
		return nil, false, err
	}
	res.header.Overflow = &ptr
	return res.record(), true, nil
}

// encodeChaining encodes until the outcome is not a long column, giving
// each long column its chain. It returns the sources with the chained
// columns replaced by pointers.
func (h *ContainerHandle) encodeChaining(p *Page, hdr RecordHeader, sources []fieldSource, budget int, pol encodePolicy) (encodeResult, []fieldSource, error) {
	copied := false
	for {
		res := encodeRecord(hdr, sources, budget, p.maxFieldSize, pol)
		if res.outcome != encodeLongColumn {
			return res, sources, nil
		}
		ptr, err := h.insertLongColumn(sources[res.long].col.Data)
		if err != nil {
			return encodeResult{}, nil, err
		}
		if !copied {
			sources = append([]fieldSource{}, sources...)
			copied = true
		}
		sources[res.long] = pointerSource(ptr)
	}
}

// insertContinuation writes sources as a new portion on an overflow page,
// continuing further when needed, and returns a pointer to it. The last
// portion points at next.
func (h *ContainerHandle) insertContinuation(sources []fieldSource, first, threshold int, next *RecordPointer) (RecordPointer, error) {
	cp, err := h.continuationPage(sources, first, threshold)
	if err != nil {
		return RecordPointer{}, err
	}
	defer cp.Release()

	id := maxOf(cp.header.NextRecordID, FirstRecordID)
	hdr := RecordHeader{ID: id, FirstField: first, Overflow: next}
	rec, ok, err := h.layoutPortion(cp, hdr, sources, cp.insertBudget(), threshold, false)
	if err != nil {
		return RecordPointer{}, err
	}
	if !ok {
		return RecordPointer{}, errors.Wrapf(ErrNoSpaceOnPage, "continuation from column %d on %s", first, cp.key)
	}
	slot := cp.slots.count
	if err := cp.writeInsert(slot, id, rec); err != nil {
		return RecordPointer{}, err
	}
	h.c.log.WithFields(cp.logFields(slot)).WithField("first", first).Debug("row continues on overflow page")
	return RecordPointer{Page: cp.key.Page, ID: id}, nil
}

// continuationPage returns a latched overflow page that can take at least
// the first of sources. The last overflow page is tried without waiting
// before a new one is allocated. Pages the handle already holds are
// skipped, so a row never continues on a page it passed through.
func (h *ContainerHandle) continuationPage(sources []fieldSource, first, threshold int) (*Page, error) {
	if n := h.c.alloc.overflowHint(); n != InvalidPageNumber && !h.holds(n) {
		p, err := h.getPage(n, false, false)
		if err != nil && !errors.Is(err, ErrPageNotFound) {
			return nil, err
		}
		if p != nil {
			if p.IsValid() && p.IsOverflowPage() && p.AllowInsert() {
				hdr := RecordHeader{ID: maxOf(p.header.NextRecordID, FirstRecordID), FirstField: first}
				res := encodeRecord(hdr, sources, p.insertBudget(), p.maxFieldSize, p.policy(true, threshold))
				if res.outcome != encodeNoSpace {
					return p, nil
				}
			}
			p.Release()
		}
	}
	p, err := h.allocPage(true)
	if err != nil {
		return nil, err
	}
	h.c.alloc.noteOverflow(p.key.Page)
	return p, nil
}

// insertLongColumn stores data as a chain of single-record overflow pages
// and returns a pointer to the first piece. Every piece but the last has a
// second field pointing at the next piece. Each piece is written once: the
// next page is allocated before the piece pointing at it.
func (h *ContainerHandle) insertLongColumn(data []byte) (RecordPointer, error) {
	cur, err := h.allocPage(true)
	if err != nil {
		return RecordPointer{}, err
	}
	var head RecordPointer
	size, pages := len(data), 0
	for {
		id := maxOf(cur.header.NextRecordID, FirstRecordID)
		if pages == 0 {
			head = RecordPointer{Page: cur.key.Page, ID: id}
		}
		pages++
		budget := cur.insertBudget()
		piece := RecordHeader{ID: id, NumFields: 1}
		if rest := valueSource(Value(data)); piece.Size()+rest.size() <= budget {
			err := cur.writeInsert(cur.slots.count, id, rest.appendTo(piece.Encode(nil)))
			cur.Release()
			if err != nil {
				return RecordPointer{}, err
			}
			h.c.log.WithFields(log.Fields{
				"page":  head.Page,
				"pages": pages,
				"size":  humanize.IBytes(uint64(size)),
			}).Debug("long column chain written")
			return head, nil
		}

		piece.NumFields = 2
		avail := budget - piece.Size() - overflowPtrFieldSize
		n := minOf(avail-1-sizeCompressedInt(avail), cur.MaxDataLength(100))
		next, err := h.allocPage(true)
		if err != nil {
			cur.Release()
			return RecordPointer{}, err
		}
		link := RecordPointer{Page: next.key.Page, ID: maxOf(next.header.NextRecordID, FirstRecordID)}
		rec := piece.Encode(nil)
		rec = valueSource(Value(data[:n])).appendTo(rec)
		rec = pointerSource(link).appendTo(rec)
		err = cur.writeInsert(cur.slots.count, id, rec)
		cur.Release()
		if err != nil {
			next.Release()
			return RecordPointer{}, err
		}
		data = data[n:]
		cur = next
	}
}

// readLongColumn reads the column chain starting at ptr.
func (h *ContainerHandle) readLongColumn(ptr RecordPointer) ([]byte, error) {
	var out []byte
	for next := &ptr; next != nil; {
		p, err := h.GetPage(next.Page)
		if err != nil {
			return nil, errors.Wrapf(err, "long column piece %s", next)
		}
		slot := p.FindRecordByID(next.ID, -1)
		if slot < 0 {
			p.Release()
			return nil, errors.Wrapf(ErrRecordVanished, "long column piece %s", next)
		}
		fields, _, err := p.fields(slot)
		if err != nil {
			p.Release()
			return nil, err
		}
		if len(fields) < 1 || len(fields) > 2 || fields[0].isOverflow() {
			p.Release()
			return nil, corruptf(p.key, "long column piece %s has %d fields", next, len(fields))
		}
		out = append(out, fields[0].data...)
		next = nil
		if len(fields) == 2 {
			if !fields[1].isOverflow() {
				p.Release()
				return nil, corruptf(p.key, "long column piece %s has no link", ptr)
			}
			link := fields[1].pointer
			next = &link
		}
		p.Release()
	}
	return out, nil
}

type pendingColumn struct {
	col int
	ptr RecordPointer
}

// assemble reads the record whose head portion is at slot of p, following
// the row chain only as far as the wanted columns go. Qualifiers that only
// touch columns already read from the head are checked before the chain
// is followed.
func (h *ContainerHandle) assemble(p *Page, slot int, cols ColumnSet, quals []Qualifier) (Row, bool, error) {
	want := cols
	if want != nil && len(quals) > 0 {
		want = append(ColumnSet{}, cols...)
		for _, q := range quals {
			want = want.Add(q.Column)
		}
	}

	var row Row
	var pending []pendingColumn
	collect := func(pg *Page, s int) (*RecordPointer, error) {
		fields, rh, err := pg.fields(s)
		if err != nil {
			return nil, err
		}
		for len(row) < rh.EndField() {
			row = append(row, NullColumn())
		}
		for i := range fields {
			col := rh.FirstField + i
			if !want.Has(col) {
				continue
			}
			if fields[i].isOverflow() {
				pending = append(pending, pendingColumn{col: col, ptr: fields[i].pointer})
				continue
			}
			row[col] = fields[i].column()
		}
		if rh.Overflow == nil {
			return nil, nil
		}
		next := *rh.Overflow
		return &next, nil
	}

	next, err := collect(p, slot)
	if err != nil {
		return nil, false, err
	}
	checked := false
	if len(quals) > 0 && qualifiersReady(quals, len(row), pending) {
		if !matchAll(quals, row) {
			return nil, false, nil
		}
		checked = true
	}

	for next != nil && (want == nil || want.Len() > len(row)) {
		np, err := h.GetPage(next.Page)
		if err != nil {
			return nil, false, errors.Wrapf(err, "row portion %s", next)
		}
		s := np.FindRecordByID(next.ID, -1)
		if s < 0 {
			np.Release()
			return nil, false, errors.Wrapf(ErrRecordVanished, "row portion %s", next)
		}
		next, err = collect(np, s)
		np.Release()
		if err != nil {
			return nil, false, err
		}
	}

	for _, pc := range pending {
		data, err := h.readLongColumn(pc.ptr)
		if err != nil {
			return nil, false, err
		}
		row[pc.col] = Value(data)
	}
	if !checked && !matchAll(quals, row) {
		return nil, false, nil
	}
	if cols != nil {
		for i := range row {
			if !cols.Has(i) {
				row[i] = NullColumn()
			}
		}
	}
	return row, true, nil
}

// qualifiersReady reports whether every qualifier column has been read
// from the first end columns.
func qualifiersReady(quals []Qualifier, end int, pending []pendingColumn) bool {
	for _, q := range quals {
		if q.Column >= end {
			return false
		}
		for _, pc := range pending {
			if pc.col == q.Column {
				return false
			}
		}
	}
	return true
}
