package rawstore

// insertBudget is the space a new record may take, its slot entry aside.
func (p *Page) insertBudget() int { return p.freeSpace - p.slots.entrySize() }

func (p *Page) policy(overflow bool, threshold int) encodePolicy {
	return encodePolicy{
		overflow:          overflow,
		threshold:         threshold,
		minimumRecordSize: p.minimumRecordSize,
	}
}

// AllowInsert reports whether the page may take another record. An empty
// page always may; otherwise the space left after one more slot entry must
// hold a minimum record and stay above the spare space percentage.
func (p *Page) AllowInsert() bool {
	if p.slots.count == 0 {
		return true
	}
	space := p.freeSpace - p.slots.entrySize()
	if space < p.minimumRecordSize {
		return false
	}
	return space*100/p.totalSpace >= p.spareSpace
}

// Unfilled reports whether the page is worth remembering as an insert
// target: it allows inserts and is less than half full.
func (p *Page) Unfilled() bool {
	return p.AllowInsert() && p.freeSpace > len(p.buf)/2
}

// SpaceForCopy reports whether records of the given sizes could be copied
// onto the page.
func (p *Page) SpaceForCopy(sizes ...int) bool {
	need := len(sizes) * p.slots.entrySize()
	for _, n := range sizes {
		need += maxOf(n, p.minimumRecordSize)
	}
	return p.freeSpace >= need
}

// SpaceForInsert reports whether an insert of row without overflow would
// succeed. It runs the same encoding the insert does.
func (p *Page) SpaceForInsert(row Row, valid ColumnSet, threshold int) bool {
	if !p.AllowInsert() {
		return false
	}
	hdr := RecordHeader{ID: maxOf(p.header.NextRecordID, FirstRecordID)}
	res := encodeRecord(hdr, insertSources(row, valid), p.insertBudget(), p.maxFieldSize, p.policy(false, threshold))
	return res.outcome == encodeFit
}

// MaxFieldSize is the largest column that fits on a page of this size
// together with a worst case record header and overflow pointer.
func (p *Page) MaxFieldSize() int { return p.maxFieldSize }

// MaxDataLength is the largest piece of a long column one page holds at
// the given threshold.
func (p *Page) MaxDataLength(threshold int) int {
	return p.totalSpace * threshold / 100
}

// insertSources turns a row into encoder input. Columns outside valid are
// written as non-existent fields.
func insertSources(row Row, valid ColumnSet) []fieldSource {
	sources := make([]fieldSource, len(row))
	for i, col := range row {
		if valid.Has(i) {
			sources[i] = valueSource(col)
		} else {
			sources[i] = fieldSource{nonexistent: true}
		}
	}
	return sources
}
