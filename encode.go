package rawstore

type encodeOutcome int

const (
	// encodeFit: every field was written.
	encodeFit encodeOutcome = iota
	// encodeNoSpace: nothing useful fits; try another page.
	encodeNoSpace
	// encodePartial: a prefix of the fields fits and the rest continue in
	// another portion.
	encodePartial
	// encodeLongColumn: a column must move to its own chain before the
	// record can be written.
	encodeLongColumn
)

func (o encodeOutcome) String() string {
	switch o {
	case encodeFit:
		return "fit"
	case encodeNoSpace:
		return "no space"
	case encodePartial:
		return "partial"
	case encodeLongColumn:
		return "long column"
	}
	return "unknown"
}

// encodePolicy controls how a record that does not fit is handled.
type encodePolicy struct {
	// overflow permits partial portions and long column chains.
	overflow bool
	// threshold is the percentage of the largest field size above which a
	// column is long.
	threshold int
	// allowEmpty accepts a portion that carries no fields, only the pointer
	// to its continuation.
	allowEmpty bool
	// minimumRecordSize pads short records on insert.
	minimumRecordSize int
}

// encodeResult is what one encode step decided.
type encodeResult struct {
	outcome encodeOutcome
	// header is final for encodeFit. For encodePartial the caller sets
	// Overflow to the continuation before writing.
	header RecordHeader
	body   []byte
	// fields is the number of sources written.
	fields int
	// long is the index of the long column for encodeLongColumn.
	long int
	// space is the budget not used by the portion.
	space int
}

// record returns the encoded portion, header first.
func (r *encodeResult) record() []byte {
	out := make([]byte, 0, r.header.Size()+len(r.body))
	out = r.header.Encode(out)
	return append(out, r.body...)
}

// reserved is the space to keep after the record so it meets the minimum
// record size.
func (r *encodeResult) reserved(minimum int) int {
	return maxOf(0, minimum-(r.header.Size()+len(r.body)))
}

// isLong reports whether a field of size bytes has to live in its own chain.
func isLong(size, maxFieldSize, threshold int) bool {
	return size > maxFieldSize*threshold/100
}

// encodeRecord lays out sources behind hdr within budget bytes. It never
// touches a page; callers write the result through the log. hdr.Overflow is
// the continuation the portion keeps when every field fits.
func encodeRecord(hdr RecordHeader, sources []fieldSource, budget, maxFieldSize int, pol encodePolicy) encodeResult {
	headerSize := func(n int, withPointer bool) int {
		h := hdr
		h.NumFields = n
		size := h.Size()
		if withPointer {
			if h.Overflow != nil {
				size -= h.Overflow.size()
			}
			size += OverflowPointerSize
		}
		return size
	}
	padded := func(n int) int { return maxOf(n, pol.minimumRecordSize) }

	var body []byte
	ends := make([]int, 0, len(sources))
	longColumn := false

	split := func() encodeResult {
		if !pol.overflow {
			return encodeResult{outcome: encodeNoSpace}
		}
		k := len(ends)
		for k > 0 && padded(headerSize(k, true)+ends[k-1]) > budget {
			k--
		}
		if k == 0 && (!pol.allowEmpty || padded(headerSize(0, true)) > budget) {
			return encodeResult{outcome: encodeNoSpace}
		}
		n := 0
		if k > 0 {
			n = ends[k-1]
		}
		h := hdr
		h.NumFields = k
		h.Overflow = nil
		h.LongColumn = false
		for _, s := range sources[:k] {
			h.LongColumn = h.LongColumn || s.ptr != nil
		}
		return encodeResult{
			outcome: encodePartial,
			header:  h,
			body:    body[:n],
			fields:  k,
			space:   budget - headerSize(k, true) - n,
		}
	}

	for i, src := range sources {
		size := src.size()
		last := i == len(sources)-1
		if src.ptr == nil && !src.nonexistent && !src.col.Null && isLong(size, maxFieldSize, pol.threshold) {
			if !pol.overflow {
				return encodeResult{outcome: encodeNoSpace}
			}
			used := headerSize(len(ends)+1, !last) + len(body)
			if padded(used+overflowPtrFieldSize) <= budget {
				return encodeResult{outcome: encodeLongColumn, long: i, space: budget - used}
			}
			return split()
		}
		if padded(headerSize(len(ends)+1, false)+len(body)+size) > budget {
			return split()
		}
		body = src.appendTo(body)
		ends = append(ends, len(body))
		longColumn = longColumn || src.ptr != nil
	}

	h := hdr
	h.NumFields = len(sources)
	h.LongColumn = longColumn
	return encodeResult{
		outcome: encodeFit,
		header:  h,
		body:    body,
		fields:  len(sources),
		space:   budget - h.Size() - len(body),
	}
}
