package rawstore

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wideRow(cols, size int) Row {
	r := make(Row, cols)
	for i := range r {
		r[i] = Value(pattern(size, byte(i)))
	}
	return r
}

func TestLongColumn(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)
	free := env.c.FreePages()

	data := pattern(10000, 7)
	rh, err := p.Insert(values(data), nil, InsertOverflow, 100)
	require.NoError(t, err)
	require.True(t, rh.Valid())
	assert.NoError(p.checkSpace())

	hdr, err := p.RecordHeaderAtSlot(rh.Slot)
	assert.NoError(err)
	assert.True(hdr.HasOverflow())
	assert.True(hdr.LongColumn)
	assert.False(hdr.HasRowOverflow())
	entire, err := p.EntireRecordOnPage(rh.Slot)
	assert.NoError(err)
	assert.False(entire)

	// three pieces of at most a page each
	assert.Equal(free-3, env.c.FreePages())
	for n := int64(2); n <= 4; n++ {
		op, err := h.GetPage(n)
		require.NoError(t, err)
		assert.True(op.IsOverflowPage())
		assert.Equal(1, op.RecordCount())
		assert.NoError(op.checkSpace())
		op.Release()
	}

	got, ok, err := p.FetchFromSlot(rh.Slot, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(values(data), got)
	assert.Equal(1, h.LatchedPages())
}

func TestLongColumnNotRead(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)

	row := values([]byte("head"), pattern(9000, 1), []byte("tail"))
	_, err := p.Insert(row, nil, InsertOverflow, 100)
	require.NoError(t, err)

	got, ok, err := p.FetchFromSlot(0, Columns(0, 2))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(Row{Value([]byte("head")), NullColumn(), Value([]byte("tail"))}, got)

	got, ok, err = p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row, got)
}

func TestLongColumnThreshold(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)
	free := env.c.FreePages()

	// 1000 bytes is long at a 10% threshold
	row := values([]byte("k"), pattern(1000, 3))
	_, err := p.Insert(row, nil, InsertOverflow, 10)
	require.NoError(t, err)
	hdr, err := p.RecordHeaderAtSlot(0)
	assert.NoError(err)
	assert.True(hdr.LongColumn)
	assert.Equal(free-1, env.c.FreePages())

	got, ok, err := p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row, got)
}

func TestRowOverflow(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)

	row := wideRow(10, 1000)
	rh, err := p.Insert(row, nil, InsertOverflow, 100)
	require.NoError(t, err)
	require.True(t, rh.Valid())
	assert.NoError(p.checkSpace())

	hdr, err := p.RecordHeaderAtSlot(0)
	assert.NoError(err)
	assert.True(hdr.HasRowOverflow())
	assert.False(hdr.LongColumn)
	assert.Equal(0, hdr.FirstField)
	assert.Equal(3, hdr.NumFields)

	// the continuations hold the rest in column order
	cp, err := h.GetPage(hdr.Overflow.Page)
	require.NoError(t, err)
	assert.True(cp.IsOverflowPage())
	part, err := cp.RecordHeaderAtSlot(cp.FindRecordByID(hdr.Overflow.ID, -1))
	assert.NoError(err)
	assert.Equal(3, part.FirstField)
	assert.True(part.HasRowOverflow())
	cp.Release()

	n, err := p.FetchNumFieldsAtSlot(0)
	assert.NoError(err)
	assert.Equal(10, n)

	got, ok, err := p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row, got)

	got, ok, err = p.FetchFromSlot(0, Columns(0, 9))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(10, len(got))
	assert.Equal(row[0], got[0])
	assert.Equal(row[9], got[9])
	assert.True(got[5].Null)

	// columns on the head portion do not follow the chain
	got, ok, err = p.FetchFromSlot(0, Columns(1))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(3, len(got))
	assert.Equal(row[1], got[1])
	assert.Equal(1, h.LatchedPages())
}

func TestRowOverflowSharesContinuationPage(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)
	free := env.c.FreePages()

	// the first row takes the head page and one continuation; the second
	// row continues on the same overflow page
	_, err := p.Insert(wideRow(3, 1500), nil, InsertOverflow, 100)
	require.NoError(t, err)
	assert.Equal(free-1, env.c.FreePages())

	q, err := h.AddPage()
	require.NoError(t, err)
	_, err = q.Insert(wideRow(3, 1500), nil, InsertOverflow, 100)
	require.NoError(t, err)
	assert.Equal(free-2, env.c.FreePages())

	a, _ := p.RecordHeaderAtSlot(0)
	b, _ := q.RecordHeaderAtSlot(0)
	assert.Equal(a.Overflow.Page, b.Overflow.Page)
	assert.NotEqual(a.Overflow.ID, b.Overflow.ID)

	got, ok, err := q.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(wideRow(3, 1500), got)
}

func TestFetchQualified(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)

	row := wideRow(10, 1000)
	_, err := p.Insert(row, nil, InsertOverflow, 100)
	require.NoError(t, err)

	match := []Qualifier{{Column: 0, Op: Equal, Value: row[0].Data}}
	got, ok, err := p.FetchQualified(0, Columns(9), match)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row[9], got[9])
	assert.True(got[0].Null)

	miss := []Qualifier{{Column: 0, Op: Equal, Value: []byte("nope")}}
	got, ok, err = p.FetchQualified(0, Columns(9), miss)
	assert.NoError(err)
	assert.False(ok)
	assert.Nil(got)

	// a qualifier on a continuation column
	late := []Qualifier{{Column: 8, Op: Greater, Value: []byte{0}}}
	got, ok, err = p.FetchQualified(0, Columns(1), late)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(row[1], got[1])
	assert.True(got[8].Null)

	late[0].Op = IsNull
	_, ok, err = p.FetchQualified(0, nil, late)
	assert.NoError(err)
	assert.False(ok)
}

func TestUpdateToLongColumn(t *testing.T) {
	assert := assertion.New(t)
	opts := testOptions()
	opts.SpareSpace = 0
	env := newTestEnv(t, opts)
	h := env.handle(t)
	p := env.newPage(t, h)

	row := values([]byte("aaaaa"), []byte("bbbbb"), []byte("ccccc"))
	_, err := p.Insert(row, nil, InsertDefault, 100)
	require.NoError(t, err)
	for p.FreeSpace() > 400 {
		rh, err := p.Insert(values(fill(200, 'f')), nil, InsertDefault, 100)
		require.NoError(t, err)
		require.True(t, rh.Valid())
	}
	assert.True(p.FreeSpace() <= 400)

	big := pattern(5000, 9)
	ok, err := p.UpdateAtSlot(0, Row{NullColumn(), NullColumn(), Value(big)}, Columns(2))
	require.NoError(t, err)
	assert.True(ok)
	assert.NoError(p.checkSpace())

	hdr, err := p.RecordHeaderAtSlot(0)
	assert.NoError(err)
	assert.True(hdr.HasOverflow())
	assert.True(hdr.LongColumn)

	got, ok, err := p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(values([]byte("aaaaa"), []byte("bbbbb"), big), got)

	// the other records are untouched
	got, ok, err = p.FetchFromSlot(1, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(values(fill(200, 'f')), got)
}

func TestUpdateSplitsRow(t *testing.T) {
	assert := assertion.New(t)
	opts := testOptions()
	opts.SpareSpace = 0
	env := newTestEnv(t, opts)
	h := env.handle(t)
	p := env.newPage(t, h)

	row := values([]byte("aaaaa"), []byte("bbbbb"), []byte("ccccc"))
	_, err := p.Insert(row, nil, InsertDefault, 100)
	require.NoError(t, err)
	for p.FreeSpace() > 400 {
		_, err := p.Insert(values(fill(200, 'f')), nil, InsertDefault, 100)
		require.NoError(t, err)
	}

	mid := pattern(1500, 4)
	ok, err := p.UpdateAtSlot(0, Row{NullColumn(), NullColumn(), Value(mid)}, Columns(2))
	require.NoError(t, err)
	assert.True(ok)
	assert.NoError(p.checkSpace())

	hdr, err := p.RecordHeaderAtSlot(0)
	assert.NoError(err)
	assert.True(hdr.HasRowOverflow())
	assert.False(hdr.LongColumn)

	want := values([]byte("aaaaa"), []byte("bbbbb"), mid)
	got, ok, err := p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(want, got)

	// updating a column on the continuation rewrites that portion only
	ok, err = p.UpdateAtSlot(0, Row{NullColumn(), NullColumn(), Value([]byte("short"))}, Columns(2))
	require.NoError(t, err)
	assert.True(ok)
	got, ok, err = p.FetchFromSlot(0, nil)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(values([]byte("aaaaa"), []byte("bbbbb"), []byte("short")), got)

	// and a column appended past the end goes to the last portion
	ok, err = p.UpdateAtSlot(0, Row{NullColumn(), NullColumn(), NullColumn(), Value([]byte("d"))}, Columns(3))
	require.NoError(t, err)
	assert.True(ok)
	n, err := p.FetchNumFieldsAtSlot(0)
	assert.NoError(err)
	assert.Equal(4, n)
	got, ok, err = p.FetchFromSlot(0, Columns(3))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(Value([]byte("d")), got[3])
}

func TestPurgeFreesOverflowPages(t *testing.T) {
	assert := assertion.New(t)
	env := newTestEnv(t, nil)
	h := env.handle(t)
	p := env.newPage(t, h)
	free := env.c.FreePages()

	_, err := p.Insert(wideRow(10, 1000), nil, InsertOverflow, 100)
	require.NoError(t, err)
	_, err = p.Insert(values(pattern(10000, 2)), nil, InsertOverflow, 100)
	require.NoError(t, err)
	used := free - env.c.FreePages()
	assert.Equal(5, used)

	assert.NoError(p.PurgeAtSlot(0, 1))
	assert.Equal(free-3, env.c.FreePages())
	assert.NoError(p.PurgeAtSlot(0, 1))
	assert.Equal(free, env.c.FreePages())
	assert.Equal(0, p.RecordCount())
	assert.Equal(1, h.LatchedPages())

	// freed pages are invalid until allocated again
	_, err = h.GetPage(2)
	assert.Error(err)
}

func TestTemporaryPurgeLeavesChains(t *testing.T) {
	assert := assertion.New(t)
	opts := testOptions()
	opts.Temporary = true
	env := newTestEnv(t, opts)
	h := env.handle(t)
	p := env.newPage(t, h)
	free := env.c.FreePages()

	_, err := p.Insert(values(pattern(10000, 5)), nil, InsertOverflow, 100)
	require.NoError(t, err)
	assert.Equal(free-3, env.c.FreePages())
	assert.NoError(p.PurgeAtSlot(0, 1))
	assert.Equal(free-3, env.c.FreePages())
	assert.Equal(LogInstant(0), p.LastLogInstant())
}

func TestEncodeOutcomes(t *testing.T) {
	assert := assertion.New(t)
	hdr := RecordHeader{ID: 1}
	sources := insertSources(wideRow(4, 100), nil)
	pol := encodePolicy{threshold: 100, minimumRecordSize: 12}

	res := encodeRecord(hdr, sources, 1000, 900, pol)
	assert.Equal(encodeFit, res.outcome)
	assert.Equal(4, res.fields)
	assert.Equal(res.header.Size()+len(res.body)+res.space, 1000)

	res = encodeRecord(hdr, sources, 250, 900, pol)
	assert.Equal(encodeNoSpace, res.outcome)

	pol.overflow = true
	res = encodeRecord(hdr, sources, 250, 900, pol)
	assert.Equal(encodePartial, res.outcome)
	assert.Equal(2, res.fields)
	assert.Equal(2, res.header.NumFields)
	assert.True(len(res.record())+OverflowPointerSize <= 250)

	// nothing fits but the pointer
	res = encodeRecord(hdr, sources, 40, 900, pol)
	assert.Equal(encodeNoSpace, res.outcome)
	pol.allowEmpty = true
	res = encodeRecord(hdr, sources, 40, 900, pol)
	assert.Equal(encodePartial, res.outcome)
	assert.Equal(0, res.fields)

	long := insertSources(values([]byte("k"), fill(500, 'l')), nil)
	res = encodeRecord(hdr, long, 1000, 900, encodePolicy{overflow: true, threshold: 50, minimumRecordSize: 12})
	assert.Equal(encodeLongColumn, res.outcome)
	assert.Equal(1, res.long)
	res = encodeRecord(hdr, long, 1000, 900, encodePolicy{threshold: 50, minimumRecordSize: 12})
	assert.Equal(encodeNoSpace, res.outcome)
}
