package rawstore

import (
	"errors"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestRecordHeaderEncode(t *testing.T) {
	assert := assertion.New(t)
	headers := []RecordHeader{
		{ID: 1, NumFields: 1},
		{ID: 0x40, NumFields: 300, Deleted: true},
		{ID: 7, NumFields: 3, FirstField: 12, Overflow: &RecordPointer{Page: 0x4000, ID: 2}},
		{ID: 1 << 20, NumFields: 2, LongColumn: true},
	}
	for _, h := range headers {
		b := h.Encode(nil)
		t.Log(h.String(), b)
		assert.Equal(h.Size(), len(b))

		got, err := decodeRecordHeader(newCursor(b, 0))
		assert.NoError(err)
		assert.Equal(h, *got)
	}
}

func TestRecordHeaderFlags(t *testing.T) {
	assert := assertion.New(t)

	h := RecordHeader{ID: 1, NumFields: 2}
	assert.False(h.HasOverflow())
	assert.Equal(uint8(0), h.status())

	h.LongColumn = true
	assert.True(h.HasOverflow())
	assert.False(h.HasRowOverflow())

	h = RecordHeader{ID: 1, NumFields: 2, FirstField: 4, Overflow: &RecordPointer{Page: 3, ID: 1}}
	assert.True(h.HasOverflow())
	assert.True(h.HasRowOverflow())
	assert.Equal(6, h.EndField())
	assert.Equal(recordOverflow|recordHasFirstField, h.status())

	c := h.clone()
	c.Overflow.Page = 9
	assert.Equal(int64(3), h.Overflow.Page)

	_, err := decodeRecordHeader(newCursor([]byte{0x80, 1, 1}, 0))
	assert.True(errors.Is(err, ErrCorruptPage))
}

func TestFieldEncode(t *testing.T) {
	assert := assertion.New(t)
	sources := []fieldSource{
		valueSource(Value([]byte("hello"))),
		valueSource(NullColumn()),
		{nonexistent: true},
		pointerSource(RecordPointer{Page: 12, ID: 3}),
		valueSource(Value(fill(100, 'z'))),
	}
	var b []byte
	for _, s := range sources {
		before := len(b)
		b = s.appendTo(b)
		assert.Equal(s.size(), len(b)-before)
	}

	c := newCursor(b, 0)
	f, err := decodeField(c)
	assert.NoError(err)
	assert.Equal(Value([]byte("hello")), f.column())

	f, err = decodeField(c)
	assert.NoError(err)
	assert.True(f.isNull())
	assert.Equal(NullColumn(), f.column())

	f, err = decodeField(c)
	assert.NoError(err)
	assert.True(f.isNonexistent())
	assert.True(f.source().nonexistent)
	assert.True(f.column().Null)

	f, err = decodeField(c)
	assert.NoError(err)
	assert.True(f.isOverflow())
	assert.Equal(RecordPointer{Page: 12, ID: 3}, f.pointer)
	assert.Equal(RecordPointer{Page: 12, ID: 3}, *f.source().ptr)

	assert.NoError(skipField(c))
	assert.Equal(len(b), c.pos)
}

func TestFieldCorrupt(t *testing.T) {
	assert := assertion.New(t)

	_, err := decodeField(newCursor([]byte{0x10, 0}, 0))
	assert.True(errors.Is(err, ErrCorruptPage))

	// a null field carries no data
	_, err = decodeField(newCursor([]byte{fieldNull, 2, 'a', 'b'}, 0))
	assert.True(errors.Is(err, ErrCorruptPage))

	// pointer length must match the pointer
	_, err = decodeField(newCursor([]byte{fieldOverflow, 4, 0, 1, 1, 0}, 0))
	assert.True(errors.Is(err, ErrCorruptPage))

	_, err = decodeField(newCursor([]byte{0, 5, 'a'}, 0))
	assert.True(errors.Is(err, ErrCorruptPage))
}

func TestColumnSet(t *testing.T) {
	assert := assertion.New(t)

	var all ColumnSet
	assert.True(all.Has(0))
	assert.True(all.Has(1000))
	assert.Equal(-1, all.Len())
	assert.True(all.anyIn(3, 4))
	assert.False(all.anyIn(4, 4))

	s := Columns(1, 70)
	assert.False(s.Has(0))
	assert.True(s.Has(1))
	assert.True(s.Has(70))
	assert.False(s.Has(130))
	assert.False(s.Has(-1))
	assert.Equal(71, s.Len())
	assert.True(s.anyIn(2, 71))
	assert.False(s.anyIn(2, 70))

	assert.Equal(0, Columns().Len())
	assert.False(Columns().Has(0))
}

func TestRowEqual(t *testing.T) {
	assert := assertion.New(t)

	a := Row{Value([]byte("a")), NullColumn(), Value([]byte{})}
	b := Row{Value([]byte("a")), NullColumn(), Value(nil)}
	assert.True(a.Equal(b))
	assert.False(a.Equal(b[:2]))
	assert.False(a.Equal(Row{Value([]byte("a")), Value(nil), Value(nil)}))
	assert.False(NullColumn().Equal(Value(nil)))
}

func TestQualifier(t *testing.T) {
	assert := assertion.New(t)
	row := values([]byte("b"), []byte("bb"))
	row = append(row, NullColumn())

	cases := []struct {
		q    Qualifier
		want bool
	}{
		{Qualifier{Column: 0, Op: Equal, Value: []byte("b")}, true},
		{Qualifier{Column: 0, Op: NotEqual, Value: []byte("b")}, false},
		{Qualifier{Column: 0, Op: Less, Value: []byte("bb")}, true},
		{Qualifier{Column: 1, Op: LessEqual, Value: []byte("bb")}, true},
		{Qualifier{Column: 1, Op: Greater, Value: []byte("b")}, true},
		{Qualifier{Column: 1, Op: GreaterEqual, Value: []byte("c")}, false},
		{Qualifier{Column: 2, Op: IsNull}, true},
		{Qualifier{Column: 2, Op: IsNotNull}, false},
		{Qualifier{Column: 2, Op: NotEqual, Value: []byte("x")}, false},
		{Qualifier{Column: 9, Op: IsNull}, true},
		{Qualifier{Column: 0, Op: Equal, Value: []byte("B"), Compare: func(a, b []byte) int {
			return BytesComparator(a, []byte{b[0] + 'a' - 'A'})
		}}, true},
	}
	for i, c := range cases {
		assert.Equal(c.want, c.q.Match(row), "case %d", i)
	}
	assert.True(matchAll(nil, row))
	assert.False(matchAll([]Qualifier{cases[0].q, cases[1].q}, row))
}

func TestBytesComparator(t *testing.T) {
	assert := assertion.New(t)
	assert.Equal(0, BytesComparator(nil, []byte{}))
	assert.Equal(-1, BytesComparator([]byte("a"), []byte("ab")))
	assert.Equal(1, BytesComparator([]byte("b"), []byte("ab")))
	assert.Equal(1, BytesComparator([]byte("ab"), []byte("a")))
}
