package rawstore

// Comparator orders two column values.
type Comparator func(a, b []byte) int

// BytesComparator orders values byte by byte, a shorter prefix first.
func BytesComparator(a, b []byte) int {
	lenA, lenB := len(a), len(b)
	n := minOf(lenA, lenB)
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	if lenA > lenB {
		return 1
	} else if lenA < lenB {
		return -1
	}
	return 0
}

// Relation is the test a qualifier applies.
type Relation uint8

const (
	Equal Relation = iota
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	IsNull
	IsNotNull
)

// Qualifier is a predicate on one column of a fetched row. Null values
// only satisfy IsNull.
type Qualifier struct {
	Column  int
	Op      Relation
	Value   []byte
	Compare Comparator
}

// Match reports whether row satisfies q. Columns past the end of the row
// are null.
func (q Qualifier) Match(row Row) bool {
	col := NullColumn()
	if q.Column >= 0 && q.Column < len(row) {
		col = row[q.Column]
	}
	switch q.Op {
	case IsNull:
		return col.Null
	case IsNotNull:
		return !col.Null
	}
	if col.Null {
		return false
	}
	cmp := q.Compare
	if cmp == nil {
		cmp = BytesComparator
	}
	c := cmp(col.Data, q.Value)
	switch q.Op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Less:
		return c < 0
	case LessEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterEqual:
		return c >= 0
	}
	return false
}

func matchAll(quals []Qualifier, row Row) bool {
	for _, q := range quals {
		if !q.Match(row) {
			return false
		}
	}
	return true
}
