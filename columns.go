package rawstore

import "math/bits"

// ColumnSet is a set of column numbers. A nil set means every column.
type ColumnSet []uint64

// Columns returns a set holding cols.
func Columns(cols ...int) ColumnSet {
	s := ColumnSet{}
	for _, c := range cols {
		s = s.Add(c)
	}
	return s
}

// Add returns the set with c included.
func (s ColumnSet) Add(c int) ColumnSet {
	if s == nil {
		return nil
	}
	for len(s) <= c/64 {
		s = append(s, 0)
	}
	s[c/64] |= 1 << uint(c%64)
	return s
}

// Has reports whether c is in the set.
func (s ColumnSet) Has(c int) bool {
	if s == nil {
		return true
	}
	if c < 0 || c/64 >= len(s) {
		return false
	}
	return s[c/64]&(1<<uint(c%64)) != 0
}

// Len returns one past the highest column in the set, or -1 for the full
// set.
func (s ColumnSet) Len() int {
	if s == nil {
		return -1
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != 0 {
			return i*64 + 64 - bits.LeadingZeros64(s[i])
		}
	}
	return 0
}

// anyIn reports whether the set has a column in [from, to).
func (s ColumnSet) anyIn(from, to int) bool {
	if s == nil {
		return from < to
	}
	for c := from; c < to; c++ {
		if s.Has(c) {
			return true
		}
	}
	return false
}
