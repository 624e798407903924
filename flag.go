package rawstore

import "golang.org/x/exp/constraints"

func setFlag[T constraints.Unsigned](b, flag T) T { return b | flag }
func clearFlag[T constraints.Unsigned](b, flag T) T { return b &^ flag }
func hasFlag[T constraints.Unsigned](b, flag T) bool { return b&flag != 0 }

func putFlag[T constraints.Unsigned](b, flag T, on bool) T {
	if on {
		return setFlag(b, flag)
	}
	return clearFlag(b, flag)
}

func minOf[T constraints.Ordered](a, b T) T {
	if a <= b {
		return a
	}
	return b
}

func maxOf[T constraints.Ordered](a, b T) T {
	if a >= b {
		return a
	}
	return b
}

// shiftRight moves s[from:to] one position up, leaving the zero value at
// s[from]. s must have room for index to.
func shiftRight[T any, I constraints.Integer](s []T, from, to I) {
	copy(s[from+1:to+1], s[from:to])
	if from != to {
		var zero T
		s[from] = zero
	}
}

// shiftLeft moves s[from:to] one position down, leaving the zero value at
// s[to-1].
func shiftLeft[T any, I constraints.Integer](s []T, from, to I) {
	copy(s[from-1:to-1], s[from:to])
	if from != to {
		var zero T
		s[to-1] = zero
	}
}
