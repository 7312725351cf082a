package command

import (
	"strconv"
	"strings"
)

// parser consumes a prefix of its input and returns the value, the
// unconsumed rest and whether it matched. A parser that does not match
// consumes nothing.
type parser[T any] func(string) (T, string, bool)

// tag matches the literal s.
func tag(s string) parser[string] {
	return func(in string) (string, string, bool) {
		if !strings.HasPrefix(in, s) {
			return "", in, false
		}
		return s, in[len(s):], true
	}
}

// integer matches a run of ASCII digits that fits in an int64.
func integer() parser[int64] {
	return func(in string) (int64, string, bool) {
		n := 0
		for n < len(in) && in[n] >= '0' && in[n] <= '9' {
			n++
		}
		if n == 0 {
			return 0, in, false
		}
		v, err := strconv.ParseInt(in[:n], 10, 64)
		if err != nil {
			return 0, in, false
		}
		return v, in[n:], true
	}
}

// segment matches a non-empty path segment, i.e. everything up to the next
// slash.
func segment() parser[string] {
	return func(in string) (string, string, bool) {
		n := strings.IndexByte(in, '/')
		if n == 0 {
			return "", in, false
		}
		if n < 0 {
			n = len(in)
		}
		return in[:n], in[n:], true
	}
}

// field matches p followed by a slash.
func field[T any](p parser[T]) parser[T] {
	return func(in string) (T, string, bool) {
		v, rest, ok := p(in)
		if !ok {
			var zero T
			return zero, in, false
		}
		if _, rest, ok = tag("/")(rest); !ok {
			var zero T
			return zero, in, false
		}
		return v, rest, true
	}
}

// value maps a literal match to a fixed result.
func value[T any](s string, v T) parser[T] {
	return func(in string) (T, string, bool) {
		if _, rest, ok := tag(s)(in); ok {
			return v, rest, true
		}
		var zero T
		return zero, in, false
	}
}

// alt tries each parser in order and returns the first match.
func alt[T any](ps ...parser[T]) parser[T] {
	return func(in string) (T, string, bool) {
		for _, p := range ps {
			if v, rest, ok := p(in); ok {
				return v, rest, true
			}
		}
		var zero T
		return zero, in, false
	}
}
