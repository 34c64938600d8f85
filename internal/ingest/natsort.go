package ingest

import (
	"sort"
	"strings"
)

// NaturalLess orders strings with embedded numbers numerically, so "Period9"
// sorts before "Period10". Text chunks compare case-insensitively.
func NaturalLess(a, b string) bool {
	ca, cb := chunks(a), chunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		if x.numeric && y.numeric {
			if c := compareDigits(x.text, y.text); c != 0 {
				return c < 0
			}
			continue
		}
		// 数字块排在文本块之前，与按块比较的结果保持一致
		if x.numeric != y.numeric {
			return x.numeric
		}
		if x.text != y.text {
			return x.text < y.text
		}
	}
	if len(ca) != len(cb) {
		return len(ca) < len(cb)
	}
	return a < b
}

// SortNatural sorts names in place using NaturalLess.
func SortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
}

type chunk struct {
	text    string
	numeric bool
}

func chunks(s string) []chunk {
	var out []chunk
	start := 0
	for start < len(s) {
		digit := isDigit(s[start])
		end := start + 1
		for end < len(s) && isDigit(s[end]) == digit {
			end++
		}
		text := s[start:end]
		if !digit {
			text = strings.ToLower(text)
		}
		out = append(out, chunk{text: text, numeric: digit})
		start = end
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// compareDigits compares two digit strings by value without overflowing.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
