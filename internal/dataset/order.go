package dataset

import (
	"sort"
	"strings"
)

// SortEpisodeIDs orders ids by their trailing decimal suffix ("demo_2" before "demo_10").
// Ids without a numeric suffix go after all numbered ids. Ties fall back to plain string order.
func SortEpisodeIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return episodeLess(ids[i], ids[j]) })
}

func episodeLess(a, b string) bool {
	na, okA := trailingDigits(a)
	nb, okB := trailingDigits(b)
	switch {
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	case okA && okB:
		if c := compareDecimal(na, nb); c != 0 {
			return c < 0
		}
	}
	return a < b
}

func trailingDigits(s string) (string, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return "", false
	}
	return s[i:], true
}

// compareDecimal compares unsigned decimal strings of any length without parsing.
func compareDecimal(a, b string) int {
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
