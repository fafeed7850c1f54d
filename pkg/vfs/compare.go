package vfs

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Directory order is length-then-bytes over a comparison key. For
// case-sensitive directories the key is the name itself. For
// case-insensitive directories it is the NFC-normalized, case-folded name,
// so "café" spelled with a combining accent and with a precomposed one
// collide, as they do on case- and normalization-insensitive volumes.
//
// Two different names with the same key are ordered by comparing the raw
// names, which makes the order total.

var folderPool = sync.Pool{
	New: func() any {
		c := cases.Fold()
		return &c
	},
}

// foldName returns the case-insensitive comparison key of name.
func foldName(name string) string {
	ascii := true
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return asciiLower(name)
	}
	c := folderPool.Get().(*cases.Caser)
	defer folderPool.Put(c)
	c.Reset()
	return c.String(norm.NFC.String(name))
}

func asciiLower(s string) string {
	for i := 0; i < len(s); i++ {
		if 'A' <= s[i] && s[i] <= 'Z' {
			return strings.ToLower(s)
		}
	}
	return s
}

// nameKey returns the comparison key of name for the given sensitivity.
func nameKey(name string, caseSensitive bool) string {
	if caseSensitive {
		return name
	}
	return foldName(name)
}

// compareLenLex orders by byte length first, then by bytes. Byte order of
// UTF-8 equals code point order.
func compareLenLex(a, b string) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// sortKey is a name paired with its precomputed comparison key.
type sortKey struct {
	name string
	key  string
}

func newSortKey(name string, caseSensitive bool) sortKey {
	return sortKey{name: name, key: nameKey(name, caseSensitive)}
}

// comparePrimary compares keys only. Names that differ but share a key
// compare equal: this is what lookups use.
func comparePrimary(a, b sortKey) int {
	return compareLenLex(a.key, b.key)
}

// compareNames is the total order used to sort children.
func compareNames(a, b sortKey) int {
	if c := compareLenLex(a.key, b.key); c != 0 {
		return c
	}
	return compareLenLex(a.name, b.name)
}

// NamesEqual reports whether two names denote the same child under the
// given case sensitivity.
func NamesEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return nameKey(a, false) == nameKey(b, false)
}

// CompareNames exposes the children order for callers that verify it.
func CompareNames(a, b string, caseSensitive bool) int {
	return compareNames(newSortKey(a, caseSensitive), newSortKey(b, caseSensitive))
}
