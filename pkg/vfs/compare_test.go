package vfs

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	cafeNFC = "caf\u00e9"
	cafeNFD = "cafe\u0301"
)

func TestCompareNames(t *testing.T) {
	tests := []struct {
		name          string
		a, b          string
		caseSensitive bool
		want          int
	}{
		{"shorter first", "zz", "aaa", true, -1},
		{"bytes within length", "a", "b", true, -1},
		{"upper before lower when sensitive", "A", "a", true, -1},
		{"equal", "x", "x", true, 0},
		{"folded keys tie on raw name", "B", "b", false, -1},
		{"folded order ignores case", "a", "B", false, -1},
		{"nfc and nfd tie on raw length", cafeNFC, cafeNFD, false, -1},
		{"nfc and nfd differ when sensitive", cafeNFC, cafeNFD, true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareNames(tt.a, tt.b, tt.caseSensitive))
			assert.Equal(t, -tt.want, CompareNames(tt.b, tt.a, tt.caseSensitive))
		})
	}
}

func TestNamesEqual(t *testing.T) {
	assert.True(t, NamesEqual("Foo.txt", "FOO.TXT", false))
	assert.False(t, NamesEqual("Foo.txt", "FOO.TXT", true))
	assert.True(t, NamesEqual(cafeNFC, cafeNFD, false))
	assert.True(t, NamesEqual("CAF\u00c9", cafeNFD, false))
	assert.False(t, NamesEqual(cafeNFC, cafeNFD, true))
}

func TestFoldNameASCIIFastPath(t *testing.T) {
	assert.Equal(t, "readme.md", foldName("README.md"))
	assert.Equal(t, "already", foldName("already"))
}

func TestSortIsTotal(t *testing.T) {
	names := []string{"b", "B", "a", cafeNFD, "A", cafeNFC, "aa"}
	for _, cs := range []bool{true, false} {
		sorted := slices.Clone(names)
		slices.SortFunc(sorted, func(a, b string) int { return CompareNames(a, b, cs) })
		for i := 1; i < len(sorted); i++ {
			assert.Negative(t, CompareNames(sorted[i-1], sorted[i], cs), "cs=%v %q vs %q", cs, sorted[i-1], sorted[i])
		}
	}
}
