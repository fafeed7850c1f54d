package vfs

import "strings"

// Flags is the boolean part of a slot's packed flags-and-modcount word.
// Flags occupy the high byte; the low 24 bits hold the content
// modification counter and are never touched by flag updates.
type Flags uint32

const (
	FlagWritable Flags = 1 << (31 - iota)
	FlagHidden
	FlagOffline
	FlagSymlink
	FlagHasSymlinkAncestor

	// FlagInvalid is set as soon as a file is deleted, before its slot is
	// reclaimed.
	FlagInvalid

	// FlagChildrenCaseSensitive is meaningful for directories only.
	FlagChildrenCaseSensitive

	// FlagCaseSensitivityKnown is meaningful for directories only.
	FlagCaseSensitivityKnown
)

// A file is never a directory, so these file-only flags share bits with the
// directory-only case-sensitivity flags.
const (
	FlagSystemLineSeparator = FlagChildrenCaseSensitive
	FlagSpecial             = FlagCaseSensitivityKnown
)

const (
	modCountBits = 24
	modCountMask = 1<<modCountBits - 1
	flagsMask    = ^uint32(modCountMask)
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// String names the set bits. The two directory-only case bits are printed
// by their directory meaning even on files.
func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagWritable, "writable"},
		{FlagHidden, "hidden"},
		{FlagOffline, "offline"},
		{FlagSymlink, "symlink"},
		{FlagHasSymlinkAncestor, "symlink-ancestor"},
		{FlagInvalid, "invalid"},
		{FlagChildrenCaseSensitive, "case-sensitive"},
		{FlagCaseSensitivityKnown, "case-known"},
	}
	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// attributesToFlags converts peer attributes into the packed flag layout.
func attributesToFlags(attrs Attributes) Flags {
	var f Flags
	if attrs&AttrWritable != 0 {
		f |= FlagWritable
	}
	if attrs&AttrHidden != 0 {
		f |= FlagHidden
	}
	if attrs&AttrOffline != 0 {
		f |= FlagOffline
	}
	if attrs&AttrSymlink != 0 {
		f |= FlagSymlink
	}
	if attrs.IsDirectory() {
		if sensitive, known := attrs.CaseSensitivity(); known {
			f |= FlagCaseSensitivityKnown
			if sensitive {
				f |= FlagChildrenCaseSensitive
			}
		}
	} else if attrs&AttrSpecial != 0 {
		f |= FlagSpecial
	}
	return f
}

// flagsToAttributes is the inverse of attributesToFlags for persisted bits.
func flagsToAttributes(f Flags, dir bool) Attributes {
	var a Attributes
	if dir {
		a |= AttrDirectory
	}
	if f&FlagWritable != 0 {
		a |= AttrWritable
	}
	if f&FlagHidden != 0 {
		a |= AttrHidden
	}
	if f&FlagOffline != 0 {
		a |= AttrOffline
	}
	if f&FlagSymlink != 0 {
		a |= AttrSymlink
	}
	if dir {
		if f&FlagCaseSensitivityKnown != 0 {
			a = a.WithCaseSensitivity(f&FlagChildrenCaseSensitive != 0)
		}
	} else if f&FlagSpecial != 0 {
		a |= AttrSpecial
	}
	return a
}
