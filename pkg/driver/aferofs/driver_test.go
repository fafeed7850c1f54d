package aferofs

import (
	"io/fs"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T, caseSensitive bool) *Driver {
	t.Helper()
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/Docs/Sub", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/Docs/Readme.md", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/Docs/.hidden", nil, 0o644))
	require.NoError(t, afero.WriteFile(mem, "/locked", nil, 0o444))
	return New(mem, Options{CaseSensitive: caseSensitive})
}

func TestValidName(t *testing.T) {
	d := New(afero.NewMemMapFs(), Options{})
	tests := []struct {
		name  string
		valid bool
	}{
		{"file.txt", true},
		{"café", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"nul\x00", false},
		{"..hidden", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, d.ValidName(tt.name), "%q", tt.name)
	}
}

func TestAttributes(t *testing.T) {
	d := newDriver(t, true)

	tests := []struct {
		path  string
		want  vfs.Attributes
		found bool
	}{
		{"Docs", vfs.AttrDirectory | vfs.AttrWritable, true},
		{"Docs/Readme.md", vfs.AttrWritable, true},
		{"Docs/.hidden", vfs.AttrHidden | vfs.AttrWritable, true},
		{"locked", 0, true},
		{"missing", 0, false},
		{"docs/readme.md", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			attrs, ok, err := d.Attributes(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, attrs)
		})
	}
}

func TestCaseInsensitiveResolution(t *testing.T) {
	d := newDriver(t, false)

	attrs, ok, err := d.Attributes("docs/README.MD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vfs.AttrWritable, attrs)

	name, err := d.CanonicallyCasedName("DOCS/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "Readme.md", name)

	data, err := d.ReadFile("docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	err = d.CreateFile("docs/README.md")
	require.ErrorIs(t, err, fs.ErrExist)
}

func TestListAndCreate(t *testing.T) {
	d := newDriver(t, true)

	require.NoError(t, d.CreateFile("Docs/new.txt"))
	require.NoError(t, d.CreateDirectory("Docs/dir"))
	require.ErrorIs(t, d.CreateFile("Docs/new.txt"), fs.ErrExist)

	names, err := d.List("Docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".hidden", "Readme.md", "Sub", "dir", "new.txt"}, names)

	attrs, ok, err := d.Attributes("Docs/dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, attrs.IsDirectory())
}

func TestRenameRemoveWrite(t *testing.T) {
	d := newDriver(t, true)

	require.NoError(t, d.WriteFile("Docs/Readme.md", []byte("changed")))
	require.NoError(t, d.Rename("Docs/Readme.md", "Docs/Sub/moved.md"))

	data, err := d.ReadFile("Docs/Sub/moved.md")
	require.NoError(t, err)
	assert.Equal(t, "changed", string(data))

	_, ok, err := d.Attributes("Docs/Readme.md")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Remove("Docs"))
	_, ok, err = d.Attributes("Docs/Sub/moved.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingParent(t *testing.T) {
	d := newDriver(t, false)
	err := d.CreateFile("nope/file")
	require.ErrorIs(t, err, fs.ErrNotExist)
}
