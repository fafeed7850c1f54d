// Package aferofs implements vfs.Driver on top of an afero.Fs.
//
// Any afero file system works: afero.NewOsFs wrapped in a BasePathFs for a
// real directory, afero.NewMemMapFs for tests and scratch mounts. Case
// insensitivity is emulated by resolving each path component against the
// directory listing, so the same driver can model both kinds of volume.
package aferofs

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/afero"
)

// Options configures a Driver.
type Options struct {
	// CaseSensitive is the default sensitivity reported for directories
	// and used when resolving paths.
	CaseSensitive bool `mapstructure:"case_sensitive"`
}

// Driver adapts an afero.Fs to vfs.Driver.
type Driver struct {
	fs            afero.Fs
	caseSensitive bool
}

var _ vfs.Driver = (*Driver)(nil)

// New returns a driver rooted at the root of fsys.
func New(fsys afero.Fs, opts Options) *Driver {
	return &Driver{fs: fsys, caseSensitive: opts.CaseSensitive}
}

// Fs returns the underlying file system.
func (d *Driver) Fs() afero.Fs {
	return d.fs
}

func (d *Driver) CaseSensitive() bool {
	return d.caseSensitive
}

// ValidName rejects names that cannot be a single path component.
func (d *Driver) ValidName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}

func fsPath(rel string) string {
	return "/" + rel
}

func (d *Driver) lstat(p string) (os.FileInfo, error) {
	if l, ok := d.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}
	return d.fs.Stat(p)
}

// resolve maps rel to the path stored on disk. On a case-insensitive
// driver each component that does not exist verbatim is matched against
// its parent's listing.
func (d *Driver) resolve(rel string) (string, error) {
	if rel == "" || d.caseSensitive {
		return fsPath(rel), nil
	}
	if _, err := d.lstat(fsPath(rel)); err == nil {
		return fsPath(rel), nil
	}

	resolved := "/"
	for part := range strings.SplitSeq(rel, "/") {
		next := path.Join(resolved, part)
		if _, err := d.lstat(next); err == nil {
			resolved = next
			continue
		}
		names, err := d.list(resolved)
		if err != nil {
			return "", err
		}
		found := false
		for _, name := range names {
			if vfs.NamesEqual(name, part, false) {
				resolved = path.Join(resolved, name)
				found = true
				break
			}
		}
		if !found {
			return "", &fs.PathError{Op: "resolve", Path: rel, Err: fs.ErrNotExist}
		}
	}
	return resolved, nil
}

// resolveNew resolves the parent of rel and keeps the last component as
// given, for paths that are about to be created.
func (d *Driver) resolveNew(rel string) (string, error) {
	dir, base := path.Split(rel)
	parent, err := d.resolve(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return "", err
	}
	return path.Join(parent, base), nil
}

func (d *Driver) list(p string) ([]string, error) {
	infos, err := afero.ReadDir(d.fs, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// Attributes returns the attributes of rel. A missing path is not an error.
func (d *Driver) Attributes(rel string) (vfs.Attributes, bool, error) {
	p, err := d.resolve(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	info, err := d.lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attributesOf(info), true, nil
}

func attributesOf(info os.FileInfo) vfs.Attributes {
	var attrs vfs.Attributes
	mode := info.Mode()
	if mode.IsDir() {
		attrs |= vfs.AttrDirectory
	}
	if mode&fs.ModeSymlink != 0 {
		attrs |= vfs.AttrSymlink
	}
	if mode&(fs.ModeDevice|fs.ModeCharDevice|fs.ModeNamedPipe|fs.ModeSocket) != 0 {
		attrs |= vfs.AttrSpecial
	}
	if strings.HasPrefix(info.Name(), ".") {
		attrs |= vfs.AttrHidden
	}
	if mode.Perm()&0o200 != 0 {
		attrs |= vfs.AttrWritable
	}
	return attrs
}

func (d *Driver) List(rel string) ([]string, error) {
	p, err := d.resolve(rel)
	if err != nil {
		return nil, err
	}
	return d.list(p)
}

func (d *Driver) CanonicallyCasedName(rel string) (string, error) {
	p, err := d.resolve(rel)
	if err != nil {
		return "", err
	}
	return path.Base(p), nil
}

func (d *Driver) ResolveSymlink(rel string) (string, error) {
	p, err := d.resolve(rel)
	if err != nil {
		return "", err
	}
	r, ok := d.fs.(afero.LinkReader)
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: rel, Err: afero.ErrNoReadlink}
	}
	return r.ReadlinkIfPossible(p)
}

func (d *Driver) exists(rel string) (bool, error) {
	_, ok, err := d.Attributes(rel)
	return ok, err
}

func (d *Driver) CreateFile(rel string) error {
	if ok, err := d.exists(rel); err != nil {
		return err
	} else if ok {
		return &fs.PathError{Op: "create", Path: rel, Err: fs.ErrExist}
	}
	p, err := d.resolveNew(rel)
	if err != nil {
		return err
	}
	f, err := d.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (d *Driver) CreateDirectory(rel string) error {
	if ok, err := d.exists(rel); err != nil {
		return err
	} else if ok {
		return &fs.PathError{Op: "mkdir", Path: rel, Err: fs.ErrExist}
	}
	p, err := d.resolveNew(rel)
	if err != nil {
		return err
	}
	return d.fs.Mkdir(p, 0o755)
}

func (d *Driver) Rename(oldRel, newRel string) error {
	from, err := d.resolve(oldRel)
	if err != nil {
		return err
	}
	to, err := d.resolveNew(newRel)
	if err != nil {
		return err
	}
	return d.fs.Rename(from, to)
}

func (d *Driver) Remove(rel string) error {
	p, err := d.resolve(rel)
	if err != nil {
		return err
	}
	return d.fs.RemoveAll(p)
}

func (d *Driver) ReadFile(rel string) ([]byte, error) {
	p, err := d.resolve(rel)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(d.fs, p)
}

func (d *Driver) WriteFile(rel string, data []byte) error {
	p, err := d.resolve(rel)
	if err != nil {
		return err
	}
	return afero.WriteFile(d.fs, p, data, 0o644)
}
