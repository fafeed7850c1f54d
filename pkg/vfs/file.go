package vfs

import "time"

// File is a handle to a regular file, symlink or special file.
type File struct {
	*entry
}

// Read returns the file's content as seen by the driver.
func (f *File) Read() ([]byte, error) {
	if _, err := f.resolve(); err != nil {
		return nil, err
	}
	m, rel, err := f.v.pathOf(f.id)
	if err != nil {
		return nil, err
	}
	data, err := m.driver.ReadFile(rel)
	if err != nil {
		return nil, ioError(f.id, "read "+rel, err)
	}
	return data, nil
}

// Write replaces the file's content and bumps its modification count.
func (f *File) Write(data []byte) (err error) {
	start := time.Now()
	defer func() { f.v.observe("write", start, err) }()

	if _, err := f.resolve(); err != nil {
		return err
	}
	if !f.seg.flags(f.id).Has(FlagWritable) {
		return newError(ErrCodeInvalidArgument, f.id, "file is read-only")
	}
	m, rel, err := f.v.pathOf(f.id)
	if err != nil {
		return err
	}
	if err := m.driver.WriteFile(rel, data); err != nil {
		return ioError(f.id, "write "+rel, err)
	}
	f.seg.incModCount(f.id)
	return nil
}

// ModificationCount returns the transient content modification counter.
// It wraps and is not persisted.
func (f *File) ModificationCount() (int, error) {
	if _, err := f.resolve(); err != nil {
		return 0, err
	}
	return f.seg.modCount(f.id), nil
}
