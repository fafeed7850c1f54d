package vfs_test

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittovfs/pkg/driver/aferofs"
	"github.com/marmos91/dittovfs/pkg/store/records/memory"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/intern"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	cafeNFC = "caf\u00e9"
	cafeNFD = "cafe\u0301"
)

type fixture struct {
	v    *vfs.VFS
	root *vfs.Directory
	fs   afero.Fs
	peer *memory.Peer
	drv  *aferofs.Driver
}

func newFixture(t *testing.T, caseSensitive bool) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	peer := memory.New()
	drv := aferofs.New(fs, aferofs.Options{CaseSensitive: caseSensitive})

	v, err := vfs.New(vfs.Options{Peer: peer, StrictChecks: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	root, err := v.Mount("/mnt", drv)
	require.NoError(t, err)
	return &fixture{v: v, root: root, fs: fs, peer: peer, drv: drv}
}

func (f *fixture) write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(path), 0o644))
}

func names(t *testing.T, hs []vfs.Handle) []string {
	t.Helper()
	out := make([]string, len(hs))
	for i, h := range hs {
		name, err := h.Name()
		require.NoError(t, err)
		out[i] = name
	}
	return out
}

func cachedNames(t *testing.T, d *vfs.Directory) []string {
	t.Helper()
	hs, err := d.CachedChildren()
	require.NoError(t, err)
	return names(t, hs)
}

// ============================================================================
// Mounts
// ============================================================================

func TestMount(t *testing.T) {
	f := newFixture(t, true)

	again, err := f.v.Mount("/mnt", f.drv)
	require.NoError(t, err)
	assert.Same(t, f.root, again)

	path, err := f.root.Path()
	require.NoError(t, err)
	assert.Equal(t, "/mnt", path)

	parent, err := f.root.Parent()
	require.NoError(t, err)
	assert.Nil(t, parent)

	mounts, err := f.v.Mounts()
	require.NoError(t, err)
	require.Len(t, mounts, 1)
	assert.True(t, mounts[0].Equal(f.root))

	_, err = vfs.New(vfs.Options{})
	require.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestMountRequiresDirectory(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "/file")
	_, err := f.v.Mount("/other", aferofs.New(afero.NewBasePathFs(f.fs, "/file"), aferofs.Options{}))
	require.Error(t, err)
}

// ============================================================================
// Lookups
// ============================================================================

func TestFindChildAdoptsMissingNames(t *testing.T) {
	f := newFixture(t, true)

	h, err := f.root.FindChild("Foo.txt")
	require.NoError(t, err)
	assert.Nil(t, h)
	adopted, err := f.root.AdoptedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, adopted)

	// Created behind the cache's back: the memoized absence still answers.
	f.write(t, "/Foo.txt")
	h, err = f.root.FindChild("Foo.txt")
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = f.root.RefreshAndFindChild("Foo.txt")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.False(t, h.IsDirectory())
	adopted, err = f.root.AdoptedCount()
	require.NoError(t, err)
	assert.Zero(t, adopted)

	again, err := f.root.FindChild("Foo.txt")
	require.NoError(t, err)
	assert.True(t, h.Equal(again))

	// Case-sensitive directories do not fold names.
	miss, err := f.root.FindChild("foo.txt")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, f.root.SetCaseSensitivity(false))
	insensitive, err := f.root.FindChild("FOO.TXT")
	require.NoError(t, err)
	require.NotNil(t, insensitive)
	assert.Equal(t, h.ID(), insensitive.ID())

	attrs, err := f.peer.Attributes(f.root.ID())
	require.NoError(t, err)
	sensitive, known := attrs.CaseSensitivity()
	assert.True(t, known)
	assert.False(t, sensitive)
}

func TestFindChildInvalidArgument(t *testing.T) {
	f := newFixture(t, true)
	for _, name := range []string{"", "a/b"} {
		_, err := f.root.FindChild(name)
		require.ErrorIs(t, err, vfs.ErrInvalidArgument, "%q", name)
	}
}

func TestFindChildUsesCanonicalCase(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, "/ReadMe.md")

	h, err := f.root.FindChild("README.MD")
	require.NoError(t, err)
	require.NotNil(t, h)
	name, err := h.Name()
	require.NoError(t, err)
	assert.Equal(t, "ReadMe.md", name)
}

func TestFindChildLoadsPersistedRecord(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "/a")
	id, err := f.peer.CreateRecord(f.root.ID(), "a", vfs.AttrWritable)
	require.NoError(t, err)

	h, err := f.root.FindChild("a")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, id, h.ID())
}

func TestRefreshAndFindChildInvalidatesVanished(t *testing.T) {
	f := newFixture(t, true)
	file, err := f.root.CreateChildFile("gone")
	require.NoError(t, err)
	require.NoError(t, f.fs.Remove("/gone"))

	h, err := f.root.RefreshAndFindChild("gone")
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.False(t, file.IsValid())
	assert.True(t, f.v.IsDead(file.ID()))
}

func TestNormalizationDuplicates(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, "/"+cafeNFC)
	f.write(t, "/"+cafeNFD)

	children, err := f.root.Children()
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, []string{cafeNFC, cafeNFD}, names(t, children))
	assert.EqualValues(t, 1, f.v.Stats().DuplicateNames)
	require.NoError(t, f.root.Check())

	for _, name := range []string{cafeNFC, cafeNFD} {
		h, err := f.root.FindChild(name)
		require.NoError(t, err)
		require.NotNil(t, h)
		got, err := h.Name()
		require.NoError(t, err)
		assert.Equal(t, name, got, "exact spelling wins")
	}

	h, err := f.root.FindChild("CAF\u00c9")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, children[0].ID(), h.ID())
}

// ============================================================================
// Children
// ============================================================================

func TestChildrenLoadIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	for _, name := range []string{"/c", "/a", "/bb"} {
		f.write(t, name)
	}
	require.NoError(t, f.fs.Mkdir("/dir", 0o755))

	first, err := f.root.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "bb", "dir"}, names(t, first))

	second, err := f.root.LoadAllChildren()
	require.NoError(t, err)
	third, err := f.root.Children()
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
		assert.Equal(t, first[i].ID(), third[i].ID())
	}

	snapshot, err := f.root.ChildrenIDs()
	require.NoError(t, err)
	assert.True(t, snapshot.AllLoaded())
	assert.True(t, snapshot.Sorted())

	dir, err := f.root.FindChild("dir")
	require.NoError(t, err)
	require.NotNil(t, dir)
	again, err := f.root.FindChild("dir")
	require.NoError(t, err)
	assert.Same(t, dir, again, "directory handles are cached")

	missing, err := f.root.FindChild("zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
	adopted, err := f.root.AdoptedCount()
	require.NoError(t, err)
	assert.Zero(t, adopted, "fully loaded directories answer without adopting")
}

func TestIterInDBChildren(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "/on-disk-only")
	_, err := f.peer.CreateRecord(f.root.ID(), "persisted", 0)
	require.NoError(t, err)

	var got []string
	for h, err := range f.root.IterInDBChildren() {
		require.NoError(t, err)
		name, err := h.Name()
		require.NoError(t, err)
		got = append(got, name)
	}
	assert.Equal(t, []string{"persisted"}, got)
	assert.Equal(t, []string{"persisted"}, cachedNames(t, f.root))
}

func TestAddChildren(t *testing.T) {
	f := newFixture(t, true)
	before := f.v.StructureModificationCount()

	hs, err := f.root.AddChildren([]vfs.ChildInfo{
		{Name: "r", Attributes: vfs.AttrWritable},
		{Name: "p", Attributes: vfs.AttrDirectory, Children: []vfs.ChildInfo{
			{Name: "q"},
		}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "p"}, names(t, hs))
	assert.Equal(t, []string{"p", "r"}, cachedNames(t, f.root))
	assert.Greater(t, f.v.StructureModificationCount(), before)

	p := hs[1].(*vfs.Directory)
	snapshot, err := p.ChildrenIDs()
	require.NoError(t, err)
	assert.True(t, snapshot.AllLoaded())
	assert.Equal(t, []string{"q"}, cachedNames(t, p))

	cached, err := f.peer.ChildrenCached(p.ID())
	require.NoError(t, err)
	assert.True(t, cached)

	// Adding a known name reuses its record.
	again, err := f.root.AddChildren([]vfs.ChildInfo{{Name: "r"}}, true)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, hs[0].ID(), again[0].ID())

	rootSnapshot, err := f.root.ChildrenIDs()
	require.NoError(t, err)
	assert.True(t, rootSnapshot.AllLoaded())
}

// ============================================================================
// Mutations
// ============================================================================

func TestCreateChild(t *testing.T) {
	f := newFixture(t, true)
	before := f.v.StructureModificationCount()

	dir, err := f.root.CreateChildDirectory("docs")
	require.NoError(t, err)
	file, err := dir.CreateChildFile("a.txt")
	require.NoError(t, err)

	exists, err := afero.Exists(f.fs, "/docs/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	path, err := file.Path()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/docs/a.txt", path)
	assert.Equal(t, before+2, f.v.StructureModificationCount())

	_, err = dir.CreateChildFile("a.txt")
	require.ErrorIs(t, err, vfs.ErrAlreadyExists)

	for _, bad := range []string{"", "..", "x/y"} {
		_, err = dir.CreateChildFile(bad)
		require.ErrorIs(t, err, vfs.ErrInvalidName, "%q", bad)
	}
}

func TestRenameRepositions(t *testing.T) {
	f := newFixture(t, true)
	handles := map[string]*vfs.File{}
	for _, name := range []string{"a", "m", "z"} {
		h, err := f.root.CreateChildFile(name)
		require.NoError(t, err)
		handles[name] = h
	}

	require.NoError(t, handles["a"].Rename("zz"))
	assert.Equal(t, []string{"m", "z", "zz"}, cachedNames(t, f.root))
	require.NoError(t, f.root.Check())

	name, err := f.peer.Name(handles["a"].ID())
	require.NoError(t, err)
	assert.Equal(t, "zz", name)

	old, err := f.root.FindChild("a")
	require.NoError(t, err)
	assert.Nil(t, old)

	err = handles["m"].Rename("z")
	require.ErrorIs(t, err, vfs.ErrAlreadyExists)
	err = handles["m"].Rename("..")
	require.ErrorIs(t, err, vfs.ErrInvalidName)
	require.ErrorIs(t, f.root.Rename("x"), vfs.ErrInvalidArgument)
}

func TestRenameRestoresNameOnFailure(t *testing.T) {
	f := newFixture(t, true)
	hs := make(map[string]vfs.Handle)
	for _, name := range []string{"a", "b", "d", "e", "f"} {
		h, err := f.root.CreateChildFile(name)
		require.NoError(t, err)
		hs[name] = h
	}
	children, err := f.root.Children()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "d", "e", "f"}, names(t, children))

	// Inserting "c" among b, d, e, f compares against e, whose name can no
	// longer be decoded. Looking "c" up among all five never reaches e.
	saved := vfs.SetNameID(hs["e"], math.MaxInt32)
	err = hs["a"].Rename("c")
	vfs.SetNameID(hs["e"], saved)
	require.Error(t, err)

	name, err := hs["a"].Name()
	require.NoError(t, err)
	assert.Equal(t, "a", name)

	persisted, err := f.peer.Name(hs["a"].ID())
	require.NoError(t, err)
	assert.Equal(t, "a", persisted)

	_, ok, err := f.drv.Attributes("a")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = f.drv.Attributes("c")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "d", "e", "f"}, cachedNames(t, f.root))
	require.NoError(t, f.root.Check())
}

func TestCaseSensitivityResort(t *testing.T) {
	f := newFixture(t, true)
	for _, name := range []string{"B", "a", "b"} {
		_, err := f.root.CreateChildFile(name)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"B", "a", "b"}, cachedNames(t, f.root))

	require.NoError(t, f.root.SetCaseSensitivity(false))
	assert.Equal(t, []string{"a", "B", "b"}, cachedNames(t, f.root))
	assert.EqualValues(t, 1, f.v.Stats().DuplicateNames)

	cs, err := f.root.IsCaseSensitive()
	require.NoError(t, err)
	assert.False(t, cs)

	h, err := f.root.FindChild("b")
	require.NoError(t, err)
	require.NotNil(t, h)
	name, err := h.Name()
	require.NoError(t, err)
	assert.Equal(t, "b", name)
}

func TestMove(t *testing.T) {
	f := newFixture(t, true)
	x, err := f.root.CreateChildDirectory("x")
	require.NoError(t, err)
	y, err := f.root.CreateChildDirectory("y")
	require.NoError(t, err)
	a, err := x.CreateChildFile("a")
	require.NoError(t, err)

	stale, err := f.v.CachedHandle(a.ID())
	require.NoError(t, err)

	require.NoError(t, a.Move(y))
	parent, err := stale.Parent()
	require.NoError(t, err)
	assert.True(t, parent.Equal(y), "older handles follow the move")

	path, err := stale.Path()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/y/a", path)
	assert.Empty(t, cachedNames(t, x))
	assert.Equal(t, []string{"a"}, cachedNames(t, y))

	persisted, err := f.peer.Parent(a.ID())
	require.NoError(t, err)
	assert.Equal(t, y.ID(), persisted)

	require.ErrorIs(t, y.Move(y), vfs.ErrInvalidArgument)
	require.ErrorIs(t, f.root.Move(x), vfs.ErrInvalidArgument)
	require.ErrorIs(t, a.Move(nil), vfs.ErrInvalidArgument)

	sub, err := y.CreateChildDirectory("sub")
	require.NoError(t, err)
	require.ErrorIs(t, y.Move(sub), vfs.ErrInvalidArgument)

	_, err = x.CreateChildFile("a")
	require.NoError(t, err)
	require.ErrorIs(t, a.Move(x), vfs.ErrAlreadyExists)
}

func TestMoveChecksParentUnderLock(t *testing.T) {
	f := newFixture(t, true)
	x, err := f.root.CreateChildDirectory("x")
	require.NoError(t, err)
	y, err := f.root.CreateChildDirectory("y")
	require.NoError(t, err)
	a, err := x.CreateChildFile("a")
	require.NoError(t, err)
	require.NoError(t, a.Move(y))

	// A second transplant still believing a lives in x must not run.
	require.ErrorIs(t, vfs.TransplantRecord(a, x, y), vfs.ErrInvalidArgument)

	parent, err := a.Parent()
	require.NoError(t, err)
	assert.True(t, parent.Equal(y))
	assert.Empty(t, cachedNames(t, x))
	assert.Equal(t, []string{"a"}, cachedNames(t, y))
}

func TestMoveAcrossMounts(t *testing.T) {
	f := newFixture(t, true)
	other, err := f.v.Mount("/other", aferofs.New(afero.NewMemMapFs(), aferofs.Options{CaseSensitive: true}))
	require.NoError(t, err)
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)
	require.ErrorIs(t, a.Move(other), vfs.ErrInvalidArgument)
}

func TestMoveIsAtomic(t *testing.T) {
	f := newFixture(t, true)
	x, err := f.root.CreateChildDirectory("x")
	require.NoError(t, err)
	y, err := f.root.CreateChildDirectory("y")
	require.NoError(t, err)

	var files []*vfs.File
	for _, name := range []string{"a", "b", "c"} {
		h, err := x.CreateChildFile(name)
		require.NoError(t, err)
		files = append(files, h)
	}

	const rounds = 50
	var (
		g    errgroup.Group
		done sync.WaitGroup
		stop = make(chan struct{})
	)
	for _, file := range files {
		done.Add(1)
		g.Go(func() error {
			defer done.Done()
			for i := 0; i < rounds; i++ {
				target := y
				if i%2 == 1 {
					target = x
				}
				if err := file.Move(target); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			xs, ys, unlock, err := vfs.LockDirectories(x, y)
			if err != nil {
				return err
			}
			unlock()
			for _, file := range files {
				n := 0
				if slices.Contains(xs, file.ID()) {
					n++
				}
				if slices.Contains(ys, file.ID()) {
					n++
				}
				if n != 1 {
					return assert.AnError
				}
			}
		}
	})
	go func() {
		done.Wait()
		close(stop)
	}()
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{"a", "b", "c"}, cachedNames(t, x))
	assert.Empty(t, cachedNames(t, y))
	require.NoError(t, x.Check())
	require.NoError(t, y.Check())
}

// ============================================================================
// Deletion
// ============================================================================

func TestDeleteIsTwoPhase(t *testing.T) {
	f := newFixture(t, true)
	d, err := f.root.CreateChildDirectory("d")
	require.NoError(t, err)
	file, err := d.CreateChildFile("f")
	require.NoError(t, err)

	var events []vfs.DeleteEvent
	remove := f.v.OnDelete(func(ev vfs.DeleteEvent) {
		name, err := ev.Handle.Name()
		assert.NoError(t, err, "deleted files stay readable inside the batch")
		assert.Equal(t, "d", name)
		events = append(events, ev)
	})
	defer remove()

	err = f.v.Batch(func(b *vfs.Batch) error {
		if err := b.Delete(d); err != nil {
			return err
		}
		assert.False(t, d.IsValid())
		assert.False(t, file.IsValid())
		assert.False(t, f.v.IsValid(file.ID()))
		assert.False(t, f.v.IsDead(file.ID()))

		name, err := file.Name()
		require.NoError(t, err)
		assert.Equal(t, "f", name)
		assert.EqualValues(t, 2, f.v.Stats().PendingInvalidations)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "/mnt/d", events[0].Path)
	assert.Equal(t, []vfs.FileID{d.ID(), file.ID()}, events[0].Subtree)

	_, err = file.Name()
	require.ErrorIs(t, err, vfs.ErrInvalidHandle)
	require.ErrorIs(t, err, vfs.ErrDeadFile)

	_, err = f.v.FindFileByID(file.ID())
	require.ErrorIs(t, err, vfs.ErrDeadFile)
	_, err = f.v.Flags(d.ID())
	require.ErrorIs(t, err, vfs.ErrDeadFile)
	assert.True(t, f.v.IsDead(d.ID()))
	assert.EqualValues(t, 2, f.v.Stats().DeadSlots)

	exists, err := afero.Exists(f.fs, "/d")
	require.NoError(t, err)
	assert.False(t, exists)
	deleted, err := f.peer.IsDeleted(file.ID())
	require.NoError(t, err)
	assert.True(t, deleted)

	require.ErrorIs(t, f.root.Delete(), vfs.ErrInvalidArgument)
}

func TestNestedBatchesDeferReclaim(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)

	err = f.v.Batch(func(outer *vfs.Batch) error {
		if err := a.Delete(); err != nil {
			return err
		}
		assert.False(t, f.v.IsDead(a.ID()), "inner batch end does not reclaim")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, f.v.IsDead(a.ID()))
}

func TestListenerRemoval(t *testing.T) {
	f := newFixture(t, true)
	calls := 0
	remove := f.v.OnDelete(func(vfs.DeleteEvent) { calls++ })
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)
	b, err := f.root.CreateChildFile("b")
	require.NoError(t, err)

	require.NoError(t, a.Delete())
	remove()
	require.NoError(t, b.Delete())
	assert.Equal(t, 1, calls)
}

func TestConcurrentInvalidateDeletesOnce(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)

	var notified atomic.Int32
	f.v.OnDelete(func(vfs.DeleteEvent) { notified.Add(1) })

	err = f.v.Batch(func(*vfs.Batch) error {
		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				return f.v.Batch(func(b *vfs.Batch) error {
					return b.Invalidate(a, "vanished")
				})
			})
		}
		return g.Wait()
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, notified.Load())
	assert.True(t, f.v.IsDead(a.ID()))
	deleted, err := f.peer.IsDeleted(a.ID())
	require.NoError(t, err)
	assert.True(t, deleted)
}

// ============================================================================
// Lookup by id
// ============================================================================

func TestCachedHandleSharesDirectories(t *testing.T) {
	f := newFixture(t, true)
	x, err := f.root.CreateChildDirectory("x")
	require.NoError(t, err)

	first, err := f.v.CachedHandle(x.ID())
	require.NoError(t, err)
	second, err := f.v.CachedHandle(x.ID())
	require.NoError(t, err)
	assert.Same(t, first, second)

	found, err := f.root.FindChild("x")
	require.NoError(t, err)
	assert.Same(t, first, found)

	missing, err := f.v.CachedHandle(x.ID() + 1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindFileByID(t *testing.T) {
	f := newFixture(t, true)
	d, err := f.root.CreateChildDirectory("d")
	require.NoError(t, err)
	file, err := d.CreateChildFile("f")
	require.NoError(t, err)

	// A fresh cache over the same peer loads the ancestors on demand.
	v2, err := vfs.New(vfs.Options{Peer: f.peer, StrictChecks: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v2.Close() })
	_, err = v2.Mount("/mnt", f.drv)
	require.NoError(t, err)

	cached, err := v2.CachedHandle(file.ID())
	require.NoError(t, err)
	assert.Nil(t, cached)

	h, err := v2.FindFileByID(file.ID())
	require.NoError(t, err)
	require.NotNil(t, h)
	path, err := h.Path()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/d/f", path)

	_, err = v2.FindFileByID(vfs.InvalidID)
	require.ErrorIs(t, err, vfs.ErrInvalidArgument)
	_, err = v2.FindFileByID(9999)
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

// ============================================================================
// Per-file state
// ============================================================================

func TestFileWriteAndFlags(t *testing.T) {
	f := newFixture(t, true)
	file, err := f.root.CreateChildFile("data")
	require.NoError(t, err)

	writable, err := file.IsWritable()
	require.NoError(t, err)
	require.True(t, writable)

	require.NoError(t, file.Write([]byte("one")))
	require.NoError(t, file.Write([]byte("two")))
	count, err := file.ModificationCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	data, err := file.Read()
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, f.v.SetFlag(file.ID(), vfs.FlagHidden, true))
	hidden, err := file.IsHidden()
	require.NoError(t, err)
	assert.True(t, hidden)
	count, err = file.ModificationCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "flag updates keep the modification count")

	require.NoError(t, file.SetWritable(false))
	attrs, err := f.peer.Attributes(file.ID())
	require.NoError(t, err)
	assert.False(t, attrs.Has(vfs.AttrWritable))
	require.ErrorIs(t, file.Write([]byte("three")), vfs.ErrInvalidArgument)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "/x")
	f.write(t, "/y")

	children, err := f.root.Children()
	require.NoError(t, err)
	require.Len(t, children, 2)
	x, y := children[0], children[1]

	require.NoError(t, f.fs.Remove("/x"))
	f.write(t, "/z")
	require.NoError(t, f.fs.Chmod("/y", 0o444))

	res, err := f.root.Refresh()
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, res.Added)
	assert.Equal(t, []string{"x"}, res.Removed)

	assert.True(t, f.v.IsDead(x.ID()))
	writable, err := y.IsWritable()
	require.NoError(t, err)
	assert.False(t, writable)
	assert.Equal(t, []string{"y", "z"}, cachedNames(t, f.root))
}

func TestUserDataIsInterned(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)
	b, err := f.root.CreateChildFile("b")
	require.NoError(t, err)

	key := intern.NewKey("encoding")
	require.NoError(t, a.PutUserData(key, "utf-8"))
	require.NoError(t, b.PutUserData(key, "utf-8"))

	ua, err := a.UserData()
	require.NoError(t, err)
	ub, err := b.UserData()
	require.NoError(t, err)
	assert.Equal(t, "utf-8", ua.Get(key))
	assert.Same(t, ua, ub)

	require.NoError(t, a.PutUserData(key, nil))
	ua, err = a.UserData()
	require.NoError(t, err)
	assert.Zero(t, ua.Len())
}

type attachment struct{ Payload any }

func TestPutUserDataWithUncomparableContents(t *testing.T) {
	f := newFixture(t, true)
	a, err := f.root.CreateChildFile("a")
	require.NoError(t, err)
	b, err := f.root.CreateChildFile("b")
	require.NoError(t, err)

	key := intern.NewKey("tags")
	require.NotPanics(t, func() {
		require.NoError(t, a.PutUserData(key, attachment{[]string{"x"}}))
		require.NoError(t, a.PutUserData(key, attachment{[]string{"x"}}))
		require.NoError(t, b.PutUserData(key, attachment{[]string{"x"}}))
	})

	ua, err := a.UserData()
	require.NoError(t, err)
	ub, err := b.UserData()
	require.NoError(t, err)
	assert.Equal(t, attachment{[]string{"x"}}, ua.Get(key))
	assert.Equal(t, attachment{[]string{"x"}}, ub.Get(key))
	assert.NotSame(t, ua, ub)
}

func TestPathView(t *testing.T) {
	f := newFixture(t, true)
	d, err := f.root.CreateChildDirectory("d")
	require.NoError(t, err)
	file, err := d.CreateChildFile("f")
	require.NoError(t, err)

	view, err := file.PathView()
	require.NoError(t, err)
	again, err := file.PathView()
	require.NoError(t, err)
	assert.Same(t, view, again)
	assert.Equal(t, "/mnt/d/f", view.String())
	assert.True(t, view.Absolute())
	assert.Equal(t, 3, view.Len())
}

func TestSymlinkAncestor(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.root.AddChildren([]vfs.ChildInfo{
		{Name: "link", Attributes: vfs.AttrDirectory | vfs.AttrSymlink, Children: []vfs.ChildInfo{
			{Name: "inner"},
		}},
		{Name: "plain", Attributes: vfs.AttrDirectory},
	}, true)
	require.NoError(t, err)

	link, err := f.root.FindChild("link")
	require.NoError(t, err)
	inner, err := link.(*vfs.Directory).FindChild("inner")
	require.NoError(t, err)
	require.NotNil(t, inner)
	has, err := inner.HasSymlinkAncestor()
	require.NoError(t, err)
	assert.True(t, has)

	plain, err := f.root.FindChild("plain")
	require.NoError(t, err)
	has, err = plain.HasSymlinkAncestor()
	require.NoError(t, err)
	assert.False(t, has)
}
