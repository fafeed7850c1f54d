// Package vfstest holds conformance tests shared by every vfs.Peer
// implementation.
package vfstest

import (
	"slices"
	"sync"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// PeerTestSuite tests the vfs.Peer contract, not implementation details.
type PeerTestSuite struct {
	// NewPeer creates a fresh, empty peer for each test. The suite closes it.
	NewPeer func(t *testing.T) vfs.Peer
}

// Run executes all tests in the suite.
func (suite *PeerTestSuite) Run(t *testing.T) {
	t.Run("Session", suite.testSession)
	t.Run("Names", suite.RunNameTests)
	t.Run("Roots", suite.RunRootTests)
	t.Run("Records", suite.RunRecordTests)
	t.Run("Delete", suite.RunDeleteTests)
	t.Run("Concurrency", suite.testConcurrentCreate)
}

func (suite *PeerTestSuite) peer(t *testing.T) vfs.Peer {
	t.Helper()
	p := suite.NewPeer(t)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// root creates a root record for tests that need a parent.
func root(t *testing.T, p vfs.Peer) vfs.FileID {
	t.Helper()
	id, err := p.CreateRoot("/mnt/test", vfs.AttrDirectory|vfs.AttrWritable)
	require.NoError(t, err)
	return id
}

func childNames(t *testing.T, p vfs.Peer, dir vfs.FileID) []string {
	t.Helper()
	infos, err := p.ListChildren(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name
		if name == "" {
			name, err = p.NameByID(info.NameID)
			require.NoError(t, err)
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (suite *PeerTestSuite) testSession(t *testing.T) {
	p := suite.peer(t)
	assert.NotEmpty(t, p.SessionID())
	assert.Equal(t, p.SessionID(), p.SessionID())
}

// ============================================================================
// Names
// ============================================================================

func (suite *PeerTestSuite) RunNameTests(t *testing.T) {
	t.Run("InternIsIdempotent", func(t *testing.T) {
		p := suite.peer(t)

		a, err := p.NameID("Foo.txt")
		require.NoError(t, err)
		again, err := p.NameID("Foo.txt")
		require.NoError(t, err)
		other, err := p.NameID("foo.txt")
		require.NoError(t, err)

		assert.Equal(t, a, again)
		assert.NotEqual(t, a, other, "interning is case-sensitive")
		assert.NotZero(t, a)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		p := suite.peer(t)
		for _, name := range []string{"a", "caf\u00e9", "cafe\u0301", "名前"} {
			id, err := p.NameID(name)
			require.NoError(t, err)
			got, err := p.NameByID(id)
			require.NoError(t, err)
			assert.Equal(t, name, got)
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		p := suite.peer(t)
		_, err := p.NameByID(999_999)
		require.ErrorIs(t, err, vfs.ErrNotFound)
	})
}

// ============================================================================
// Roots
// ============================================================================

func (suite *PeerTestSuite) RunRootTests(t *testing.T) {
	t.Run("CreateAndFind", func(t *testing.T) {
		p := suite.peer(t)

		missing, err := p.FindRoot("/data")
		require.NoError(t, err)
		assert.False(t, missing.Valid())

		id, err := p.CreateRoot("/data", vfs.AttrDirectory)
		require.NoError(t, err)
		assert.True(t, id.Valid())

		found, err := p.FindRoot("/data")
		require.NoError(t, err)
		assert.Equal(t, id, found)

		name, err := p.Name(id)
		require.NoError(t, err)
		assert.Equal(t, "/data", name)

		parent, err := p.Parent(id)
		require.NoError(t, err)
		assert.False(t, parent.Valid())
	})

	t.Run("DuplicateRoot", func(t *testing.T) {
		p := suite.peer(t)
		_, err := p.CreateRoot("/data", vfs.AttrDirectory)
		require.NoError(t, err)
		_, err = p.CreateRoot("/data", vfs.AttrDirectory)
		require.ErrorIs(t, err, vfs.ErrAlreadyExists)
	})
}

// ============================================================================
// Records
// ============================================================================

func (suite *PeerTestSuite) RunRecordTests(t *testing.T) {
	t.Run("Create", suite.testCreateRecord)
	t.Run("CreateUnderMissingParent", suite.testCreateUnderMissingParent)
	t.Run("DuplicateName", suite.testDuplicateName)
	t.Run("SetName", suite.testSetName)
	t.Run("SetParent", suite.testSetParent)
	t.Run("SetAttributes", suite.testSetAttributes)
	t.Run("ChildrenCached", suite.testChildrenCached)
}

func (suite *PeerTestSuite) testCreateRecord(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	id, err := p.CreateRecord(dir, "Foo.txt", vfs.AttrWritable)
	require.NoError(t, err)
	assert.True(t, id.Valid())
	assert.NotEqual(t, dir, id)

	name, err := p.Name(id)
	require.NoError(t, err)
	assert.Equal(t, "Foo.txt", name)

	parent, err := p.Parent(id)
	require.NoError(t, err)
	assert.Equal(t, dir, parent)

	attrs, err := p.Attributes(id)
	require.NoError(t, err)
	assert.Equal(t, vfs.AttrWritable, attrs)

	infos, err := p.ListChildren(dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, vfs.AttrWritable, infos[0].Attributes)

	nameID, err := p.NameID("Foo.txt")
	require.NoError(t, err)
	assert.Equal(t, nameID, infos[0].NameID)
}

func (suite *PeerTestSuite) testCreateUnderMissingParent(t *testing.T) {
	p := suite.peer(t)
	_, err := p.CreateRecord(424242, "orphan", 0)
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func (suite *PeerTestSuite) testDuplicateName(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	_, err := p.CreateRecord(dir, "a", 0)
	require.NoError(t, err)
	_, err = p.CreateRecord(dir, "a", 0)
	require.ErrorIs(t, err, vfs.ErrAlreadyExists)

	// Names that differ only by case or normalization are distinct records.
	_, err = p.CreateRecord(dir, "A", 0)
	require.NoError(t, err)
	_, err = p.CreateRecord(dir, "cafe\u0301", 0)
	require.NoError(t, err)
	_, err = p.CreateRecord(dir, "caf\u00e9", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "a", "cafe\u0301", "caf\u00e9"}, childNames(t, p, dir))
}

func (suite *PeerTestSuite) testSetName(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	id, err := p.CreateRecord(dir, "a", 0)
	require.NoError(t, err)
	_, err = p.CreateRecord(dir, "taken", 0)
	require.NoError(t, err)

	require.NoError(t, p.SetName(id, "zz"))
	name, err := p.Name(id)
	require.NoError(t, err)
	assert.Equal(t, "zz", name)
	assert.Equal(t, []string{"taken", "zz"}, childNames(t, p, dir))

	require.ErrorIs(t, p.SetName(id, "taken"), vfs.ErrAlreadyExists)
}

func (suite *PeerTestSuite) testSetParent(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	x, err := p.CreateRecord(dir, "x", vfs.AttrDirectory)
	require.NoError(t, err)
	y, err := p.CreateRecord(dir, "y", vfs.AttrDirectory)
	require.NoError(t, err)
	a, err := p.CreateRecord(x, "a", 0)
	require.NoError(t, err)

	require.NoError(t, p.SetParent(a, y))

	parent, err := p.Parent(a)
	require.NoError(t, err)
	assert.Equal(t, y, parent)
	assert.Empty(t, childNames(t, p, x))
	assert.Equal(t, []string{"a"}, childNames(t, p, y))

	_, err = p.CreateRecord(x, "a", 0)
	require.NoError(t, err)
	require.ErrorIs(t, p.SetParent(a, x), vfs.ErrAlreadyExists)
}

func (suite *PeerTestSuite) testSetAttributes(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	want := vfs.AttrDirectory.WithCaseSensitivity(false)
	require.NoError(t, p.SetAttributes(dir, want))

	attrs, err := p.Attributes(dir)
	require.NoError(t, err)
	assert.Equal(t, want, attrs)

	require.ErrorIs(t, p.SetAttributes(777_777, 0), vfs.ErrNotFound)
}

func (suite *PeerTestSuite) testChildrenCached(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	cached, err := p.ChildrenCached(dir)
	require.NoError(t, err)
	assert.False(t, cached)

	require.NoError(t, p.SetChildrenCached(dir))
	cached, err = p.ChildrenCached(dir)
	require.NoError(t, err)
	assert.True(t, cached)
}

// ============================================================================
// Delete
// ============================================================================

func (suite *PeerTestSuite) RunDeleteTests(t *testing.T) {
	t.Run("Subtree", func(t *testing.T) {
		p := suite.peer(t)
		dir := root(t, p)

		sub, err := p.CreateRecord(dir, "sub", vfs.AttrDirectory)
		require.NoError(t, err)
		leaf, err := p.CreateRecord(sub, "leaf", 0)
		require.NoError(t, err)
		keep, err := p.CreateRecord(dir, "keep", 0)
		require.NoError(t, err)

		require.NoError(t, p.DeleteRecord(sub))

		for _, id := range []vfs.FileID{sub, leaf} {
			deleted, err := p.IsDeleted(id)
			require.NoError(t, err)
			assert.True(t, deleted, "id %d", id)

			_, err = p.Name(id)
			assert.ErrorIs(t, err, vfs.ErrNotFound)
		}
		deleted, err := p.IsDeleted(keep)
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Equal(t, []string{"keep"}, childNames(t, p, dir))
	})

	t.Run("IdsAreNotReused", func(t *testing.T) {
		p := suite.peer(t)
		dir := root(t, p)

		first, err := p.CreateRecord(dir, "a", 0)
		require.NoError(t, err)
		require.NoError(t, p.DeleteRecord(first))

		second, err := p.CreateRecord(dir, "a", 0)
		require.NoError(t, err)
		assert.Greater(t, second, first)
	})

	t.Run("Missing", func(t *testing.T) {
		p := suite.peer(t)
		require.ErrorIs(t, p.DeleteRecord(31337), vfs.ErrNotFound)

		deleted, err := p.IsDeleted(31337)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func (suite *PeerTestSuite) testConcurrentCreate(t *testing.T) {
	p := suite.peer(t)
	dir := root(t, p)

	const workers, perWorker = 8, 25
	var (
		mu  sync.Mutex
		ids = make(map[vfs.FileID]struct{})
		g   errgroup.Group
	)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				id, err := p.CreateRecord(dir, nameFor(w, i), 0)
				if err != nil {
					return err
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, workers*perWorker)
	assert.Len(t, childNames(t, p, dir), workers*perWorker)
}

func nameFor(w, i int) string {
	return string(rune('a'+w)) + "-" + string(rune('a'+i))
}
