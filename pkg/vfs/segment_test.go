package vfs

import (
	"sync"
	"testing"

	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentFlagsDoNotTouchModCount(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	seg, err := store.initSlot(7, newRecord(7, 1, 1, false), 3, FlagWritable)
	require.NoError(t, err)

	for range 5 {
		seg.incModCount(7)
	}
	old := seg.setFlags(7, FlagHidden|FlagWritable, FlagHidden)
	assert.Equal(t, FlagWritable, old)
	assert.Equal(t, FlagHidden, seg.flags(7))
	assert.Equal(t, 5, seg.modCount(7))

	seg.setFlag(7, FlagInvalid, true)
	assert.True(t, seg.flags(7).Has(FlagInvalid|FlagHidden))
	assert.Equal(t, 5, seg.modCount(7))

	// Modcount bits passed as flag values are ignored.
	seg.setFlags(7, Flags(modCountMask), Flags(modCountMask))
	assert.Equal(t, 5, seg.modCount(7))
}

func TestSegmentModCountWraps(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	seg, err := store.initSlot(3, newRecord(3, 1, 1, false), 1, FlagWritable|FlagSymlink)
	require.NoError(t, err)

	seg.words[offset(3)].Store(uint32(FlagWritable|FlagSymlink) | modCountMask)
	assert.Equal(t, 0, seg.incModCount(3))
	assert.Equal(t, FlagWritable|FlagSymlink, seg.flags(3))
}

func TestSegmentConcurrentFlagUpdates(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	seg, err := store.initSlot(9, newRecord(9, 1, 1, false), 1, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, f := range []Flags{FlagWritable, FlagHidden, FlagOffline, FlagSymlink} {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 1000 {
				seg.setFlag(9, f, true)
			}
		}()
		go func() {
			defer wg.Done()
			for range 1000 {
				seg.incModCount(9)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, FlagWritable|FlagHidden|FlagOffline|FlagSymlink, seg.flags(9))
	assert.Equal(t, 4000, seg.modCount(9))
}

func TestStoreAlreadyInitialized(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	_, err := store.initSlot(5, newRecord(5, 1, 1, false), 1, 0)
	require.NoError(t, err)

	_, err = store.initSlot(5, newRecord(5, 2, 1, true), 2, 0)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Contains(t, err.Error(), "file record")
	assert.Contains(t, err.Error(), "attempted{kind=directory parent=2")
}

func TestStoreGrowth(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	first := store.segment(1, true)
	require.NotNil(t, first)
	assert.Nil(t, store.segment(1<<20, false))

	far := FileID(1<<20 | 17)
	seg, err := store.initSlot(far, newRecord(far, 1, 1, false), 4, 0)
	require.NoError(t, err)
	assert.Equal(t, segmentIndex(far), seg.Index())
	assert.Same(t, first, store.segment(1, false), "growing keeps existing segments")
	assert.Equal(t, 2, store.segments())

	_, rec := store.slot(far)
	assert.NotNil(t, rec)
	_, rec = store.slot(far + 1)
	assert.Nil(t, rec)
}

func TestStoreConcurrentSegmentCreation(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 64 {
				id := FileID((i*8 + w) * SegmentSize)
				if id == 0 {
					continue
				}
				_, err := store.initSlot(id, newRecord(id, 1, 1, false), 1, 0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 511, store.segments())
	for i := 1; i < 512; i++ {
		_, rec := store.slot(FileID(i * SegmentSize))
		assert.NotNil(t, rec, "segment %d", i)
	}
}

func TestStoreKill(t *testing.T) {
	store := newSegmentStore(metrics.NewNoopVFSMetrics())
	rec := newRecord(4, 1, 1, false)
	_, err := store.initSlot(4, rec, 1, 0)
	require.NoError(t, err)

	assert.Same(t, rec, store.kill(4))
	_, cur := store.slot(4)
	assert.Same(t, deadMarker, cur)
	assert.False(t, store.replace(4, rec, newRecord(4, 2, 1, false)))
}

func TestAttributesFlagsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attributes
		dir   bool
	}{
		{"plain file", AttrWritable, false},
		{"special file", AttrSpecial | AttrHidden, false},
		{"symlink", AttrSymlink | AttrOffline, false},
		{"sensitive dir", (AttrDirectory | AttrWritable).WithCaseSensitivity(true), true},
		{"insensitive dir", AttrDirectory.WithCaseSensitivity(false), true},
		{"unknown dir", AttrDirectory | AttrHidden, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.attrs, flagsToAttributes(attributesToFlags(tt.attrs), tt.dir))
		})
	}
}

func TestRecordReplacementChain(t *testing.T) {
	a := newRecord(10, 1, 1, false)
	b := a.transplant(2)
	a.replacement.Store(b)
	c := b.transplant(3)
	b.replacement.Store(c)

	assert.Same(t, c, a.latest())
	assert.Same(t, c, a.replacement.Load(), "chain is compressed")
	assert.Same(t, a.st, c.st, "moves share the state")
	assert.Equal(t, FileID(3), a.latest().parent)

	_, dead := c.deathReason()
	assert.False(t, dead)
	c.st.death.Store(&deathNote{reason: "gone"})
	reason, dead := a.latest().deathReason()
	assert.True(t, dead)
	assert.Equal(t, "gone", reason)
}
