package intern

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDataWith(t *testing.T) {
	color := NewKey("color")
	size := NewKey("size")

	m := Empty.With(color, "red").With(size, 3)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "red", m.Get(color))
	assert.Equal(t, 3, m.Get(size))
	assert.Equal(t, 0, Empty.Len(), "Empty must not be mutated")

	assert.Same(t, m, m.With(color, "red"), "setting the same value returns the receiver")

	removed := m.With(color, nil)
	assert.Nil(t, removed.Get(color))
	assert.Equal(t, 1, removed.Len())
	assert.Same(t, Empty, removed.With(size, nil))
}

func TestUserDataKeysCompareByIdentity(t *testing.T) {
	a := NewKey("dup")
	b := NewKey("dup")

	m := Empty.With(a, 1)
	assert.Nil(t, m.Get(b))
}

func TestUserDataInternerReturnsCanonical(t *testing.T) {
	in, err := NewUserDataInterner(20, 4)
	require.NoError(t, err)

	key := NewKey("encoding")
	first := in.Intern(Empty.With(key, "utf-8"))
	second := in.Intern(Empty.With(key, "utf-8"))
	assert.Same(t, first, second)

	other := in.Intern(Empty.With(key, "latin1"))
	assert.NotSame(t, first, other)

	hits, misses := in.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
	runtime.KeepAlive(first)
}

func TestUserDataInternerComparesPointersByIdentity(t *testing.T) {
	in, err := NewUserDataInterner(20, 4)
	require.NoError(t, err)

	type payload struct{ n int }
	key := NewKey("payload")
	p1, p2 := &payload{1}, &payload{1}

	a := in.Intern(Empty.With(key, p1))
	b := in.Intern(Empty.With(key, p2))
	assert.NotSame(t, a, b, "distinct pointers are distinct values")
	assert.Same(t, a, in.Intern(Empty.With(key, p1)))
	runtime.KeepAlive(b)
}

func TestUserDataInternerSkipsLargeAndUncomparable(t *testing.T) {
	in, err := NewUserDataInterner(20, 1)
	require.NoError(t, err)

	k1, k2 := NewKey("a"), NewKey("b")
	large := Empty.With(k1, 1).With(k2, 2)
	assert.Same(t, large, in.Intern(large))
	assert.NotSame(t, large, in.Intern(Empty.With(k1, 1).With(k2, 2)))

	slice := Empty.With(k1, []string{"x"})
	assert.Same(t, slice, in.Intern(slice))
	assert.Equal(t, 0, in.Len())

	assert.Same(t, Empty, in.Intern(nil))
}

type boxed struct{ X any }

func TestUserDataInternerSkipsDynamicallyUncomparable(t *testing.T) {
	in, err := NewUserDataInterner(20, 4)
	require.NoError(t, err)

	key := NewKey("box")
	first := Empty.With(key, boxed{[]int{1}})
	second := Empty.With(key, boxed{[]int{1}})

	assert.NotPanics(t, func() {
		assert.Same(t, first, in.Intern(first))
		assert.Same(t, second, in.Intern(second))
	})
	assert.Equal(t, 0, in.Len())

	scalar := Empty.With(key, boxed{42})
	assert.Same(t, scalar, in.Intern(scalar))
	assert.Same(t, scalar, in.Intern(Empty.With(key, boxed{42})))
}

func TestUserDataWithDynamicallyUncomparable(t *testing.T) {
	key := NewKey("box")
	m := Empty.With(key, boxed{[]int{1}})

	var replaced *UserData
	require.NotPanics(t, func() { replaced = m.With(key, boxed{[]int{1}}) })
	assert.NotSame(t, m, replaced)
	assert.Equal(t, boxed{[]int{1}}, replaced.Get(key))

	same := Empty.With(key, boxed{"x"})
	assert.Same(t, same, same.With(key, boxed{"x"}))
}

func TestUserDataInternerEvictsOldest(t *testing.T) {
	in, err := NewUserDataInterner(2, 4)
	require.NoError(t, err)

	key := NewKey("n")
	kept := make([]*UserData, 0, 3)
	for i := 0; i < 3; i++ {
		kept = append(kept, in.Intern(Empty.With(key, i)))
	}
	assert.Equal(t, 2, in.Len())

	// The first map was evicted, so an equal map becomes the new canonical one.
	again := in.Intern(Empty.With(key, 0))
	assert.NotSame(t, kept[0], again)
	runtime.KeepAlive(kept)

	in.Clear()
	assert.Equal(t, 0, in.Len())
}

type fakeNames struct {
	mu    sync.Mutex
	ids   map[string]int32
	names map[int32]string
}

func newFakeNames() *fakeNames {
	return &fakeNames{ids: map[string]int32{}, names: map[int32]string{}}
}

func (f *fakeNames) ID(name string) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "bad" {
		return 0, errors.New("cannot intern")
	}
	if id, ok := f.ids[name]; ok {
		return id, nil
	}
	id := int32(len(f.ids) + 1)
	f.ids[name] = id
	f.names[id] = name
	return id, nil
}

func (f *fakeNames) Name(id int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("unknown id")
	}
	return name, nil
}

func TestPathInterner(t *testing.T) {
	p := NewPathInterner(newFakeNames())

	a, err := p.Intern("src/main/Foo.go")
	require.NoError(t, err)
	b, err := p.Intern("src//main/Foo.go/")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, "src/main/Foo.go", a.String())

	abs, err := p.Intern("/src/main/Foo.go")
	require.NoError(t, err)
	assert.False(t, a.Equal(abs))
	assert.Equal(t, "/src/main/Foo.go", abs.String())

	// Same name ids, different order.
	c, err := p.Intern("main/src/Foo.go")
	require.NoError(t, err)
	assert.False(t, a.Equal(c))

	assert.Equal(t, 3, p.Len())
	runtime.KeepAlive([]*PathView{a, abs, c})

	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestPathInternerPropagatesNameErrors(t *testing.T) {
	p := NewPathInterner(newFakeNames())
	_, err := p.Intern("ok/bad/file")
	require.Error(t, err)
}

func TestPathViewStringUnknownID(t *testing.T) {
	p := NewPathInterner(newFakeNames())
	v := p.InternIDs([]int32{42}, false)
	assert.Equal(t, "#42", v.String())
}
