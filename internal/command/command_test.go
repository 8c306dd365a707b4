package command

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSet struct {
	Base
	Key   string `json:"key"`
	Value int    `json:"value"`
}

func (testSet) Kind() Kind { return Mutating }

func (c testSet) Validate() error {
	if c.Key == "" {
		return errors.New("empty key")
	}
	return nil
}

type testGet struct {
	Base
	Key string `json:"key"`
}

func (testGet) Kind() Kind { return Query }

func TestKind_String(t *testing.T) {
	assert.Equal(t, "mutating", Mutating.String())
	assert.Equal(t, "query", Query.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestBase_CommandID(t *testing.T) {
	c := testSet{Base: Base{ID: "abc"}, Key: "k"}
	assert.Equal(t, "abc", c.CommandID())
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(testSet{Key: "k"}))
	require.Error(t, Validate(testSet{}))
	require.NoError(t, Validate(testGet{}), "commands without Validator always pass")
}

func TestRegistry_RoundTripTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("test.set", testSet{}))
	require.NoError(t, r.Register("test.get", testGet{}))

	name, err := r.NameOf(testSet{Key: "x"})
	require.NoError(t, err)
	assert.Equal(t, "test.set", name)

	ptr, err := r.New("test.get")
	require.NoError(t, err)
	_, ok := ptr.(*testGet)
	require.True(t, ok, "New should return a pointer to the registered type")

	cmd, err := Deref(ptr)
	require.NoError(t, err)
	assert.Equal(t, Query, cmd.Kind())

	assert.Equal(t, []string{"test.get", "test.set"}, r.Names())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("test.set", testSet{}))

	// Same binding twice is fine
	require.NoError(t, r.Register("test.set", testSet{}))

	err := r.Register("test.set", testGet{})
	require.Error(t, err, "name rebinding must fail")

	err = r.Register("other.set", testSet{})
	require.Error(t, err, "type rebinding must fail")

	err = r.Register("", testGet{})
	require.Error(t, err)

	err = r.Register("ptr", &testGet{})
	require.Error(t, err)

	_, err = r.NameOf(testGet{})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = r.New("missing")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("a", testSet{})
	assert.Panics(t, func() { r.MustRegister("a", testGet{}) })
}

func TestDeref_RejectsNonPointer(t *testing.T) {
	_, err := Deref(testSet{})
	require.Error(t, err)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "cmd-1", g.Generate())
	assert.Equal(t, "cmd-2", g.Generate())

	g2 := NewSequenceGenerator("set")
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g2.Generate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 50)
}
