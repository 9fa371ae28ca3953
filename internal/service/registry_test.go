package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Spec{Name: "api", Kind: KindBackend, Ports: []int{8000}}))
	require.NoError(t, r.Add(Spec{Name: "web", Kind: KindFrontend}))

	err := r.Add(Spec{Name: "api"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	s, ok := r.Get("api")
	require.True(t, ok)
	assert.Equal(t, []int{8000}, s.Ports)

	// mutation of the returned copy must not leak into the registry
	s.Ports[0] = 9999
	s2, _ := r.Get("api")
	assert.Equal(t, 8000, s2.Ports[0])

	_, err = r.Remove("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	removed, err := r.Remove("api")
	require.NoError(t, err)
	assert.Equal(t, "api", removed.Name)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryAddRemoveRoundTrip(t *testing.T) {
	r := NewRegistry(Spec{Name: "a"}, Spec{Name: "b"})
	before := r.List()
	require.NoError(t, r.Add(Spec{Name: "c"}))
	_, err := r.Remove("c")
	require.NoError(t, err)
	assert.Equal(t, before, r.List())
}

func TestRegistryReplaceDropsDuplicates(t *testing.T) {
	r := NewRegistry()
	r.Replace([]Spec{{Name: "a", StartCmd: "first"}, {Name: "a", StartCmd: "second"}, {Name: ""}, {Name: "b"}})
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].StartCmd)
}

func TestRegistryByKindIgnoresCase(t *testing.T) {
	r := NewRegistry(
		Spec{Name: "a", Kind: KindBackend},
		Spec{Name: "b", Kind: "Backend"},
		Spec{Name: "c", Kind: KindFrontend},
	)
	got := r.ByKind("BACKEND")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Frontend ")
	require.NoError(t, err)
	assert.Equal(t, KindFrontend, k)
	_, err = ParseKind("database")
	assert.Error(t, err)
}
