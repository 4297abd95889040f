package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func TestHost_LongestPrefixWins(t *testing.T) {
	h := NewHost("ex.com")
	root := stubProvider{"root"}
	api := stubProvider{"api"}
	apiV1 := stubProvider{"api-v1"}
	h.AddProvider("/", root)
	h.AddProvider("/api", api)
	h.AddProvider("/api/v1", apiV1)
	h.Build()

	p, pos, ok := h.Lookup("/api/v1/x")
	require.True(t, ok)
	assert.Equal(t, apiV1, p)
	assert.Equal(t, len("/api/v1"), pos)
}

func TestHost_FolderBoundaryPrevented(t *testing.T) {
	h := NewHost("ex.com")
	api := stubProvider{"api"}
	h.AddProvider("/api", api)
	h.Build()

	_, _, ok := h.Lookup("/apiary")
	assert.False(t, ok, "/api must not match /apiary - no folder boundary")
}

func TestHost_RootMatchesEverythingAsFallback(t *testing.T) {
	h := NewHost("ex.com")
	root := stubProvider{"root"}
	specific := stubProvider{"specific"}
	h.AddProvider("/", root)
	h.AddProvider("/specific", specific)
	h.Build()

	p, _, ok := h.Lookup("/anything")
	require.True(t, ok)
	assert.Equal(t, root, p)

	p, _, ok = h.Lookup("/specific/sub")
	require.True(t, ok)
	assert.Equal(t, specific, p)
}

func TestHost_NoMatchWithoutRoot(t *testing.T) {
	h := NewHost("ex.com")
	h.AddProvider("/api", stubProvider{"api"})
	h.Build()

	_, _, ok := h.Lookup("/other")
	assert.False(t, ok)
}

func TestHost_AddProviderAfterBuildPanics(t *testing.T) {
	h := NewHost("ex.com")
	h.Build()

	assert.Panics(t, func() {
		h.AddProvider("/late", stubProvider{"late"})
	})
}
