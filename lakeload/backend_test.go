package lakeload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DefaultsToFile(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"file"}, r.Schemes())
	_, ok := r.Lookup("FILE")
	assert.True(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first, second := NewMemory(), NewMemory()
	r.Register(func(context.Context, Binding) (Store, error) { return first, nil }, "s3")
	r.Register(func(context.Context, Binding) (Store, error) { return second, nil }, "S3", "s3a")

	store, err := r.Bind(t.Context(), Binding{Location: MustParseLocation("s3://b/t")})
	require.NoError(t, err)
	assert.Same(t, second, store)
	assert.Equal(t, []string{"file", "s3", "s3a"}, r.Schemes())
}

func TestRegistry_BindUnsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Bind(t.Context(), Binding{Location: MustParseLocation("abfss://container/t")})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Contains(t, err.Error(), "registered: file")
}
