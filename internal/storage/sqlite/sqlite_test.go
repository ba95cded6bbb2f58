package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_KeyValue(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "push.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(ctx, "push.device", []byte("one")))
	require.NoError(t, s.Set(ctx, "push.device", []byte("two")))
	got, err := s.Get(ctx, "push.device")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	require.NoError(t, s.Delete(ctx, "push.device"))
	_, err = s.Get(ctx, "push.device")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "push.sqlite")

	s, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "push.activation", []byte(`{"version":1}`)))
	require.NoError(t, s.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "push.activation")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1}`, string(got))
}
