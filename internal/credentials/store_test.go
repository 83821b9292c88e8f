package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sessiongate.local/gateway/internal/db"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	gormDB, err := db.OpenGorm(db.DriverSQLite, filepath.Join(t.TempDir(), "credentials.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })

	gormStore, err := NewGormStore(gormDB)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   gormStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := store.Exists(ctx, "tenant-a")
			require.NoError(t, err)
			require.False(t, ok)

			_, err = store.Get(ctx, "tenant-a")
			require.True(t, errors.Is(err, ErrNotFound))

			require.NoError(t, store.Put(ctx, "tenant-b", []byte("blob-b")))
			require.NoError(t, store.Put(ctx, "tenant-a", []byte("blob-a1")))
			require.NoError(t, store.Put(ctx, "tenant-a", []byte("blob-a2")))

			blob, err := store.Get(ctx, "tenant-a")
			require.NoError(t, err)
			require.Equal(t, []byte("blob-a2"), blob)

			listed, err := store.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"tenant-a", "tenant-b"}, listed)

			deleted, err := store.Delete(ctx, "tenant-a")
			require.NoError(t, err)
			require.True(t, deleted)

			deleted, err = store.Delete(ctx, "tenant-a")
			require.NoError(t, err)
			require.False(t, deleted)

			ok, err = store.Exists(ctx, "tenant-a")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestMemoryStoreIsolatesCallerBuffers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	blob := []byte("secret")
	require.NoError(t, store.Put(ctx, "t1", blob))
	blob[0] = 'X'

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "secret", string(got))

	got[0] = 'Y'
	again, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "secret", string(again))
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.List(context.Background())
	require.Error(t, err)
	require.Error(t, store.Put(context.Background(), "t1", []byte("x")))
}
