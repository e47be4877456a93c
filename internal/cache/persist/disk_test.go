package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerfedge/scenecache/pkg/errors"
)

func newTestStore(t *testing.T, compression bool) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(DiskStoreConfig{
		Directory:   t.TempDir(),
		Compression: compression,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDiskStoreRoundTrip(t *testing.T) {
	for _, compression := range []bool{false, true} {
		name := "raw"
		if compression {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, compression)
			ctx := context.Background()

			payload := []byte("density grid for chunk 3_1_0")
			require.NoError(t, s.Put(ctx, "chunk/3_1_0", payload))

			got, err := s.Get(ctx, "chunk/3_1_0")
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDiskStoreMissingKey(t *testing.T) {
	s := newTestStore(t, false)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrStoreNotFound)
}

func TestDiskStoreDelete(t *testing.T) {
	s := newTestStore(t, false)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("x")))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrStoreNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}

func TestDiskStoreOverwrite(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("one")))
	require.NoError(t, s.Put(ctx, "k", []byte("two")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
	assert.Equal(t, 1, s.Len())
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewDiskStore(DiskStoreConfig{Directory: dir, Compression: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "chunk/0_0_0", []byte("persisted across restarts")))
	require.NoError(t, s1.Close())

	s2, err := NewDiskStore(DiskStoreConfig{Directory: dir, Compression: true}, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "chunk/0_0_0")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted across restarts"), got)
}

func TestDiskStoreDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewDiskStore(DiskStoreConfig{Directory: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "k", []byte("pristine")))

	// Flip bytes in the stored file behind the store's back.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bin" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, e.Name()), []byte("tampered"), 0o640))
		}
	}

	_, err = s.Get(ctx, "k")
	require.Error(t, err)
	var serr *errors.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, errors.ErrCodeStoreCorrupt, serr.Code)

	// The corrupt entry is gone; a later read is a clean miss.
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrStoreNotFound)
}

func TestDiskStoreMissingFileIsCleanMiss(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewDiskStore(DiskStoreConfig{Directory: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "k", []byte("x")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bin" {
			require.NoError(t, os.Remove(filepath.Join(dir, e.Name())))
		}
	}

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrStoreNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestDiskStoreRequiresDirectory(t *testing.T) {
	_, err := NewDiskStore(DiskStoreConfig{}, nil)
	require.Error(t, err)
	var serr *errors.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, errors.ErrCodeInvalidConfig, serr.Code)
}
