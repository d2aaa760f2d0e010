package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.db")

	bundle, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create bundle: %v", err)
	}
	defer bundle.Close()

	if bundle.db == nil {
		t.Error("Bundle database is nil")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir", "models.db"))
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestBundle_Close(t *testing.T) {
	bundle, err := New(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)

	assert.NoError(t, bundle.Close())
	// closing an already closed bundle
	assert.NoError(t, bundle.Close())

	_, err = bundle.Get("rf")
	assert.Error(t, err)
	assert.Error(t, bundle.Put("rf", []byte("x")))
}

func TestBundle_PutGetList(t *testing.T) {
	bundle, err := New(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	defer bundle.Close()

	require.NoError(t, bundle.Put("scaler", []byte(`{"type":"identity"}`)))
	require.NoError(t, bundle.Put("rf", []byte(`{"type":"random_forest"}`)))
	require.NoError(t, bundle.Put("rf", []byte(`{"type":"knn"}`)))

	got, err := bundle.Get("rf")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"knn"}`, string(got))

	_, err = bundle.Get("svm")
	assert.True(t, errors.Is(err, ErrNotFound))

	infos, err := bundle.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "rf", infos[0].Name)
	assert.Equal(t, len(`{"type":"knn"}`), infos[0].Size)
	assert.Len(t, infos[0].SHA256, 64)
	assert.False(t, infos[0].StoredAt.IsZero())
	assert.Equal(t, "scaler", infos[1].Name)

	assert.Error(t, bundle.Put("", []byte("x")))
}

func TestOpen_ReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.db")
	bundle, err := New(path)
	require.NoError(t, err)
	require.NoError(t, bundle.Put("ae", []byte("weights")))
	require.NoError(t, bundle.Close())

	ro, err := Open(path)
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.Get("ae")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(got))
	assert.Error(t, ro.Put("other", []byte("x")))

	_, err = Open(filepath.Join(t.TempDir(), "nope.db"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
