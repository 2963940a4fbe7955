package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	payload := []byte("payload encrypted to the device key")
	id, err := backend.Store(ctx, payload, interfaces.PayloadType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(payload), id)
	assert.FileExists(t, filepath.Join(dir, "payloads", id.String()))

	data, err := backend.Fetch(ctx, id, interfaces.PayloadType)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// Namespaces are separate
	_, err = backend.Fetch(ctx, id, interfaces.ManifestType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// Storing the same content twice is idempotent
	again, err := backend.Store(ctx, payload, interfaces.PayloadType)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	t.Run("tampered file is rejected", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "payloads", id.String()), []byte("tampered"), 0644))
		_, err := backend.Fetch(ctx, id, interfaces.PayloadType)
		assert.ErrorIs(t, err, interfaces.ErrContentMismatch)
	})

	t.Run("removed directory is unavailable", func(t *testing.T) {
		gone := filepath.Join(t.TempDir(), "mirror")
		b, err := NewFileBackend(gone, discardLogger())
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(gone))
		assert.False(t, b.Available(ctx))
	})
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + dir))
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor("ipfs://127.0.0.1:5001/updates?timeout=5s")
	require.NoError(t, err)
	assert.IsType(t, &IPFSBackend{}, backend)
	assert.Equal(t, "ipfs-127.0.0.1-5001", backend.Name())

	backend, err = factory.StorageBackendFor("s3://updates-mirror/v1/?region=eu-west-1")
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, backend)

	backend, err = factory.StorageBackendFor("vault://127.0.0.1:8200/secret/updates?token=root&tls=false")
	require.NoError(t, err)
	assert.IsType(t, &VaultBackend{}, backend)
	assert.Equal(t, "vault-secret-updates", backend.Name())

	_, err = factory.StorageBackendFor("ftp://example.com/")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("ipfs://127.0.0.1/?timeout=soon")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("s3:///no-bucket")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		"ftp://example.com/",
		interfaces.StorageBackendLocation("file://" + dir),
	})
	require.NoError(t, err)
	assert.Len(t, multi.Backends(), 1)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ftp://example.com/"})
	assert.Error(t, err)
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "s3://AKIA@bucket/prefix", redactURI("s3://AKIA:secret@bucket/prefix"))
	assert.NotContains(t, redactURI("vault://host:8200/secret?token=s.abcdef"), "s.abcdef")
}
