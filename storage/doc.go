// Package storage provides content-addressed hosting for encrypted update
// payloads and update manifests.
//
// Payloads live off-ledger. The ledger only anchors their SHA-256 hash, so any
// backend can act as an untrusted mirror: every Fetch re-hashes the returned
// bytes and rejects content that does not match the requested identifier with
// interfaces.ErrContentMismatch.
//
// Supported backends:
//
//   - File system storage for local development and single-host deployments
//   - S3-compatible storage for public download mirrors
//   - IPFS storage through the node's mutable file system
//   - Vault KV v2 storage for operator-private staging
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///var/lib/updates/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/software-updates?timeout=30s
//   - vault://vault.example.com:8200/secret/updates?token=...
//
// # Content Types
//
// Payloads and manifests are stored in separate namespaces ("payloads" and
// "manifests") on every backend.
//
// # Multi-Backend Example
//
//	factory := storage.NewStorageBackendFactory(logger)
//	mirrors, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
//	    "file:///var/lib/updates/",
//	    "s3://updates-mirror/v1/?region=eu-west-1",
//	})
//	if err != nil {
//	    return err
//	}
//	id, err := mirrors.Store(ctx, encryptedPayload, interfaces.PayloadType)
package storage
