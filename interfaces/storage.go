package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash uniquely identifying hosted payload content.
// A payload's ContentID is what manufacturers anchor as the update hash.
type ContentID [32]byte

// NewContentIDFromHex parses a content ID from a hex string, with or without 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash [32]byte
	copy(hash[:], hashBytes)
	return ContentID(hash), nil
}

// ComputeID calculates content ID from data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// UpdateHash returns the content ID as an update hash.
func (id ContentID) UpdateHash() UpdateHash {
	return UpdateHash(id)
}

// ContentType indicates storage namespace.
type ContentType int

const (
	// PayloadType for encrypted update payloads
	PayloadType ContentType = iota
	// ManifestType for manufacturer-published update manifests
	ManifestType
)

// String returns type name.
func (ct ContentType) String() string {
	switch ct {
	case PayloadType:
		return "payload"
	case ManifestType:
		return "manifest"
	default:
		return "unknown"
	}
}

// ParseContentType maps a type name back to its ContentType.
func ParseContentType(name string) (ContentType, error) {
	switch name {
	case "", "payload":
		return PayloadType, nil
	case "manifest":
		return ManifestType, nil
	default:
		return 0, fmt.Errorf("unknown content type: %s", name)
	}
}

// StorageBackendLocation is a backend URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
type StorageBackendLocation string

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrContentMismatch is returned when fetched bytes do not hash to the requested content ID.
	ErrContentMismatch = errors.New("content does not match its identifier")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed storage for update payloads.
type StorageBackend interface {
	// Fetch retrieves data by content ID and type.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte, contentType ContentType) (ContentID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}
