package storage

import (
	"fmt"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// namespace is the directory, key prefix or path segment of a content type.
func namespace(ct interfaces.ContentType) string {
	switch ct {
	case interfaces.ManifestType:
		return "manifests"
	default:
		return "payloads"
	}
}

// verifyContent rejects data that does not hash to id. Backends are untrusted
// mirrors; only the anchored hash is authoritative.
func verifyContent(id interfaces.ContentID, data []byte) error {
	if actual := interfaces.ComputeID(data); actual != id {
		return fmt.Errorf("%w: expected %s, got %s", interfaces.ErrContentMismatch, id, actual)
	}
	return nil
}
