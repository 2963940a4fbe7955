// Package interfaces defines the core interfaces and types for the update ledger.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Principal is an authenticated caller identity (an Ethereum-style address).
type Principal = common.Address

// UpdateHash is the fixed-size content digest of an update payload.
type UpdateHash [32]byte

// NewUpdateHashFromHex parses a 32-byte hash from a hex string, with or without 0x prefix.
func NewUpdateHashFromHex(source string) (UpdateHash, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return UpdateHash{}, errors.New("invalid update hash length: hex string must be 64 characters")
	}

	hashBytes, err := hex.DecodeString(clean)
	if err != nil {
		return UpdateHash{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var hash UpdateHash
	copy(hash[:], hashBytes)
	return hash, nil
}

// String returns the 0x-prefixed hex representation.
func (h UpdateHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Manufacturer is a principal allowed by the owner to publish updates.
type Manufacturer struct {
	Address Principal
	Name    string
	Active  bool
}

// Update is a manufacturer's commitment to a software update.
// EncryptedKey and Signature are opaque blobs, never interpreted by the ledger.
type Update struct {
	UID          string
	Hash         UpdateHash
	EncryptedKey []byte
	Signature    []byte
	Price        *big.Int
	Active       bool
	CreatedAt    uint64
	Manufacturer Principal

	// Index is the registration order, starting at 0.
	Index uint64
}

// UpdateRegistration carries the arguments of a registerUpdate call.
type UpdateRegistration struct {
	UID          string
	Hash         UpdateHash
	EncryptedKey []byte
	Signature    []byte
	Price        *big.Int
}

// UpdateDetails is the read-only view returned by getUpdateDetails.
type UpdateDetails struct {
	Hash         UpdateHash
	EncryptedKey []byte
	Signature    []byte
	Price        *big.Int
	CreatedAt    uint64
	Manufacturer Principal
	Active       bool
}

// Notification describes the changes carried by an update.
type Notification struct {
	UID          string
	Description  string
	Manufacturer Principal
	Security     bool
	BugFix       bool
	Feature      bool
	SecurityDesc string
	BugFixDesc   string
	FeatureDesc  string
	IssuedAt     uint64
}

// NotificationRequest carries the arguments of a sendUpdateNotification call.
type NotificationRequest struct {
	UID          string
	Description  string
	Security     bool
	BugFix       bool
	Feature      bool
	SecurityDesc string
	BugFixDesc   string
	FeatureDesc  string
}

// PairKey addresses per-(update, principal) tables.
type PairKey struct {
	UID       string
	Principal Principal
}

// Delivery records that a buyer paid for an update and was released its key.
type Delivery struct {
	UID         string
	Buyer       Principal
	Amount      *big.Int
	DeliveredAt uint64
}

// Installation records a device on which a buyer confirmed an update.
type Installation struct {
	UID    string
	Buyer  Principal
	Device Principal
}

// EventKind names an externally observable ledger event.
type EventKind string

const (
	EventManufacturerRegistered  EventKind = "ManufacturerRegistered"
	EventManufacturerDeactivated EventKind = "ManufacturerDeactivated"
	EventUpdateRegistered        EventKind = "UpdateRegistered"
	EventUpdateDeactivated       EventKind = "UpdateDeactivated"
	EventUpdateNotified          EventKind = "UpdateNotified"
	EventUpdateAccepted          EventKind = "UpdateAccepted"
	EventKeyDelivered            EventKind = "KeyDelivered"
	EventUpdateInstalled         EventKind = "UpdateInstalled"
)

// Event is an append-only log entry emitted by a successful operation.
// Principal is the buyer for acceptance and delivery, the device for installation,
// and the manufacturer for manufacturer events.
type Event struct {
	Seq       uint64
	Kind      EventKind
	UID       string
	Principal Principal
	Amount    *big.Int
	Time      uint64
}

// String returns a short human readable form, e.g. KeyDelivered(uid, 0xabc...).
func (e Event) String() string {
	switch e.Kind {
	case EventUpdateRegistered, EventUpdateNotified, EventUpdateDeactivated:
		return fmt.Sprintf("%s(%s)", e.Kind, e.UID)
	case EventManufacturerRegistered, EventManufacturerDeactivated:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Principal.Hex())
	default:
		return fmt.Sprintf("%s(%s, %s)", e.Kind, e.UID, e.Principal.Hex())
	}
}
