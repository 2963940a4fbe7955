package interfaces

import (
	"context"
	"math/big"
)

// ChangeSet is the complete set of writes produced by one ledger operation.
// Stores must apply a ChangeSet atomically: all of it or none of it.
type ChangeSet struct {
	Owner         *Principal
	Manufacturers []Manufacturer
	Updates       []Update
	Notifications []Notification
	Acceptances   []PairKey
	Deliveries    []Delivery
	Installations []Installation
	Events        []Event

	// Reverted entries are removed. They are only produced when compensating
	// a delivery whose value transfer failed.
	RevertedDeliveries []PairKey
	RevertedEvents     []uint64
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c.Owner == nil &&
		len(c.Manufacturers) == 0 &&
		len(c.Updates) == 0 &&
		len(c.Notifications) == 0 &&
		len(c.Acceptances) == 0 &&
		len(c.Deliveries) == 0 &&
		len(c.Installations) == 0 &&
		len(c.Events) == 0 &&
		len(c.RevertedDeliveries) == 0 &&
		len(c.RevertedEvents) == 0
}

// Snapshot is the full persisted ledger state, as loaded at startup.
type Snapshot struct {
	Owner         *Principal
	Manufacturers []Manufacturer
	Updates       []Update
	Notifications []Notification
	Acceptances   []PairKey
	Deliveries    []Delivery
	Installations []Installation
	Events        []Event
}

// LedgerStore persists ledger state. The four logical tables (manufacturers,
// updates, notifications, acceptances) plus deliveries, installations and the
// event log are written through Commit only.
type LedgerStore interface {
	// Load returns everything previously committed.
	Load(ctx context.Context) (*Snapshot, error)

	// Commit atomically applies a change set.
	Commit(ctx context.Context, changes *ChangeSet) error

	// Close releases the underlying resources.
	Close() error
}

// ValueTransfer moves native value on behalf of the ledger.
// Transfer must be all-or-nothing: when it returns an error no value moved.
// The one exception is an error wrapping ErrTransferPending, returned once the
// payment left the payer but its outcome is unknown; the ledger then treats
// the payment as made.
type ValueTransfer interface {
	Transfer(ctx context.Context, from, to Principal, amount *big.Int) error
}

// PayloadValidator decides whether a manufacturer's opaque blobs are acceptable.
// The ledger never interprets EncryptedKey or Signature itself.
type PayloadValidator interface {
	ValidateUpdate(manufacturer Principal, registration *UpdateRegistration) error
}

// Clock provides the ledger's logical time.
type Clock interface {
	Now() uint64
}

// EventSink observes events after the operation that emitted them committed.
type EventSink interface {
	OnEvents(events []Event)
}
