// Package interfaces defines the core types and interfaces of the software
// update ledger, separating interface definitions from implementations.
//
// # Ledger Types
//
// Principal is a 20-byte account address identifying the owner,
// manufacturers, buyers and devices. Update, Notification, Delivery and
// Installation are the records the ledger keeps; Event is an entry of its
// append-only event log.
//
// # Collaborator Interfaces
//
// LedgerStore: Persists committed ledger state as atomic change sets and
// restores it on startup (in memory or pebble).
//
// ValueTransfer: Forwards a buyer's payment to the manufacturer (in-process
// bank or native chain transfers).
//
// PayloadValidator: Optionally vets the opaque encrypted key and signature
// of a registered update.
//
// EventSink: Receives events after each successful operation.
//
// # Storage Interfaces
//
// StorageBackend: Content-addressed storage for encrypted update payloads
// and manifests across multiple backend types (file, S3, IPFS, Vault).
//
// ContentID is the SHA-256 of the stored bytes; it doubles as the update
// hash anchored in the ledger.
//
// # Errors
//
// Operations fail with the sentinel errors declared here, wrapped with
// context. Callers match them with errors.Is.
package interfaces
