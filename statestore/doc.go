// Package statestore provides interfaces.LedgerStore implementations.
//
// MemoryStore keeps state in process memory. PebbleStore persists it in a
// cockroachdb/pebble database, one key prefix per table:
//
//	0x01 manufacturer address            -> manufacturer record
//	0x02 uid                             -> update record
//	0x03 uid                             -> notification record
//	0x04 buyer address | uid             -> (empty) acceptance flag
//	0x05 buyer address | uid             -> delivery record
//	0x06 buyer | device address | uid    -> (empty) installation
//	0x07 big-endian event sequence       -> event record
//	0x08 "owner"                         -> owner address
//
// Records are msgpack encoded. Each change set is committed as a single
// synced batch.
package statestore
