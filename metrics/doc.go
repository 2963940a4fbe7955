// Package metrics exposes prometheus collectors for the ledger service:
// committed events by kind, forwarded escrow value and HTTP request
// statistics, served from a dedicated registry on the metrics address.
package metrics
