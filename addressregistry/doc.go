// Package addressregistry provides the name to address directory published
// next to the ledger. Writes are restricted to a single admin principal;
// unknown names resolve to interfaces.ErrNotFound.
package addressregistry
