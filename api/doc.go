/*
Package api holds the wire types shared by the ledger HTTP server and its
clients: request and response bodies, the server configuration, and the
mapping between ledger errors and HTTP statuses.

The clients subpackage implements a signing Go client for the API.
*/
package api
