// Package main (cmd/httpserver) runs the software update ledger server.
//
// The server exposes the ledger over HTTP: manufacturers register updates and
// publish notifications, buyers accept updates, pay for the decryption key and
// confirm installations. Mutating requests are authenticated by a signature
// over the request body; the recovered address is the caller.
//
// Ledger state is kept in a pebble directory (--store-dir) or in memory.
// Payments settle either against an in-process bank (--escrow=bank) or as
// native transfers on an Ethereum compatible chain (--escrow=eth). Encrypted
// payloads can be hosted on any mix of file, S3, IPFS and Vault backends.
//
// Example usage:
//
//	ledger-server --owner=0x5B38Da6a701c568545dCfcB03FcB875f56beddC4 \
//	    --listen-addr=0.0.0.0:8080 \
//	    --store-dir=/var/lib/ledger \
//	    --bank-balance=0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2=1000000 \
//	    --storage=file:///var/lib/ledger/payloads \
//	    --storage=ipfs://127.0.0.1:5001/
package main
