/*
Package clients provides a Go client for the software update ledger API.

LedgerClient signs every mutating request with the caller's secp256k1 key,
so the server acts on behalf of the key's address. A client created without
a key can only read.

Non-2xx responses are returned as *StatusError, which unwraps to the ledger
sentinel named by the response code:

	_, err := client.DeliverKeyAndPayment(ctx, uid, value)
	if errors.Is(err, interfaces.ErrInsufficientPayment) {
		// retry with the listed price
	}

Downloaded payloads are checked against their content ID before they are
returned.
*/
package clients
