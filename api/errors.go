package api

import (
	"errors"
	"net/http"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// Error codes carried in ErrorResponse.Code. They let clients recover the
// ledger sentinel error where several errors share an HTTP status.
const (
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeInactive            = "inactive"
	CodeDuplicateUpdate     = "duplicate_update"
	CodeAlreadyDelivered    = "already_delivered"
	CodeReentrantCall       = "reentrant_call"
	CodeNotAccepted         = "not_accepted"
	CodeNotDelivered        = "not_delivered"
	CodeInsufficientPayment = "insufficient_payment"
	CodeTransferFailed      = "transfer_failed"
	CodeInvalidArgument     = "invalid_argument"
	CodeInvalidPayload      = "invalid_payload"
	CodeContentNotFound     = "content_not_found"
	CodeContentMismatch     = "content_mismatch"
	CodeBackendUnavailable  = "backend_unavailable"
	CodeMissingSignature    = "missing_signature"
	CodeInternal            = "internal"
)

// ErrSignature is reported for requests whose signature header is missing
// or does not verify.
var ErrSignature = errors.New("missing or invalid request signature")

type errorMapping struct {
	err    error
	code   string
	status int
}

// errorTable is ordered: the first sentinel matched by errors.Is wins.
// TransferFailed comes first since a failed transfer may also wrap a
// store error from the compensating revert.
var errorTable = []errorMapping{
	{interfaces.ErrTransferFailed, CodeTransferFailed, http.StatusBadGateway},
	{ErrSignature, CodeMissingSignature, http.StatusUnauthorized},
	{interfaces.ErrUnauthorized, CodeUnauthorized, http.StatusForbidden},
	{interfaces.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{interfaces.ErrInactive, CodeInactive, http.StatusConflict},
	{interfaces.ErrDuplicateUpdate, CodeDuplicateUpdate, http.StatusConflict},
	{interfaces.ErrAlreadyDelivered, CodeAlreadyDelivered, http.StatusConflict},
	{interfaces.ErrReentrantCall, CodeReentrantCall, http.StatusConflict},
	{interfaces.ErrNotAccepted, CodeNotAccepted, http.StatusPreconditionFailed},
	{interfaces.ErrNotDelivered, CodeNotDelivered, http.StatusPreconditionFailed},
	{interfaces.ErrInsufficientPayment, CodeInsufficientPayment, http.StatusPaymentRequired},
	{interfaces.ErrInvalidArgument, CodeInvalidArgument, http.StatusBadRequest},
	{interfaces.ErrInvalidPayload, CodeInvalidPayload, http.StatusBadRequest},
	{interfaces.ErrContentNotFound, CodeContentNotFound, http.StatusNotFound},
	{interfaces.ErrContentMismatch, CodeContentMismatch, http.StatusBadGateway},
	{interfaces.ErrBackendUnavailable, CodeBackendUnavailable, http.StatusServiceUnavailable},
}

// StatusFor returns the HTTP status and error code for err.
// Unrecognized errors map to 500.
func StatusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// SentinelFor returns the sentinel error identified by code, or nil.
func SentinelFor(code string) error {
	for _, m := range errorTable {
		if m.code == code {
			return m.err
		}
	}
	return nil
}
