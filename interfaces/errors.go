package interfaces

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the required role or ownership.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a referenced update, notification or principal is absent.
	ErrNotFound = errors.New("not found")

	// ErrInactive is returned when the referenced update or manufacturer is deactivated.
	ErrInactive = errors.New("inactive")

	// ErrDuplicateUpdate is returned when registering an update under an existing UID.
	ErrDuplicateUpdate = errors.New("duplicate update")

	// ErrNotAccepted is returned when a key delivery is attempted before acceptance.
	ErrNotAccepted = errors.New("update not accepted")

	// ErrInsufficientPayment is returned when the attached value is below the update price.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrTransferFailed is returned when forwarding funds to the manufacturer did not complete.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrTransferPending is returned by a ValueTransfer that submitted the payment
	// but could not observe its outcome. The value may still move.
	ErrTransferPending = errors.New("transfer pending")

	// ErrNotDelivered is returned when an installation is confirmed before key delivery.
	ErrNotDelivered = errors.New("key not delivered")

	// ErrAlreadyDelivered is returned when a buyer pays twice for the same update.
	ErrAlreadyDelivered = errors.New("key already delivered")

	// ErrReentrantCall is returned when a mutating operation is invoked while a
	// delivery's value transfer is in flight.
	ErrReentrantCall = errors.New("reentrant call")

	// ErrInvalidArgument is returned for malformed operation arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPayload is returned when the payload validator rejects an update's blobs.
	ErrInvalidPayload = errors.New("invalid payload")
)
