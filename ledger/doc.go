// Package ledger implements the update-lifecycle state machine: manufacturer
// access control, the update registry, notifications, acceptances, paid key
// delivery and installation confirmations.
//
// A Ledger owns an explicit State. Each mutating operation runs under a single
// write lock, builds an interfaces.ChangeSet describing its effects, persists
// it through the configured interfaces.LedgerStore and only then applies it to
// memory. An operation either commits all of its effects and events or fails
// with the state unchanged.
//
// # Key delivery
//
// DeliverKeyAndPayment follows checks-effects-interactions. The delivery and
// its KeyDelivered event are committed before the interfaces.ValueTransfer is
// asked to move exactly the update price from the buyer to the manufacturer.
// A failed transfer reverts both and surfaces interfaces.ErrTransferFailed;
// the revert is persisted even when the caller's context is already done. A
// transfer that reports interfaces.ErrTransferPending was submitted and may
// still settle, so the delivery is kept.
//
// The write lock is released while the transfer runs. Reads see the reserved
// delivery. Every mutating operation started before the transfer returns,
// whether from inside it or from another goroutine, fails with
// interfaces.ErrReentrantCall.
//
// # Usage
//
//	bank := escrow.NewBank()
//	l, err := ledger.New(ctx, &ledger.Config{
//	    Owner:    owner,
//	    Store:    statestore.NewMemoryStore(),
//	    Transfer: bank,
//	})
//	if err != nil {
//	    return err
//	}
//
//	err = l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer")
//	err = l.RegisterUpdate(ctx, manufacturer, &interfaces.UpdateRegistration{...})
//	err = l.AcceptUpdate(ctx, buyer, uid)
//	delivery, err := l.DeliverKeyAndPayment(ctx, buyer, uid, price)
package ledger
