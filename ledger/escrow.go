package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/hashicorp/go-multierror"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// DeliverKeyAndPayment releases the update key to the caller against payment.
//
// value is the amount the buyer attached. Exactly the update price is
// forwarded to the manufacturer; any excess is never taken from the buyer.
//
// The delivery record and the KeyDelivered event are committed before the
// value transfer runs, and the write lock is released while it runs. Reads
// observe the delivery; mutations, including ones issued from inside the
// transfer, fail with ErrReentrantCall until it returns. If the transfer fails
// the delivery is reverted and ErrTransferFailed is returned, leaving the
// state as it was before the call. A transfer reported as pending keeps the
// delivery.
func (l *Ledger) DeliverKeyAndPayment(ctx context.Context, caller interfaces.Principal, uid string, value *big.Int) (*interfaces.Delivery, error) {
	const op = "deliverKeyAndPayment"

	if ctx.Value(transferCtxKey{}) != nil {
		return nil, fmt.Errorf("%s: %w", op, interfaces.ErrReentrantCall)
	}

	l.mu.Lock()
	if l.delivering {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, interfaces.ErrReentrantCall)
	}
	delivery, cs, payee, err := l.reserveDelivery(ctx, caller, uid, value)
	paid := err == nil && delivery.Amount.Sign() > 0
	if paid {
		l.delivering = true
	}
	l.mu.Unlock()

	if paid {
		err = l.pay(ctx, cs, caller, payee, delivery.Amount)
	}
	if err != nil {
		l.log.Debug("Operation rejected", "op", op, "uid", uid, "buyer", caller.Hex(), "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l.log.Info("Key delivered",
		"uid", uid,
		"buyer", caller.Hex(),
		"amount", delivery.Amount.String())
	l.publish(cs.Events)

	out := cloneDelivery(*delivery)
	return &out, nil
}

// reserveDelivery checks the delivery preconditions and commits the delivery
// record. It returns the manufacturer to pay. Must be called with the write
// lock held.
func (l *Ledger) reserveDelivery(ctx context.Context, caller interfaces.Principal, uid string, value *big.Int) (*interfaces.Delivery, *interfaces.ChangeSet, interfaces.Principal, error) {
	// checks
	u, err := l.state.activeUpdate(uid)
	if err != nil {
		return nil, nil, interfaces.Principal{}, err
	}
	key := interfaces.PairKey{UID: uid, Principal: caller}
	if _, accepted := l.state.acceptances[key]; !accepted {
		return nil, nil, interfaces.Principal{}, interfaces.ErrNotAccepted
	}
	if _, delivered := l.state.deliveries[key]; delivered {
		return nil, nil, interfaces.Principal{}, interfaces.ErrAlreadyDelivered
	}
	if value == nil || value.Cmp(u.Price) < 0 {
		return nil, nil, interfaces.Principal{}, interfaces.ErrInsufficientPayment
	}

	// effects
	price := cloneBig(u.Price)
	delivery := interfaces.Delivery{
		UID:         uid,
		Buyer:       caller,
		Amount:      price,
		DeliveredAt: l.clock.Now(),
	}
	cs := &interfaces.ChangeSet{Deliveries: []interfaces.Delivery{delivery}}
	l.emit(cs, interfaces.EventKeyDelivered, uid, caller).Amount = cloneBig(price)
	if err := l.commit(ctx, cs); err != nil {
		return nil, nil, interfaces.Principal{}, err
	}
	return &delivery, cs, u.Manufacturer, nil
}

// pay runs the value transfer of a reserved delivery without holding the
// lock, then settles it: a failed transfer reverts the delivery.
func (l *Ledger) pay(ctx context.Context, cs *interfaces.ChangeSet, from, to interfaces.Principal, amount *big.Int) error {
	transferCtx := context.WithValue(ctx, transferCtxKey{}, cs.Deliveries[0].UID)
	err := l.transfer.Transfer(transferCtx, from, to, amount)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.delivering = false

	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrTransferPending):
		l.log.Warn("Payment outcome unknown, keeping delivery",
			"uid", cs.Deliveries[0].UID,
			"buyer", from.Hex(),
			"err", err)
		return nil
	}

	result := multierror.Append(nil, fmt.Errorf("%w: %w", interfaces.ErrTransferFailed, err))
	// The caller may have given up on ctx; the revert must land regardless
	if rerr := l.revertDelivery(context.WithoutCancel(ctx), cs); rerr != nil {
		result = multierror.Append(result, rerr)
	}
	return result.ErrorOrNil()
}

// revertDelivery undoes a committed delivery whose payment did not go through.
// Memory is reverted even if the store refuses, so the ledger never serves a
// key that was not paid for. Must be called with the write lock held.
func (l *Ledger) revertDelivery(ctx context.Context, cs *interfaces.ChangeSet) error {
	revert := &interfaces.ChangeSet{}
	for _, d := range cs.Deliveries {
		revert.RevertedDeliveries = append(revert.RevertedDeliveries, interfaces.PairKey{UID: d.UID, Principal: d.Buyer})
	}
	for _, e := range cs.Events {
		revert.RevertedEvents = append(revert.RevertedEvents, e.Seq)
	}

	if err := l.store.Commit(ctx, revert); err != nil {
		l.state.apply(revert)
		l.log.Error("Could not persist reverted delivery", "err", err)
		return fmt.Errorf("could not persist reverted delivery: %w", err)
	}
	l.state.apply(revert)
	return nil
}

// IsAuthorized reports whether buyer was delivered the key of uid.
func (l *Ledger) IsAuthorized(uid string, buyer interfaces.Principal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, delivered := l.state.deliveries[interfaces.PairKey{UID: uid, Principal: buyer}]
	return delivered
}

// BuyerUpdates returns the UIDs whose keys were delivered to buyer, sorted.
func (l *Ledger) BuyerUpdates(buyer interfaces.Principal) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.buyerUpdates(buyer)
}
