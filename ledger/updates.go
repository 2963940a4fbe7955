package ledger

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// RegisterUpdate anchors a manufacturer's update commitment under a new UID.
// UIDs are never reused: registering an existing UID fails with
// ErrDuplicateUpdate so that earlier acceptances keep referring to the same hash.
func (l *Ledger) RegisterUpdate(ctx context.Context, caller interfaces.Principal, reg *interfaces.UpdateRegistration) error {
	return l.execute(ctx, "registerUpdate", func(cs *interfaces.ChangeSet) error {
		if !l.state.isActiveManufacturer(caller) {
			return interfaces.ErrUnauthorized
		}
		if reg.UID == "" {
			return fmt.Errorf("%w: empty uid", interfaces.ErrInvalidArgument)
		}
		if reg.Price == nil || reg.Price.Sign() < 0 {
			return fmt.Errorf("%w: price must be a non-negative amount", interfaces.ErrInvalidArgument)
		}
		if _, exists := l.state.updates[reg.UID]; exists {
			return interfaces.ErrDuplicateUpdate
		}
		if l.validator != nil {
			if err := l.validator.ValidateUpdate(caller, reg); err != nil {
				return fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err)
			}
		}

		cs.Updates = append(cs.Updates, interfaces.Update{
			UID:          reg.UID,
			Hash:         reg.Hash,
			EncryptedKey: bytes.Clone(reg.EncryptedKey),
			Signature:    bytes.Clone(reg.Signature),
			Price:        cloneBig(reg.Price),
			Active:       true,
			CreatedAt:    l.clock.Now(),
			Manufacturer: caller,
			Index:        uint64(len(l.state.updateOrder)),
		})
		l.emit(cs, interfaces.EventUpdateRegistered, reg.UID, caller)
		return nil
	})
}

// DeactivateUpdate clears the active flag of an update. Only the registering
// manufacturer may call it; deactivated updates reject every further operation.
func (l *Ledger) DeactivateUpdate(ctx context.Context, caller interfaces.Principal, uid string) error {
	return l.execute(ctx, "deactivateUpdate", func(cs *interfaces.ChangeSet) error {
		u, ok := l.state.updates[uid]
		if !ok {
			return interfaces.ErrNotFound
		}
		if u.Manufacturer != caller {
			return interfaces.ErrUnauthorized
		}
		if !u.Active {
			return nil
		}

		u = cloneUpdate(u)
		u.Active = false
		cs.Updates = append(cs.Updates, u)
		l.emit(cs, interfaces.EventUpdateDeactivated, uid, caller)
		return nil
	})
}

// GetUpdateDetails returns the stored commitment for uid.
func (l *Ledger) GetUpdateDetails(uid string) (*interfaces.UpdateDetails, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.state.updates[uid]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	u = cloneUpdate(u)
	return &interfaces.UpdateDetails{
		Hash:         u.Hash,
		EncryptedKey: u.EncryptedKey,
		Signature:    u.Signature,
		Price:        u.Price,
		CreatedAt:    u.CreatedAt,
		Manufacturer: u.Manufacturer,
		Active:       u.Active,
	}, nil
}

// UpdateCount returns the number of registered updates.
func (l *Ledger) UpdateCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.state.updateOrder))
}

// UpdateIDByIndex returns the UID registered at position index.
func (l *Ledger) UpdateIDByIndex(index uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.state.updateOrder)) {
		return "", interfaces.ErrNotFound
	}
	return l.state.updateOrder[index], nil
}
