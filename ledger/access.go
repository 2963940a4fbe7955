package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// RegisterManufacturer creates or overwrites a manufacturer record with
// Active set. Only the owner may call it.
func (l *Ledger) RegisterManufacturer(ctx context.Context, caller, manufacturer interfaces.Principal, name string) error {
	return l.execute(ctx, "registerManufacturer", func(cs *interfaces.ChangeSet) error {
		if caller != l.state.owner {
			return interfaces.ErrUnauthorized
		}
		if manufacturer == (interfaces.Principal{}) {
			return fmt.Errorf("%w: zero manufacturer address", interfaces.ErrInvalidArgument)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty manufacturer name", interfaces.ErrInvalidArgument)
		}

		cs.Manufacturers = append(cs.Manufacturers, interfaces.Manufacturer{
			Address: manufacturer,
			Name:    name,
			Active:  true,
		})
		l.emit(cs, interfaces.EventManufacturerRegistered, "", manufacturer)
		return nil
	})
}

// DeactivateManufacturer clears the active flag of a registered manufacturer.
// Records are never deleted; re-registration reactivates them.
func (l *Ledger) DeactivateManufacturer(ctx context.Context, caller, manufacturer interfaces.Principal) error {
	return l.execute(ctx, "deactivateManufacturer", func(cs *interfaces.ChangeSet) error {
		if caller != l.state.owner {
			return interfaces.ErrUnauthorized
		}
		m, ok := l.state.manufacturers[manufacturer]
		if !ok {
			return interfaces.ErrNotFound
		}
		if !m.Active {
			return nil
		}

		m.Active = false
		cs.Manufacturers = append(cs.Manufacturers, m)
		l.emit(cs, interfaces.EventManufacturerDeactivated, "", manufacturer)
		return nil
	})
}

// IsActiveManufacturer reports whether p is registered and active.
func (l *Ledger) IsActiveManufacturer(p interfaces.Principal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.isActiveManufacturer(p)
}

// Manufacturer returns the record registered for p.
func (l *Ledger) Manufacturer(p interfaces.Principal) (interfaces.Manufacturer, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.state.manufacturers[p]
	if !ok {
		return interfaces.Manufacturer{}, interfaces.ErrNotFound
	}
	return m, nil
}
