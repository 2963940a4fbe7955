package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// ConfirmUpdateInstallation records that the caller installed uid on device.
// The caller must have been delivered the key for uid. Confirming the same
// device twice is a no-op.
func (l *Ledger) ConfirmUpdateInstallation(ctx context.Context, caller interfaces.Principal, uid string, device interfaces.Principal) error {
	return l.execute(ctx, "confirmUpdateInstallation", func(cs *interfaces.ChangeSet) error {
		if device == (interfaces.Principal{}) {
			return fmt.Errorf("%w: zero device address", interfaces.ErrInvalidArgument)
		}
		if _, err := l.state.activeUpdate(uid); err != nil {
			return err
		}

		key := interfaces.PairKey{UID: uid, Principal: caller}
		if _, delivered := l.state.deliveries[key]; !delivered {
			return interfaces.ErrNotDelivered
		}
		if slices.Contains(l.state.installations[key], device) {
			return nil
		}

		cs.Installations = append(cs.Installations, interfaces.Installation{
			UID:    uid,
			Buyer:  caller,
			Device: device,
		})
		l.emit(cs, interfaces.EventUpdateInstalled, uid, device)
		return nil
	})
}

// Installations returns the devices on which buyer confirmed uid.
func (l *Ledger) Installations(uid string, buyer interfaces.Principal) []interfaces.Principal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.devices(interfaces.PairKey{UID: uid, Principal: buyer})
}
