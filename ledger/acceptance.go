package ledger

import (
	"context"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// AcceptUpdate records the caller's acknowledgment of an update. Acceptance is
// a monotonic flag: accepting again changes nothing and emits no event.
func (l *Ledger) AcceptUpdate(ctx context.Context, caller interfaces.Principal, uid string) error {
	return l.execute(ctx, "acceptUpdate", func(cs *interfaces.ChangeSet) error {
		if _, err := l.state.activeUpdate(uid); err != nil {
			return err
		}

		key := interfaces.PairKey{UID: uid, Principal: caller}
		if _, accepted := l.state.acceptances[key]; accepted {
			return nil
		}

		cs.Acceptances = append(cs.Acceptances, key)
		l.emit(cs, interfaces.EventUpdateAccepted, uid, caller)
		return nil
	})
}

// IsAccepted reports whether buyer accepted uid.
func (l *Ledger) IsAccepted(uid string, buyer interfaces.Principal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, accepted := l.state.acceptances[interfaces.PairKey{UID: uid, Principal: buyer}]
	return accepted
}
