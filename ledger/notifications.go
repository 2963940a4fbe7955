package ledger

import (
	"context"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// SendUpdateNotification stores the change description of an update,
// replacing any earlier one. Every notification emits UpdateNotified, so the
// event log keeps the history that current state overwrites.
func (l *Ledger) SendUpdateNotification(ctx context.Context, caller interfaces.Principal, req *interfaces.NotificationRequest) error {
	return l.execute(ctx, "sendUpdateNotification", func(cs *interfaces.ChangeSet) error {
		u, err := l.state.activeUpdate(req.UID)
		if err != nil {
			return err
		}
		if u.Manufacturer != caller {
			return interfaces.ErrUnauthorized
		}
		if !l.state.isActiveManufacturer(caller) {
			return interfaces.ErrInactive
		}

		cs.Notifications = append(cs.Notifications, interfaces.Notification{
			UID:          req.UID,
			Description:  req.Description,
			Manufacturer: caller,
			Security:     req.Security,
			BugFix:       req.BugFix,
			Feature:      req.Feature,
			SecurityDesc: req.SecurityDesc,
			BugFixDesc:   req.BugFixDesc,
			FeatureDesc:  req.FeatureDesc,
			IssuedAt:     l.clock.Now(),
		})
		l.emit(cs, interfaces.EventUpdateNotified, req.UID, caller)
		return nil
	})
}

// GetNotification returns the current notification for uid.
func (l *Ledger) GetNotification(uid string) (*interfaces.Notification, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.state.notifications[uid]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &n, nil
}
