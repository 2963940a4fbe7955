package ledger

import (
	"bytes"
	"math/big"
	"slices"
	"sort"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// State is the complete in-memory ledger state. It is owned by a Ledger and
// only ever mutated through apply, after the change set was persisted.
type State struct {
	owner         interfaces.Principal
	manufacturers map[interfaces.Principal]interfaces.Manufacturer
	updates       map[string]interfaces.Update
	updateOrder   []string
	notifications map[string]interfaces.Notification
	acceptances   map[interfaces.PairKey]struct{}
	deliveries    map[interfaces.PairKey]interfaces.Delivery
	installations map[interfaces.PairKey][]interfaces.Principal
	events        []interfaces.Event
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		manufacturers: make(map[interfaces.Principal]interfaces.Manufacturer),
		updates:       make(map[string]interfaces.Update),
		notifications: make(map[string]interfaces.Notification),
		acceptances:   make(map[interfaces.PairKey]struct{}),
		deliveries:    make(map[interfaces.PairKey]interfaces.Delivery),
		installations: make(map[interfaces.PairKey][]interfaces.Principal),
	}
}

// StateFromSnapshot rebuilds a state from persisted records.
func StateFromSnapshot(snapshot *interfaces.Snapshot) *State {
	s := NewState()
	if snapshot == nil {
		return s
	}

	updates := slices.Clone(snapshot.Updates)
	sort.Slice(updates, func(i, j int) bool { return updates[i].Index < updates[j].Index })

	events := slices.Clone(snapshot.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	s.apply(&interfaces.ChangeSet{
		Owner:         snapshot.Owner,
		Manufacturers: snapshot.Manufacturers,
		Updates:       updates,
		Notifications: snapshot.Notifications,
		Acceptances:   snapshot.Acceptances,
		Deliveries:    snapshot.Deliveries,
		Installations: snapshot.Installations,
		Events:        events,
	})
	return s
}

func (s *State) apply(cs *interfaces.ChangeSet) {
	if cs.Owner != nil {
		s.owner = *cs.Owner
	}
	for _, m := range cs.Manufacturers {
		s.manufacturers[m.Address] = m
	}
	for _, u := range cs.Updates {
		if _, exists := s.updates[u.UID]; !exists {
			s.updateOrder = append(s.updateOrder, u.UID)
		}
		s.updates[u.UID] = cloneUpdate(u)
	}
	for _, n := range cs.Notifications {
		s.notifications[n.UID] = n
	}
	for _, key := range cs.Acceptances {
		s.acceptances[key] = struct{}{}
	}
	for _, d := range cs.Deliveries {
		s.deliveries[interfaces.PairKey{UID: d.UID, Principal: d.Buyer}] = cloneDelivery(d)
	}
	for _, inst := range cs.Installations {
		key := interfaces.PairKey{UID: inst.UID, Principal: inst.Buyer}
		if !slices.Contains(s.installations[key], inst.Device) {
			s.installations[key] = append(s.installations[key], inst.Device)
		}
	}
	s.events = append(s.events, cs.Events...)

	for _, key := range cs.RevertedDeliveries {
		delete(s.deliveries, key)
	}
	if len(cs.RevertedEvents) > 0 {
		s.events = slices.DeleteFunc(s.events, func(e interfaces.Event) bool {
			return slices.Contains(cs.RevertedEvents, e.Seq)
		})
	}
}

func (s *State) nextSeq() uint64 {
	if len(s.events) == 0 {
		return 1
	}
	return s.events[len(s.events)-1].Seq + 1
}

func (s *State) isActiveManufacturer(p interfaces.Principal) bool {
	m, ok := s.manufacturers[p]
	return ok && m.Active
}

// activeUpdate resolves uid to an update that exists and is active.
func (s *State) activeUpdate(uid string) (interfaces.Update, error) {
	u, ok := s.updates[uid]
	if !ok {
		return interfaces.Update{}, interfaces.ErrNotFound
	}
	if !u.Active {
		return interfaces.Update{}, interfaces.ErrInactive
	}
	return u, nil
}

func (s *State) buyerUpdates(buyer interfaces.Principal) []string {
	var uids []string
	for key := range s.deliveries {
		if key.Principal == buyer {
			uids = append(uids, key.UID)
		}
	}
	sort.Strings(uids)
	return uids
}

func (s *State) devices(key interfaces.PairKey) []interfaces.Principal {
	devices := slices.Clone(s.installations[key])
	sort.Slice(devices, func(i, j int) bool {
		return bytes.Compare(devices[i][:], devices[j][:]) < 0
	})
	return devices
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneUpdate(u interfaces.Update) interfaces.Update {
	u.EncryptedKey = bytes.Clone(u.EncryptedKey)
	u.Signature = bytes.Clone(u.Signature)
	u.Price = cloneBig(u.Price)
	return u
}

func cloneDelivery(d interfaces.Delivery) interfaces.Delivery {
	d.Amount = cloneBig(d.Amount)
	return d
}

func cloneEvent(e interfaces.Event) interfaces.Event {
	e.Amount = cloneBig(e.Amount)
	return e
}
