package statestore

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// MemoryStore is a LedgerStore that keeps committed state in process memory.
// It is used for tests and ephemeral deployments; nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	owner         *interfaces.Principal
	manufacturers map[interfaces.Principal]interfaces.Manufacturer
	updates       map[string]interfaces.Update
	notifications map[string]interfaces.Notification
	acceptances   map[interfaces.PairKey]struct{}
	deliveries    map[interfaces.PairKey]interfaces.Delivery
	installations map[interfaces.Installation]struct{}
	events        map[uint64]interfaces.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manufacturers: make(map[interfaces.Principal]interfaces.Manufacturer),
		updates:       make(map[string]interfaces.Update),
		notifications: make(map[string]interfaces.Notification),
		acceptances:   make(map[interfaces.PairKey]struct{}),
		deliveries:    make(map[interfaces.PairKey]interfaces.Delivery),
		installations: make(map[interfaces.Installation]struct{}),
		events:        make(map[uint64]interfaces.Event),
	}
}

// Load returns a copy of everything committed so far.
func (s *MemoryStore) Load(ctx context.Context) (*interfaces.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &interfaces.Snapshot{}
	if s.owner != nil {
		owner := *s.owner
		snapshot.Owner = &owner
	}
	for _, m := range s.manufacturers {
		snapshot.Manufacturers = append(snapshot.Manufacturers, m)
	}
	for _, u := range s.updates {
		snapshot.Updates = append(snapshot.Updates, copyUpdate(u))
	}
	for _, n := range s.notifications {
		snapshot.Notifications = append(snapshot.Notifications, n)
	}
	for k := range s.acceptances {
		snapshot.Acceptances = append(snapshot.Acceptances, k)
	}
	for _, d := range s.deliveries {
		d.Amount = copyAmount(d.Amount)
		snapshot.Deliveries = append(snapshot.Deliveries, d)
	}
	for i := range s.installations {
		snapshot.Installations = append(snapshot.Installations, i)
	}
	for _, e := range s.events {
		e.Amount = copyAmount(e.Amount)
		snapshot.Events = append(snapshot.Events, e)
	}

	sortSnapshot(snapshot)
	return snapshot, nil
}

// Commit applies the change set under a single lock.
func (s *MemoryStore) Commit(ctx context.Context, cs *interfaces.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Owner != nil {
		owner := *cs.Owner
		s.owner = &owner
	}
	for _, m := range cs.Manufacturers {
		s.manufacturers[m.Address] = m
	}
	for _, u := range cs.Updates {
		s.updates[u.UID] = copyUpdate(u)
	}
	for _, n := range cs.Notifications {
		s.notifications[n.UID] = n
	}
	for _, k := range cs.Acceptances {
		s.acceptances[k] = struct{}{}
	}
	for _, d := range cs.Deliveries {
		d.Amount = copyAmount(d.Amount)
		s.deliveries[interfaces.PairKey{UID: d.UID, Principal: d.Buyer}] = d
	}
	for _, i := range cs.Installations {
		s.installations[i] = struct{}{}
	}
	for _, e := range cs.Events {
		e.Amount = copyAmount(e.Amount)
		s.events[e.Seq] = e
	}
	for _, k := range cs.RevertedDeliveries {
		delete(s.deliveries, k)
	}
	for _, seq := range cs.RevertedEvents {
		delete(s.events, seq)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// sortSnapshot orders every table deterministically.
func sortSnapshot(s *interfaces.Snapshot) {
	sort.Slice(s.Manufacturers, func(i, j int) bool {
		return bytes.Compare(s.Manufacturers[i].Address[:], s.Manufacturers[j].Address[:]) < 0
	})
	sort.Slice(s.Updates, func(i, j int) bool { return s.Updates[i].Index < s.Updates[j].Index })
	sort.Slice(s.Notifications, func(i, j int) bool { return s.Notifications[i].UID < s.Notifications[j].UID })
	sort.Slice(s.Acceptances, func(i, j int) bool { return lessPair(s.Acceptances[i], s.Acceptances[j]) })
	sort.Slice(s.Deliveries, func(i, j int) bool {
		return lessPair(
			interfaces.PairKey{UID: s.Deliveries[i].UID, Principal: s.Deliveries[i].Buyer},
			interfaces.PairKey{UID: s.Deliveries[j].UID, Principal: s.Deliveries[j].Buyer})
	})
	sort.Slice(s.Installations, func(i, j int) bool {
		a, b := s.Installations[i], s.Installations[j]
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		if c := bytes.Compare(a.Buyer[:], b.Buyer[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Device[:], b.Device[:]) < 0
	})
	sort.Slice(s.Events, func(i, j int) bool { return s.Events[i].Seq < s.Events[j].Seq })
}

func lessPair(a, b interfaces.PairKey) bool {
	if a.UID != b.UID {
		return a.UID < b.UID
	}
	return bytes.Compare(a.Principal[:], b.Principal[:]) < 0
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyUpdate(u interfaces.Update) interfaces.Update {
	u.EncryptedKey = bytes.Clone(u.EncryptedKey)
	u.Signature = bytes.Clone(u.Signature)
	u.Price = copyAmount(u.Price)
	return u
}
