package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// transferCtxKey marks contexts handed to a ValueTransfer. Operations invoked
// with such a context are nested inside a delivery and are rejected.
type transferCtxKey struct{}

// SystemClock reports wall-clock unix seconds as the ledger's logical time.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// Config holds the collaborators of a Ledger.
type Config struct {
	// Owner is the principal allowed to register manufacturers. Required.
	Owner interfaces.Principal

	// Store persists committed state. Nil keeps state in memory only.
	Store interfaces.LedgerStore

	// Transfer forwards payments to manufacturers. Required.
	Transfer interfaces.ValueTransfer

	// Validator optionally vets the opaque blobs of registered updates.
	Validator interfaces.PayloadValidator

	// Clock provides creation timestamps. Defaults to SystemClock.
	Clock interfaces.Clock

	// Sinks are notified of events after each successful operation.
	Sinks []interfaces.EventSink

	// Log receives operation and recovery logs. Defaults to slog.Default().
	Log *slog.Logger
}

// Ledger is the update-lifecycle state machine. Every mutating operation is
// serialized, either fully commits its effects and emits its events, or fails
// with the state unchanged.
type Ledger struct {
	mu sync.RWMutex

	// delivering is set while a delivery's value transfer runs unlocked
	delivering bool

	state     *State
	store     interfaces.LedgerStore
	transfer  interfaces.ValueTransfer
	validator interfaces.PayloadValidator
	clock     interfaces.Clock
	sinks     []interfaces.EventSink
	log       *slog.Logger
}

// New creates a ledger, restoring any state already committed to the store.
// A store initialized for a different owner is refused.
func New(ctx context.Context, cfg *Config) (*Ledger, error) {
	if cfg.Transfer == nil {
		return nil, errors.New("ledger requires a value transfer")
	}
	if cfg.Owner == (interfaces.Principal{}) {
		return nil, fmt.Errorf("%w: zero owner address", interfaces.ErrInvalidArgument)
	}

	l := &Ledger{
		store:     cfg.Store,
		transfer:  cfg.Transfer,
		validator: cfg.Validator,
		clock:     cfg.Clock,
		sinks:     cfg.Sinks,
		log:       cfg.Log,
	}
	if l.store == nil {
		l.store = nopStore{}
	}
	if l.clock == nil {
		l.clock = SystemClock{}
	}
	if l.log == nil {
		l.log = slog.Default()
	}

	snapshot, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load ledger state: %w", err)
	}
	l.state = StateFromSnapshot(snapshot)

	if snapshot != nil && snapshot.Owner != nil {
		if *snapshot.Owner != cfg.Owner {
			return nil, fmt.Errorf("%w: store belongs to owner %s", interfaces.ErrUnauthorized, snapshot.Owner.Hex())
		}
		l.log.Info("Restored ledger state",
			"owner", cfg.Owner.Hex(),
			"updates", len(l.state.updates),
			"events", len(l.state.events))
		return l, nil
	}

	owner := cfg.Owner
	if err := l.commit(ctx, &interfaces.ChangeSet{Owner: &owner}); err != nil {
		return nil, err
	}
	l.log.Info("Initialized ledger", "owner", owner.Hex())
	return l, nil
}

// Owner returns the principal allowed to register manufacturers.
func (l *Ledger) Owner() interfaces.Principal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.owner
}

// execute runs one mutating operation. build inspects the state under the
// write lock and fills in the change set; an error or an empty change set
// leaves the state untouched.
func (l *Ledger) execute(ctx context.Context, op string, build func(cs *interfaces.ChangeSet) error) error {
	if ctx.Value(transferCtxKey{}) != nil {
		return fmt.Errorf("%s: %w", op, interfaces.ErrReentrantCall)
	}

	l.mu.Lock()
	if l.delivering {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", op, interfaces.ErrReentrantCall)
	}
	cs := &interfaces.ChangeSet{}
	err := build(cs)
	if err == nil && !cs.Empty() {
		err = l.commit(ctx, cs)
	}
	l.mu.Unlock()

	if err != nil {
		l.log.Debug("Operation rejected", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	l.publish(cs.Events)
	return nil
}

// commit persists the change set and then applies it to memory. Must be
// called with the write lock held.
func (l *Ledger) commit(ctx context.Context, cs *interfaces.ChangeSet) error {
	if err := l.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("could not persist ledger changes: %w", err)
	}
	l.state.apply(cs)
	return nil
}

// emit appends an event to the change set, numbering it after any events the
// change set already carries.
func (l *Ledger) emit(cs *interfaces.ChangeSet, kind interfaces.EventKind, uid string, principal interfaces.Principal) *interfaces.Event {
	cs.Events = append(cs.Events, interfaces.Event{
		Seq:       l.state.nextSeq() + uint64(len(cs.Events)),
		Kind:      kind,
		UID:       uid,
		Principal: principal,
		Time:      l.clock.Now(),
	})
	return &cs.Events[len(cs.Events)-1]
}

func (l *Ledger) publish(events []interfaces.Event) {
	if len(events) == 0 {
		return
	}
	for _, e := range events {
		l.log.Info("Ledger event", "seq", e.Seq, "event", e.String())
	}
	for _, sink := range l.sinks {
		out := make([]interfaces.Event, len(events))
		for i := range events {
			out[i] = cloneEvent(events[i])
		}
		sink.OnEvents(out)
	}
}

// Events returns up to limit events with sequence numbers >= from.
// A non-positive limit returns all of them.
func (l *Ledger) Events(from uint64, limit int) []interfaces.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []interfaces.Event
	for _, e := range l.state.events {
		if e.Seq < from {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*interfaces.Snapshot, error)  { return nil, nil }
func (nopStore) Commit(context.Context, *interfaces.ChangeSet) error { return nil }
func (nopStore) Close() error                                        { return nil }
