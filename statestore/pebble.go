package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// PebbleStore persists ledger state in a pebble database. Every change set is
// written as one synced batch, so a crash never leaves a partially applied
// operation behind.
type PebbleStore struct {
	db  *pebble.DB
	log *slog.Logger
}

// OpenPebbleStore opens (or creates) the database in dir.
func OpenPebbleStore(dir string, log *slog.Logger) (*PebbleStore, error) {
	if log == nil {
		log = slog.Default()
	}

	cache := pebble.NewCache(8 << 20)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	log.Info("Opened ledger database", "dir", dir)
	return &PebbleStore{db: db, log: log}, nil
}

// Load reads every table into a snapshot.
func (s *PebbleStore) Load(ctx context.Context) (*interfaces.Snapshot, error) {
	snapshot := &interfaces.Snapshot{}

	val, closer, err := s.db.Get(metaOwnerKey)
	switch {
	case err == nil:
		owner := common.BytesToAddress(val)
		snapshot.Owner = &owner
		if err := closer.Close(); err != nil {
			return nil, err
		}
	case errors.Is(err, pebble.ErrNotFound):
	default:
		return nil, fmt.Errorf("could not read owner: %w", err)
	}

	err = s.traverse(ctx, codeManufacturer, func(_, val []byte) error {
		m, err := decodeManufacturer(val)
		snapshot.Manufacturers = append(snapshot.Manufacturers, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeUpdate, func(_, val []byte) error {
		u, err := decodeUpdate(val)
		snapshot.Updates = append(snapshot.Updates, u)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeNotification, func(_, val []byte) error {
		n, err := decodeNotification(val)
		snapshot.Notifications = append(snapshot.Notifications, n)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeAcceptance, func(key, _ []byte) error {
		k, err := decodePairKey(key)
		snapshot.Acceptances = append(snapshot.Acceptances, k)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeDelivery, func(key, val []byte) error {
		k, err := decodePairKey(key)
		if err != nil {
			return err
		}
		d, err := decodeDelivery(k, val)
		snapshot.Deliveries = append(snapshot.Deliveries, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeInstallation, func(key, _ []byte) error {
		i, err := decodeInstallationKey(key)
		snapshot.Installations = append(snapshot.Installations, i)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.traverse(ctx, codeEvent, func(_, val []byte) error {
		e, err := decodeEvent(val)
		snapshot.Events = append(snapshot.Events, e)
		return err
	})
	if err != nil {
		return nil, err
	}

	sortSnapshot(snapshot)
	return snapshot, nil
}

// traverse calls fn for every entry of one table. Keys and values are only
// valid for the duration of the call.
func (s *PebbleStore) traverse(ctx context.Context, code byte, fn func(key, val []byte) error) (errToReturn error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{code},
		UpperBound: []byte{code + 1},
	})
	if err != nil {
		return fmt.Errorf("can not create iterator: %w", err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			errToReturn = multierror.Append(errToReturn, cerr)
		}
	}()

	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.Key(), it.Value()); err != nil {
			return fmt.Errorf("table %#x: %w", code, err)
		}
	}
	return nil
}

// Commit writes the change set as a single synced batch.
func (s *PebbleStore) Commit(ctx context.Context, cs *interfaces.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := writeChangeSet(batch, cs); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("could not commit batch: %w", err)
	}
	return nil
}

func writeChangeSet(batch *pebble.Batch, cs *interfaces.ChangeSet) error {
	if cs.Owner != nil {
		if err := batch.Set(metaOwnerKey, cs.Owner.Bytes(), nil); err != nil {
			return err
		}
	}
	for _, m := range cs.Manufacturers {
		val, err := encodeManufacturer(m)
		if err != nil {
			return err
		}
		if err := batch.Set(manufacturerKey(m.Address), val, nil); err != nil {
			return err
		}
	}
	for _, u := range cs.Updates {
		val, err := encodeUpdate(u)
		if err != nil {
			return err
		}
		if err := batch.Set(updateKey(u.UID), val, nil); err != nil {
			return err
		}
	}
	for _, n := range cs.Notifications {
		val, err := encodeNotification(n)
		if err != nil {
			return err
		}
		if err := batch.Set(notificationKey(n.UID), val, nil); err != nil {
			return err
		}
	}
	for _, k := range cs.Acceptances {
		if err := batch.Set(acceptanceKey(k), nil, nil); err != nil {
			return err
		}
	}
	for _, d := range cs.Deliveries {
		val, err := encodeDelivery(d)
		if err != nil {
			return err
		}
		if err := batch.Set(deliveryKey(interfaces.PairKey{UID: d.UID, Principal: d.Buyer}), val, nil); err != nil {
			return err
		}
	}
	for _, i := range cs.Installations {
		if err := batch.Set(installationKey(i), nil, nil); err != nil {
			return err
		}
	}
	for _, e := range cs.Events {
		val, err := encodeEvent(e)
		if err != nil {
			return err
		}
		if err := batch.Set(eventKey(e.Seq), val, nil); err != nil {
			return err
		}
	}
	for _, k := range cs.RevertedDeliveries {
		if err := batch.Delete(deliveryKey(k), nil); err != nil {
			return err
		}
	}
	for _, seq := range cs.RevertedEvents {
		if err := batch.Delete(eventKey(seq), nil); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	var result error
	if err := s.db.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to flush db: %w", err))
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close db: %w", err))
	}
	return result
}
