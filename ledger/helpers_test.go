package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/software-update-ledger/escrow"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/statestore"
)

var (
	owner        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	manufacturer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer        = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	device       = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	stranger     = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

const (
	testUID       = "https://example.com/updates/v1.0"
	testTimestamp = uint64(1700000000)
)

// oneHundredthEther is 0.01 ETH in wei.
var oneHundredthEther = big.NewInt(10_000_000_000_000_000)

type fixedClock uint64

func (c fixedClock) Now() uint64 { return uint64(c) }

// transferFunc adapts a function to interfaces.ValueTransfer.
type transferFunc func(ctx context.Context, from, to interfaces.Principal, amount *big.Int) error

func (f transferFunc) Transfer(ctx context.Context, from, to interfaces.Principal, amount *big.Int) error {
	return f(ctx, from, to, amount)
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *eventRecorder) OnEvents(events []interfaces.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *eventRecorder) kinds() []interfaces.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []interfaces.EventKind
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// MockValidator mocks the PayloadValidator interface
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) ValidateUpdate(manufacturer interfaces.Principal, registration *interfaces.UpdateRegistration) error {
	args := m.Called(manufacturer, registration)
	return args.Error(0)
}

// failingStore wraps a store and refuses commits while fail is set.
type failingStore struct {
	interfaces.LedgerStore
	fail bool
}

var errStoreUnavailable = errors.New("store unavailable")

func (s *failingStore) Commit(ctx context.Context, cs *interfaces.ChangeSet) error {
	if s.fail {
		return errStoreUnavailable
	}
	return s.LedgerStore.Commit(ctx, cs)
}

type testEnv struct {
	ledger   *Ledger
	bank     *escrow.Bank
	store    *statestore.MemoryStore
	recorder *eventRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		bank:     escrow.NewBank(),
		store:    statestore.NewMemoryStore(),
		recorder: &eventRecorder{},
	}
	l, err := New(context.Background(), &Config{
		Owner:    owner,
		Store:    env.store,
		Transfer: env.bank,
		Clock:    fixedClock(testTimestamp),
		Sinks:    []interfaces.EventSink{env.recorder},
	})
	require.NoError(t, err)
	env.ledger = l
	return env
}

func testRegistration(uid string, price *big.Int) *interfaces.UpdateRegistration {
	return &interfaces.UpdateRegistration{
		UID:          uid,
		Hash:         interfaces.UpdateHash{0xde, 0xad, 0xbe, 0xef},
		EncryptedKey: []byte("cp-abe-encrypted-key"),
		Signature:    []byte("manufacturer-signature"),
		Price:        price,
	}
}

// withUpdate registers the test manufacturer and one update priced at 0.01 ETH.
func (env *testEnv) withUpdate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.ledger.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	require.NoError(t, env.ledger.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, oneHundredthEther)))
}

// withDelivery funds and runs the buyer through acceptance and key delivery.
func (env *testEnv) withDelivery(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	env.withUpdate(t)
	env.bank.Credit(buyer, oneHundredthEther)
	require.NoError(t, env.ledger.AcceptUpdate(ctx, buyer, testUID))
	_, err := env.ledger.DeliverKeyAndPayment(ctx, buyer, testUID, oneHundredthEther)
	require.NoError(t, err)
}

// restartableStore opens a store and returns a function that simulates a
// process restart, handing back the store as a fresh process would see it.
type restartableStore struct {
	name string
	open func(t *testing.T) (store interfaces.LedgerStore, restart func() interfaces.LedgerStore)
}

var restartableStores = []restartableStore{
	{
		name: "memory",
		open: func(t *testing.T) (interfaces.LedgerStore, func() interfaces.LedgerStore) {
			store := statestore.NewMemoryStore()
			return store, func() interfaces.LedgerStore { return store }
		},
	},
	{
		name: "pebble",
		open: func(t *testing.T) (interfaces.LedgerStore, func() interfaces.LedgerStore) {
			dir := t.TempDir()
			store, err := statestore.OpenPebbleStore(dir, nil)
			require.NoError(t, err)
			return store, func() interfaces.LedgerStore {
				require.NoError(t, store.Close())
				reopened, err := statestore.OpenPebbleStore(dir, nil)
				require.NoError(t, err)
				t.Cleanup(func() { reopened.Close() })
				return reopened
			}
		},
	},
}

// acceptedLedger creates a ledger on store with the test update registered
// and accepted by buyer.
func acceptedLedger(t *testing.T, store interfaces.LedgerStore, transfer interfaces.ValueTransfer) *Ledger {
	t.Helper()
	ctx := context.Background()
	l, err := New(ctx, &Config{Owner: owner, Store: store, Transfer: transfer, Clock: fixedClock(testTimestamp)})
	require.NoError(t, err)
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, oneHundredthEther)))
	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
	return l
}

func hasKind(events []interfaces.Event, kind interfaces.EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
