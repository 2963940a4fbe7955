package statestore

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/software-update-ledger/interfaces"
)

var (
	testOwner        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testManufacturer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testBuyer        = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testDevice       = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

const testUID = "https://example.com/updates/v1.0"

func fullChangeSet() *interfaces.ChangeSet {
	owner := testOwner
	price := big.NewInt(10_000_000_000_000_000)
	return &interfaces.ChangeSet{
		Owner: &owner,
		Manufacturers: []interfaces.Manufacturer{
			{Address: testManufacturer, Name: "TestManufacturer", Active: true},
		},
		Updates: []interfaces.Update{{
			UID:          testUID,
			Hash:         interfaces.UpdateHash{0x01, 0x02},
			EncryptedKey: []byte("encrypted-key"),
			Signature:    []byte("signature"),
			Price:        price,
			Active:       true,
			CreatedAt:    1700000000,
			Manufacturer: testManufacturer,
		}},
		Notifications: []interfaces.Notification{{
			UID:          testUID,
			Description:  "Security patch",
			Manufacturer: testManufacturer,
			Security:     true,
			Feature:      true,
			SecurityDesc: "CVE fix",
			FeatureDesc:  "New dashboard",
			IssuedAt:     1700000001,
		}},
		Acceptances: []interfaces.PairKey{{UID: testUID, Principal: testBuyer}},
		Deliveries: []interfaces.Delivery{
			{UID: testUID, Buyer: testBuyer, Amount: price, DeliveredAt: 1700000002},
		},
		Installations: []interfaces.Installation{
			{UID: testUID, Buyer: testBuyer, Device: testDevice},
		},
		Events: []interfaces.Event{
			{Seq: 1, Kind: interfaces.EventUpdateRegistered, UID: testUID, Principal: testManufacturer, Time: 1700000000},
			{Seq: 2, Kind: interfaces.EventKeyDelivered, UID: testUID, Principal: testBuyer, Amount: price, Time: 1700000002},
		},
	}
}

// storeConformance runs the same checks against every LedgerStore implementation.
func storeConformance(t *testing.T, store interfaces.LedgerStore) {
	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.Owner)
	assert.Empty(t, empty.Updates)
	assert.Empty(t, empty.Events)

	cs := fullChangeSet()
	require.NoError(t, store.Commit(ctx, cs))

	snapshot, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Owner)
	assert.Equal(t, testOwner, *snapshot.Owner)
	assert.Equal(t, cs.Manufacturers, snapshot.Manufacturers)
	assert.Equal(t, cs.Updates, snapshot.Updates)
	assert.Equal(t, cs.Notifications, snapshot.Notifications)
	assert.Equal(t, cs.Acceptances, snapshot.Acceptances)
	assert.Equal(t, cs.Deliveries, snapshot.Deliveries)
	assert.Equal(t, cs.Installations, snapshot.Installations)
	assert.Equal(t, cs.Events, snapshot.Events)

	// Overwrite a manufacturer and revert the delivery with its event
	require.NoError(t, store.Commit(ctx, &interfaces.ChangeSet{
		Manufacturers: []interfaces.Manufacturer{
			{Address: testManufacturer, Name: "TestManufacturer", Active: false},
		},
		RevertedDeliveries: []interfaces.PairKey{{UID: testUID, Principal: testBuyer}},
		RevertedEvents:     []uint64{2},
	}))

	snapshot, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Manufacturers, 1)
	assert.False(t, snapshot.Manufacturers[0].Active)
	assert.Empty(t, snapshot.Deliveries)
	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, uint64(1), snapshot.Events[0].Seq)
	assert.Nil(t, snapshot.Events[0].Amount)
}

func TestMemoryStore(t *testing.T) {
	storeConformance(t, NewMemoryStore())
}

func TestMemoryStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Commit(ctx, fullChangeSet()))

	snapshot, err := store.Load(ctx)
	require.NoError(t, err)
	snapshot.Updates[0].Price.SetInt64(1)
	snapshot.Updates[0].EncryptedKey[0] = 'X'

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10_000_000_000_000_000), again.Updates[0].Price)
	assert.Equal(t, []byte("encrypted-key"), again.Updates[0].EncryptedKey)
}

func TestPebbleStore(t *testing.T) {
	store, err := OpenPebbleStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	storeConformance(t, store)
}

func TestPebbleStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenPebbleStore(dir, nil)
	require.NoError(t, err)
	cs := fullChangeSet()
	require.NoError(t, store.Commit(ctx, cs))
	require.NoError(t, store.Close())

	reopened, err := OpenPebbleStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	snapshot, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Owner)
	assert.Equal(t, testOwner, *snapshot.Owner)
	assert.Equal(t, cs.Updates, snapshot.Updates)
	assert.Equal(t, cs.Events, snapshot.Events)
}

func TestPebbleStore_CanceledContext(t *testing.T) {
	store, err := OpenPebbleStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Commit(ctx, fullChangeSet()), context.Canceled)

	snapshot, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot.Owner)
}

func TestPairKeyEncoding(t *testing.T) {
	key := interfaces.PairKey{UID: testUID, Principal: testBuyer}
	decoded, err := decodePairKey(acceptanceKey(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	inst := interfaces.Installation{UID: testUID, Buyer: testBuyer, Device: testDevice}
	decodedInst, err := decodeInstallationKey(installationKey(inst))
	require.NoError(t, err)
	assert.Equal(t, inst, decodedInst)

	_, err = decodePairKey([]byte{codeAcceptance, 0x01})
	assert.Error(t, err)
}
