package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/software-update-ledger/escrow"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/statestore"
)

// TestLedger_EndToEnd walks an update through its whole lifecycle
func TestLedger_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	l := env.ledger

	// Owner registers the manufacturer
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	assert.True(t, l.IsActiveManufacturer(manufacturer))

	// Manufacturer registers an update priced at 0.01 ETH
	reg := testRegistration(testUID, oneHundredthEther)
	require.NoError(t, l.RegisterUpdate(ctx, manufacturer, reg))

	details, err := l.GetUpdateDetails(testUID)
	require.NoError(t, err)
	assert.Equal(t, reg.Hash, details.Hash)
	assert.Equal(t, reg.EncryptedKey, details.EncryptedKey)
	assert.Equal(t, reg.Signature, details.Signature)
	assert.Equal(t, oneHundredthEther, details.Price)
	assert.Equal(t, testTimestamp, details.CreatedAt)
	assert.Equal(t, manufacturer, details.Manufacturer)
	assert.True(t, details.Active)

	// Manufacturer notifies about a security and feature update
	require.NoError(t, l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{
		UID:          testUID,
		Description:  "Security and feature update",
		Security:     true,
		BugFix:       false,
		Feature:      true,
		SecurityDesc: "Fixes remote code execution",
		FeatureDesc:  "Adds OTA scheduling",
	}))

	notification, err := l.GetNotification(testUID)
	require.NoError(t, err)
	assert.True(t, notification.Security)
	assert.False(t, notification.BugFix)
	assert.True(t, notification.Feature)
	assert.Equal(t, manufacturer, notification.Manufacturer)

	// Buyer accepts and pays
	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
	assert.True(t, l.IsAccepted(testUID, buyer))

	env.bank.Credit(buyer, oneHundredthEther)
	delivery, err := l.DeliverKeyAndPayment(ctx, buyer, testUID, oneHundredthEther)
	require.NoError(t, err)
	assert.Equal(t, oneHundredthEther, delivery.Amount)
	assert.Equal(t, oneHundredthEther, env.bank.BalanceOf(manufacturer))
	assert.Equal(t, 0, env.bank.BalanceOf(buyer).Sign())
	assert.True(t, l.IsAuthorized(testUID, buyer))
	assert.Equal(t, []string{testUID}, l.BuyerUpdates(buyer))

	// Buyer confirms installation on a device
	require.NoError(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, device))
	assert.Equal(t, []interfaces.Principal{device}, l.Installations(testUID, buyer))

	assert.Equal(t, []interfaces.EventKind{
		interfaces.EventManufacturerRegistered,
		interfaces.EventUpdateRegistered,
		interfaces.EventUpdateNotified,
		interfaces.EventUpdateAccepted,
		interfaces.EventKeyDelivered,
		interfaces.EventUpdateInstalled,
	}, env.recorder.kinds())

	events := l.Events(0, 0)
	require.Len(t, events, 6)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
	assert.Equal(t, "KeyDelivered("+testUID+", "+buyer.Hex()+")", events[4].String())
	assert.Equal(t, oneHundredthEther, events[4].Amount)
	assert.Equal(t, "UpdateInstalled("+testUID+", "+device.Hex()+")", events[5].String())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, &Config{Owner: owner})
	assert.Error(t, err, "a value transfer is required")

	_, err = New(ctx, &Config{Transfer: escrow.NewBank()})
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	l, err := New(ctx, &Config{Owner: owner, Transfer: escrow.NewBank()})
	require.NoError(t, err)
	assert.Equal(t, owner, l.Owner())
}

func TestNew_RestoresState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withDelivery(t)

	restored, err := New(ctx, &Config{
		Owner:    owner,
		Store:    env.store,
		Transfer: env.bank,
		Clock:    fixedClock(testTimestamp),
	})
	require.NoError(t, err)

	assert.True(t, restored.IsActiveManufacturer(manufacturer))
	assert.True(t, restored.IsAccepted(testUID, buyer))
	assert.True(t, restored.IsAuthorized(testUID, buyer))
	assert.Equal(t, uint64(1), restored.UpdateCount())
	assert.Equal(t, env.ledger.Events(0, 0), restored.Events(0, 0))

	// Sequence numbers continue after a restart
	require.NoError(t, restored.ConfirmUpdateInstallation(ctx, buyer, testUID, device))
	events := restored.Events(0, 0)
	assert.Equal(t, uint64(len(events)), events[len(events)-1].Seq)

	// A store created for another owner is refused
	_, err = New(ctx, &Config{Owner: stranger, Store: env.store, Transfer: env.bank})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestRegisterManufacturer(t *testing.T) {
	ctx := context.Background()
	l := newTestEnv(t).ledger

	err := l.RegisterManufacturer(ctx, stranger, manufacturer, "TestManufacturer")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	assert.False(t, l.IsActiveManufacturer(manufacturer))

	err = l.RegisterManufacturer(ctx, owner, interfaces.Principal{}, "Nobody")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	err = l.RegisterManufacturer(ctx, owner, manufacturer, "  ")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	m, err := l.Manufacturer(manufacturer)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Manufacturer{Address: manufacturer, Name: "TestManufacturer", Active: true}, m)

	// Re-registration overwrites the name
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "Renamed"))
	m, err = l.Manufacturer(manufacturer)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", m.Name)

	_, err = l.Manufacturer(stranger)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestDeactivateManufacturer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	assert.ErrorIs(t, l.DeactivateManufacturer(ctx, manufacturer, manufacturer), interfaces.ErrUnauthorized)
	assert.ErrorIs(t, l.DeactivateManufacturer(ctx, owner, stranger), interfaces.ErrNotFound)

	require.NoError(t, l.DeactivateManufacturer(ctx, owner, manufacturer))
	assert.False(t, l.IsActiveManufacturer(manufacturer))

	// Deactivating twice emits nothing
	before := len(l.Events(0, 0))
	require.NoError(t, l.DeactivateManufacturer(ctx, owner, manufacturer))
	assert.Len(t, l.Events(0, 0), before)

	// An inactive manufacturer can neither register nor notify
	err := l.RegisterUpdate(ctx, manufacturer, testRegistration("https://example.com/updates/v2.0", big.NewInt(1)))
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	err = l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{UID: testUID})
	assert.ErrorIs(t, err, interfaces.ErrInactive)

	// Re-registration reactivates
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	assert.True(t, l.IsActiveManufacturer(manufacturer))
}

func TestRegisterUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	t.Run("duplicate uid is rejected", func(t *testing.T) {
		err := l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, big.NewInt(1)))
		assert.ErrorIs(t, err, interfaces.ErrDuplicateUpdate)

		details, err := l.GetUpdateDetails(testUID)
		require.NoError(t, err)
		assert.Equal(t, oneHundredthEther, details.Price)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		assert.ErrorIs(t, l.RegisterUpdate(ctx, manufacturer, testRegistration("", big.NewInt(1))), interfaces.ErrInvalidArgument)
		assert.ErrorIs(t, l.RegisterUpdate(ctx, manufacturer, testRegistration("u", nil)), interfaces.ErrInvalidArgument)
		assert.ErrorIs(t, l.RegisterUpdate(ctx, manufacturer, testRegistration("u", big.NewInt(-1))), interfaces.ErrInvalidArgument)
	})

	t.Run("unregistered caller", func(t *testing.T) {
		err := l.RegisterUpdate(ctx, stranger, testRegistration("https://example.com/other", big.NewInt(1)))
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})

	t.Run("free update", func(t *testing.T) {
		require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration("https://example.com/free", big.NewInt(0))))
	})

	t.Run("index lookup", func(t *testing.T) {
		assert.Equal(t, uint64(2), l.UpdateCount())

		uid, err := l.UpdateIDByIndex(0)
		require.NoError(t, err)
		assert.Equal(t, testUID, uid)

		uid, err = l.UpdateIDByIndex(1)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/free", uid)

		_, err = l.UpdateIDByIndex(2)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("unknown uid", func(t *testing.T) {
		_, err := l.GetUpdateDetails("https://example.com/missing")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("details are copies", func(t *testing.T) {
		details, err := l.GetUpdateDetails(testUID)
		require.NoError(t, err)
		details.Price.SetInt64(1)
		details.EncryptedKey[0] = 'X'

		again, err := l.GetUpdateDetails(testUID)
		require.NoError(t, err)
		assert.Equal(t, oneHundredthEther, again.Price)
		assert.Equal(t, []byte("cp-abe-encrypted-key"), again.EncryptedKey)
	})
}

func TestRegisterUpdate_Validator(t *testing.T) {
	ctx := context.Background()
	validator := new(MockValidator)

	l, err := New(ctx, &Config{Owner: owner, Transfer: escrow.NewBank(), Validator: validator})
	require.NoError(t, err)
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))

	good := testRegistration("https://example.com/good", big.NewInt(1))
	bad := testRegistration("https://example.com/bad", big.NewInt(1))
	validator.On("ValidateUpdate", manufacturer, good).Return(nil)
	validator.On("ValidateUpdate", manufacturer, bad).Return(assert.AnError)

	require.NoError(t, l.RegisterUpdate(ctx, manufacturer, good))

	err = l.RegisterUpdate(ctx, manufacturer, bad)
	assert.ErrorIs(t, err, interfaces.ErrInvalidPayload)
	_, err = l.GetUpdateDetails(bad.UID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	validator.AssertExpectations(t)
	validator.AssertNumberOfCalls(t, "ValidateUpdate", 2)
	validator.AssertCalled(t, "ValidateUpdate", manufacturer, mock.Anything)
}

func TestDeactivateUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))

	assert.ErrorIs(t, l.DeactivateUpdate(ctx, stranger, testUID), interfaces.ErrUnauthorized)
	assert.ErrorIs(t, l.DeactivateUpdate(ctx, manufacturer, "https://example.com/missing"), interfaces.ErrNotFound)
	require.NoError(t, l.DeactivateUpdate(ctx, manufacturer, testUID))

	details, err := l.GetUpdateDetails(testUID)
	require.NoError(t, err)
	assert.False(t, details.Active)

	// Every operation on an inactive update fails
	env.bank.Credit(buyer, oneHundredthEther)
	_, err = l.DeliverKeyAndPayment(ctx, buyer, testUID, oneHundredthEther)
	assert.ErrorIs(t, err, interfaces.ErrInactive)
	assert.ErrorIs(t, l.AcceptUpdate(ctx, stranger, testUID), interfaces.ErrInactive)
	assert.ErrorIs(t, l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{UID: testUID}), interfaces.ErrInactive)
	assert.ErrorIs(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, device), interfaces.ErrInactive)
	assert.Equal(t, oneHundredthEther, env.bank.BalanceOf(buyer))
}

func TestSendUpdateNotification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	_, err := l.GetNotification(testUID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = l.SendUpdateNotification(ctx, stranger, &interfaces.NotificationRequest{UID: testUID})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	err = l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{UID: "https://example.com/missing"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{
		UID: testUID, Description: "first", BugFix: true, BugFixDesc: "crash on boot",
	}))
	require.NoError(t, l.SendUpdateNotification(ctx, manufacturer, &interfaces.NotificationRequest{
		UID: testUID, Description: "second", Security: true,
	}))

	// The latest notification wins, the event log keeps both
	n, err := l.GetNotification(testUID)
	require.NoError(t, err)
	assert.Equal(t, "second", n.Description)
	assert.True(t, n.Security)
	assert.False(t, n.BugFix)
	assert.Empty(t, n.BugFixDesc)
	assert.Equal(t, testTimestamp, n.IssuedAt)

	var notified int
	for _, e := range l.Events(0, 0) {
		if e.Kind == interfaces.EventUpdateNotified {
			notified++
		}
	}
	assert.Equal(t, 2, notified)
}

func TestAcceptUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	assert.ErrorIs(t, l.AcceptUpdate(ctx, buyer, "https://example.com/missing"), interfaces.ErrNotFound)
	assert.False(t, l.IsAccepted(testUID, buyer))

	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
	before := l.Events(0, 0)

	// Accepting again is a no-op
	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
	assert.True(t, l.IsAccepted(testUID, buyer))
	assert.Equal(t, before, l.Events(0, 0))

	// Acceptance is per buyer
	assert.False(t, l.IsAccepted(testUID, stranger))
}

func TestConfirmUpdateInstallation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.withUpdate(t)
	l := env.ledger

	require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))

	// Installation requires a prior delivery
	err := l.ConfirmUpdateInstallation(ctx, buyer, testUID, device)
	assert.ErrorIs(t, err, interfaces.ErrNotDelivered)

	env.bank.Credit(buyer, oneHundredthEther)
	_, err = l.DeliverKeyAndPayment(ctx, buyer, testUID, oneHundredthEther)
	require.NoError(t, err)

	assert.ErrorIs(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, interfaces.Principal{}), interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, l.ConfirmUpdateInstallation(ctx, buyer, "https://example.com/missing", device), interfaces.ErrNotFound)
	assert.ErrorIs(t, l.ConfirmUpdateInstallation(ctx, stranger, testUID, device), interfaces.ErrNotDelivered)

	require.NoError(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, device))
	before := len(l.Events(0, 0))

	// Confirming the same device twice is a no-op
	require.NoError(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, device))
	assert.Len(t, l.Events(0, 0), before)

	second := stranger
	require.NoError(t, l.ConfirmUpdateInstallation(ctx, buyer, testUID, second))
	assert.ElementsMatch(t, []interfaces.Principal{device, second}, l.Installations(testUID, buyer))
	assert.Empty(t, l.Installations(testUID, stranger))
}

func TestEvents_Paging(t *testing.T) {
	env := newTestEnv(t)
	env.withDelivery(t)
	l := env.ledger

	all := l.Events(0, 0)
	require.Len(t, all, 4)

	page := l.Events(2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Seq)
	assert.Equal(t, uint64(3), page[1].Seq)

	assert.Empty(t, l.Events(5, 10))

	// Returned events do not alias ledger state
	all[3].Amount.SetInt64(1)
	assert.Equal(t, oneHundredthEther, l.Events(4, 1)[0].Amount)
}

func TestStoreFailure_LeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{LedgerStore: statestore.NewMemoryStore()}

	l, err := New(ctx, &Config{Owner: owner, Store: store, Transfer: escrow.NewBank()})
	require.NoError(t, err)

	store.fail = true
	err = l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer")
	assert.ErrorIs(t, err, errStoreUnavailable)
	assert.False(t, l.IsActiveManufacturer(manufacturer))
	assert.Empty(t, l.Events(0, 0))

	store.fail = false
	require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
	assert.Equal(t, uint64(1), l.Events(0, 0)[0].Seq)
}
