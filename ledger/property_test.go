package ledger

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ruteri/software-update-ledger/escrow"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/statestore"
)

func principalGen() *rapid.Generator[interfaces.Principal] {
	return rapid.Custom(func(t *rapid.T) interfaces.Principal {
		return common.BytesToAddress(rapid.SliceOfN(rapid.Byte(), common.AddressLength, common.AddressLength).Draw(t, "address"))
	})
}

func amountGen(max int64) *rapid.Generator[*big.Int] {
	return rapid.Custom(func(t *rapid.T) *big.Int {
		return big.NewInt(rapid.Int64Range(0, max).Draw(t, "amount"))
	})
}

func newPropertyLedger(t *rapid.T, bank *escrow.Bank) *Ledger {
	l, err := New(context.Background(), &Config{
		Owner:    owner,
		Store:    statestore.NewMemoryStore(),
		Transfer: bank,
		Clock:    fixedClock(testTimestamp),
	})
	require.NoError(t, err)
	return l
}

// Only the owner registers manufacturers
func TestProperty_AccessGating(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := newPropertyLedger(t, escrow.NewBank())
		p := principalGen().Filter(func(p interfaces.Principal) bool { return p != owner }).Draw(t, "caller")
		target := principalGen().Draw(t, "target")

		err := l.RegisterManufacturer(context.Background(), p, target, "TestManufacturer")
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		assert.False(t, l.IsActiveManufacturer(target))
		assert.Empty(t, l.Events(0, 0))
	})
}

// Only active manufacturers register updates
func TestProperty_ManufacturerGating(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		l := newPropertyLedger(t, escrow.NewBank())
		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))

		p := principalGen().Filter(func(p interfaces.Principal) bool {
			return p != manufacturer && p != (interfaces.Principal{})
		}).Draw(t, "caller")
		if rapid.Bool().Draw(t, "deactivated") {
			require.NoError(t, l.RegisterManufacturer(ctx, owner, p, "Deactivated"))
			require.NoError(t, l.DeactivateManufacturer(ctx, owner, p))
		}

		err := l.RegisterUpdate(ctx, p, testRegistration(testUID, amountGen(1000).Draw(t, "price")))
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		assert.Equal(t, uint64(0), l.UpdateCount())
	})
}

// A successful delivery moves exactly the price and emits KeyDelivered in the same operation
func TestProperty_EscrowAtomicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		bank := escrow.NewBank()
		l := newPropertyLedger(t, bank)

		price := amountGen(1_000_000).Draw(t, "price")
		extra := amountGen(1_000_000).Draw(t, "extra")
		value := new(big.Int).Add(price, extra)
		bank.Credit(buyer, value)

		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
		require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, price)))
		require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
		eventsBefore := len(l.Events(0, 0))

		_, err := l.DeliverKeyAndPayment(ctx, buyer, testUID, value)
		require.NoError(t, err)

		assert.Equal(t, 0, price.Cmp(bank.BalanceOf(manufacturer)))
		assert.Equal(t, 0, extra.Cmp(bank.BalanceOf(buyer)))

		events := l.Events(0, 0)
		require.Len(t, events, eventsBefore+1)
		last := events[len(events)-1]
		assert.Equal(t, interfaces.EventKeyDelivered, last.Kind)
		assert.Equal(t, buyer, last.Principal)
		assert.Equal(t, 0, price.Cmp(last.Amount))
	})
}

// Delivery requires the buyer's own acceptance
func TestProperty_AcceptancePrecondition(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		bank := escrow.NewBank()
		l := newPropertyLedger(t, bank)

		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
		require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, big.NewInt(10))))

		b := principalGen().Draw(t, "buyer")
		other := principalGen().Filter(func(p interfaces.Principal) bool { return p != b }).Draw(t, "other")
		bank.Credit(b, big.NewInt(10))
		if rapid.Bool().Draw(t, "otherAccepted") {
			require.NoError(t, l.AcceptUpdate(ctx, other, testUID))
		}

		_, err := l.DeliverKeyAndPayment(ctx, b, testUID, big.NewInt(10))
		assert.ErrorIs(t, err, interfaces.ErrNotAccepted)
		assert.Equal(t, big.NewInt(10), bank.BalanceOf(b))
	})
}

// Accepting n times is the same as accepting once
func TestProperty_AcceptanceIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		l := newPropertyLedger(t, escrow.NewBank())
		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
		require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, big.NewInt(1))))

		require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
		once := l.Events(0, 0)

		n := rapid.IntRange(1, 10).Draw(t, "repeats")
		for i := 0; i < n; i++ {
			require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))
		}
		assert.True(t, l.IsAccepted(testUID, buyer))
		assert.Equal(t, once, l.Events(0, 0))
	})
}

// Underpayment fails and moves nothing
func TestProperty_InsufficientPayment(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		bank := escrow.NewBank()
		l := newPropertyLedger(t, bank)

		price := rapid.Int64Range(1, 1_000_000).Draw(t, "price")
		value := rapid.Int64Range(0, price-1).Draw(t, "value")
		bank.Credit(buyer, big.NewInt(price))

		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))
		require.NoError(t, l.RegisterUpdate(ctx, manufacturer, testRegistration(testUID, big.NewInt(price))))
		require.NoError(t, l.AcceptUpdate(ctx, buyer, testUID))

		_, err := l.DeliverKeyAndPayment(ctx, buyer, testUID, big.NewInt(value))
		assert.ErrorIs(t, err, interfaces.ErrInsufficientPayment)
		assert.Equal(t, big.NewInt(price), bank.BalanceOf(buyer))
		assert.Equal(t, 0, bank.BalanceOf(manufacturer).Sign())
		assert.False(t, l.IsAuthorized(testUID, buyer))
	})
}

// Random operation sequences keep deliveries, acceptances, balances and the
// event log consistent with each other.
func TestProperty_StateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		bank := escrow.NewBank()
		l := newPropertyLedger(t, bank)
		require.NoError(t, l.RegisterManufacturer(ctx, owner, manufacturer, "TestManufacturer"))

		buyers := []interfaces.Principal{buyer, stranger, device}
		uids := []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
		for _, b := range buyers {
			bank.Credit(b, big.NewInt(50))
		}

		paid := new(big.Int)
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			uid := rapid.SampledFrom(uids).Draw(t, "uid")
			b := rapid.SampledFrom(buyers).Draw(t, "buyer")

			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				_ = l.RegisterUpdate(ctx, manufacturer, testRegistration(uid, amountGen(20).Draw(t, "price")))
			case 1:
				_ = l.AcceptUpdate(ctx, b, uid)
			case 2:
				d, err := l.DeliverKeyAndPayment(ctx, b, uid, amountGen(30).Draw(t, "value"))
				if err == nil {
					paid.Add(paid, d.Amount)
				}
			case 3:
				_ = l.ConfirmUpdateInstallation(ctx, b, uid, device)
			case 4:
				if rapid.Bool().Draw(t, "reject") {
					bank.RejectRecipient(manufacturer, true)
				} else {
					bank.RejectRecipient(manufacturer, false)
				}
			case 5:
				_ = l.DeactivateUpdate(ctx, manufacturer, uid)
			}
		}

		assert.Equal(t, 0, paid.Cmp(bank.BalanceOf(manufacturer)), "manufacturer receives exactly the delivered prices")

		total := new(big.Int).Set(bank.BalanceOf(manufacturer))
		for _, b := range buyers {
			total.Add(total, bank.BalanceOf(b))
		}
		assert.Equal(t, big.NewInt(150), total, "value is conserved")

		delivered := 0
		for _, b := range buyers {
			for _, uid := range l.BuyerUpdates(b) {
				delivered++
				assert.True(t, l.IsAccepted(uid, b), fmt.Sprintf("%s delivered to %s without acceptance", uid, b.Hex()))
			}
			for _, uid := range uids {
				if len(l.Installations(uid, b)) > 0 {
					assert.True(t, l.IsAuthorized(uid, b))
				}
			}
		}

		keyEvents := 0
		events := l.Events(0, 0)
		for i, e := range events {
			assert.Equal(t, uint64(i+1), e.Seq)
			if e.Kind == interfaces.EventKeyDelivered {
				keyEvents++
			}
		}
		assert.Equal(t, delivered, keyEvents, "one KeyDelivered event per delivery")
	})
}
