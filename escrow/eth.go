package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// ErrUnknownAccount is returned when no signing key is held for the payer.
var ErrUnknownAccount = errors.New("no signing key for account")

// nativeTransferGas is the intrinsic gas of a plain value transfer.
const nativeTransferGas = uint64(21000)

// DefaultMineTimeout bounds how long a submitted transfer is awaited.
const DefaultMineTimeout = 2 * time.Minute

// EthBackend is the subset of an Ethereum client used to submit and await
// native transfers. Both *ethclient.Client and simulated.Client satisfy it.
type EthBackend interface {
	bind.DeployBackend
	ethereum.ChainIDReader
	ethereum.GasPricer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account interfaces.Principal) (uint64, error)
}

// EthTransferer settles escrow payments as native transfers on an Ethereum
// compatible chain. Payers are custodial accounts whose keys are registered
// with AddAccount. Transfer returns once the transaction is mined; a reverted
// or unsent transaction is reported as an error and moves no value.
//
// Once a transaction is submitted the caller's context no longer bounds it:
// submission and the receipt wait run until MineTimeout. A transaction whose
// receipt was not seen by then is reported with interfaces.ErrTransferPending.
type EthTransferer struct {
	backend EthBackend
	log     *slog.Logger

	// MineTimeout bounds submission plus the receipt wait.
	MineTimeout time.Duration

	mu   sync.Mutex
	keys map[interfaces.Principal]*ecdsa.PrivateKey
}

// NewEthTransferer creates a transferer submitting through backend.
func NewEthTransferer(backend EthBackend, log *slog.Logger) *EthTransferer {
	if log == nil {
		log = slog.Default()
	}
	return &EthTransferer{
		backend:     backend,
		log:         log,
		MineTimeout: DefaultMineTimeout,
		keys:        make(map[interfaces.Principal]*ecdsa.PrivateKey),
	}
}

// AddAccount registers a custodial signing key and returns its address.
func (e *EthTransferer) AddAccount(key *ecdsa.PrivateKey) interfaces.Principal {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[addr] = key
	return addr
}

// Transfer sends amount from a custodial account to the recipient and waits
// for the receipt.
func (e *EthTransferer) Transfer(ctx context.Context, from, to interfaces.Principal, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", interfaces.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Past this point the payment may leave the account, so the caller
	// cancelling must not turn an in-flight transaction into a failure
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.MineTimeout)
	defer cancel()

	// Nonce allocation and submission are serialized per transferer
	e.mu.Lock()
	key, ok := e.keys[from]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAccount, from.Hex())
	}
	tx, err := e.send(ctx, settleCtx, key, from, to, amount)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.log.Debug("Submitted escrow transfer", "tx", tx.Hash().Hex(), "from", from.Hex(), "to", to.Hex(), "amount", amount.String())

	receipt, err := bind.WaitMined(settleCtx, e.backend, tx)
	if err != nil {
		e.log.Warn("Escrow transfer not mined in time", "tx", tx.Hash().Hex(), "err", err)
		return fmt.Errorf("%w: waiting for transfer %s: %w", interfaces.ErrTransferPending, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transfer %s reverted", tx.Hash().Hex())
	}
	return nil
}

// send prepares the transaction on ctx and submits it on submitCtx.
func (e *EthTransferer) send(ctx, submitCtx context.Context, key *ecdsa.PrivateKey, from, to interfaces.Principal, amount *big.Int) (*types.Transaction, error) {
	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch chain id: %w", err)
	}
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("could not fetch nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch gas price: %w", err)
	}

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      nativeTransferGas,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("could not sign transfer: %w", err)
	}

	if err := e.backend.SendTransaction(submitCtx, tx); err != nil {
		if submitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: submitting transfer %s: %w", interfaces.ErrTransferPending, tx.Hash().Hex(), err)
		}
		return nil, fmt.Errorf("could not send transfer: %w", err)
	}
	return tx, nil
}
