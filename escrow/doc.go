// Package escrow provides interfaces.ValueTransfer implementations used by the
// ledger to forward key-delivery payments to manufacturers.
//
// Bank keeps native balances in memory and settles instantly. EthTransferer
// settles on an Ethereum compatible chain from custodial accounts and blocks
// until the transfer is mined. Both are all-or-nothing: an error means no value
// moved, which lets the ledger revert the delivery it committed beforehand.
package escrow
