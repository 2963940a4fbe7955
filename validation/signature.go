package validation

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/software-update-ledger/interfaces"
)

var (
	// ErrSignatureLength is returned for signatures that are not 65 bytes long.
	ErrSignatureLength = errors.New("signature must be 65 bytes [R || S || V]")

	// ErrSignerMismatch is returned when the signature was not made by the registering manufacturer.
	ErrSignerMismatch = errors.New("signature does not match manufacturer")

	// ErrEmptyEncryptedKey is returned when an update carries no encrypted key.
	ErrEmptyEncryptedKey = errors.New("encrypted key is empty")
)

// UpdateDigest is the message manufacturers sign when registering an update:
// keccak256(uid || hash || encryptedKey).
func UpdateDigest(reg *interfaces.UpdateRegistration) []byte {
	return crypto.Keccak256([]byte(reg.UID), reg.Hash[:], reg.EncryptedKey)
}

// SignUpdate signs reg with the manufacturer key and returns the signature
// blob to store alongside the update.
func SignUpdate(key *ecdsa.PrivateKey, reg *interfaces.UpdateRegistration) ([]byte, error) {
	sig, err := crypto.Sign(UpdateDigest(reg), key)
	if err != nil {
		return nil, fmt.Errorf("could not sign update: %w", err)
	}
	return sig, nil
}

// EthSignatureValidator accepts an update only if its signature blob is a
// secp256k1 signature of UpdateDigest made by the registering manufacturer.
type EthSignatureValidator struct{}

// ValidateUpdate recovers the signer and compares it to manufacturer.
func (EthSignatureValidator) ValidateUpdate(manufacturer interfaces.Principal, reg *interfaces.UpdateRegistration) error {
	if len(reg.EncryptedKey) == 0 {
		return ErrEmptyEncryptedKey
	}
	if len(reg.Signature) != crypto.SignatureLength {
		return ErrSignatureLength
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, reg.Signature)
	// Accept both 0/1 and 27/28 recovery ids
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(UpdateDigest(reg), sig)
	if err != nil {
		return fmt.Errorf("could not recover signer: %w", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != manufacturer {
		return fmt.Errorf("%w: signed by %s", ErrSignerMismatch, signer.Hex())
	}
	return nil
}

// AcceptAll keeps blobs fully opaque and accepts every update.
type AcceptAll struct{}

// ValidateUpdate always succeeds.
func (AcceptAll) ValidateUpdate(interfaces.Principal, *interfaces.UpdateRegistration) error {
	return nil
}
