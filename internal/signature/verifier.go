// Package signature recovers the signer of EIP-191 personal messages.
//
// Recovery always operates on the exact byte sequence the client claims
// was signed. Re-serializing parsed content before verifying would let an
// attacker swap structure under a valid signature, so nothing in this
// package touches JSON.
package signature

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignatureFormat is returned when a signature cannot be parsed
// or recovered at all, as opposed to recovering a different signer.
var ErrInvalidSignatureFormat = errors.New("invalid signature format")

// SignatureLength is the expected length of a 65-byte [R || S || V]
// secp256k1 signature.
const SignatureLength = 65

// Recover returns the address that produced signature over the personal-sign
// hash of message. The caller compares the result to a claimed signer;
// common.Address comparison is case-insensitive by construction.
func Recover(message string, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignatureFormat
	}

	// Wallets emit V as 27/28; go-ethereum expects 0/1. Work on a copy so
	// the caller's signature bytes stay untouched.
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] != 0 && normalized[64] != 1 {
		return common.Address{}, ErrInvalidSignatureFormat
	}

	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, ErrInvalidSignatureFormat
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// Matches reports whether recovered equals the claimed signer, comparing
// addresses case-insensitively.
func Matches(recovered common.Address, claimed string) bool {
	if !common.IsHexAddress(claimed) {
		return false
	}
	return recovered == common.HexToAddress(claimed)
}
