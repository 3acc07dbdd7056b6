// Package certchain implements IdentityManager (spec.md section 4.2): the
// three-level CA -> account -> device certificate chain, its verification
// rules, and certificate renewal.
package certchain

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

// BuildPublicKeyID derives the fixed-width identifier for a certificate's
// public key: the account id (account-level) or device id (device-level)
// named throughout spec.md section 3.
func BuildPublicKeyID(publicKey ed25519.PublicKey) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key size: %d", len(publicKey))
	}
	h := blake2b.Sum256(publicKey)
	return "mid1" + base58.Encode(h[:]), nil
}
