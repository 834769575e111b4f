package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// PublicKey is a 32-byte ed25519 ledger address, rendered base58 on the wire.
type PublicKey [32]byte

// SystemProgramID is the ledger's native system program.
var SystemProgramID = PublicKey{}

// PublicKeyFromBase58 decodes a base58 address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw := base58.Decode(s)
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("invalid public key %q: decoded %d bytes", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PublicKeyFromPrivate extracts the public half of a signing key.
func PublicKeyFromPrivate(key ed25519.PrivateKey) PublicKey {
	var pk PublicKey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	return pk
}

func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

func (p PublicKey) Bytes() []byte {
	return p[:]
}

func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}
