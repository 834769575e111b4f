package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// ParsePrivateKey accepts the two common oracle key encodings: a base58
// string (64-byte expanded key or 32-byte seed) or a JSON byte array.
// The decoded key must never be logged.
func ParsePrivateKey(raw string) (ed25519.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty private key")
	}

	if strings.HasPrefix(raw, "[") {
		var bytes []byte
		if err := json.Unmarshal([]byte(raw), &bytes); err != nil {
			return nil, fmt.Errorf("invalid JSON key array")
		}
		return privateKeyFromBytes(bytes)
	}

	decoded := base58.Decode(raw)
	if len(decoded) == 0 {
		return nil, fmt.Errorf("invalid base58 private key")
	}
	return privateKeyFromBytes(decoded)
}

func privateKeyFromBytes(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	}
	return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
		ed25519.PrivateKeySize, ed25519.SeedSize, len(b))
}
