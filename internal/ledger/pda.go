package ledger

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
)

// Seed prefixes are part of the on-wire contract with the arena program.
const (
	ArenaSeed = "arena"
	VaultSeed = "vault"

	pdaMarker = "ProgramDerivedAddress"
)

// FindProgramAddress derives the program address for the seeds, searching
// bump values from 255 downward for the first point off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])
		h.Write([]byte(pdaMarker))

		var addr PublicKey
		copy(addr[:], h.Sum(nil))
		if !isOnCurve(addr) {
			return addr, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, fmt.Errorf("no viable program address bump for seeds")
}

func isOnCurve(p PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// pdaCache memoises derivations; they are pure but cost up to 255 hashes.
type pdaCache struct {
	mu sync.RWMutex
	m  map[string]PublicKey
}

func newPDACache() *pdaCache {
	return &pdaCache{m: make(map[string]PublicKey)}
}

func (c *pdaCache) derive(prefix string, creator, program PublicKey) (PublicKey, error) {
	key := prefix + ":" + creator.String()

	c.mu.RLock()
	addr, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, _, err := FindProgramAddress([][]byte{[]byte(prefix), creator[:]}, program)
	if err != nil {
		return PublicKey{}, err
	}

	c.mu.Lock()
	c.m[key] = addr
	c.mu.Unlock()
	return addr, nil
}
