package api

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Wallet authentication: the client requests a nonce for its wallet address,
// signs it with the wallet's ed25519 key, and trades the signature for a
// short-lived session token. Privileged routes require the token.

const (
	nonceTTL   = 5 * time.Minute
	sessionTTL = 24 * time.Hour
)

var (
	errNoNonce      = errors.New("no pending nonce for wallet")
	errBadSignature = errors.New("signature does not verify")
	errBadWallet    = errors.New("wallet is not a valid public key")
)

// AuthService issues nonces and session tokens. Both live in bounded
// expiring caches, so a restart simply forces re-authentication.
type AuthService struct {
	nonces   *expirable.LRU[string, string] // wallet -> nonce
	sessions *expirable.LRU[string, string] // token -> wallet
}

func NewAuthService() *AuthService {
	return &AuthService{
		nonces:   expirable.NewLRU[string, string](4096, nil, nonceTTL),
		sessions: expirable.NewLRU[string, string](16384, nil, sessionTTL),
	}
}

// Nonce issues a fresh single-use challenge for a wallet.
func (a *AuthService) Nonce(wallet string) string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	nonce := "arena-login:" + hex.EncodeToString(buf)
	a.nonces.Add(wallet, nonce)
	return nonce
}

// Verify checks the wallet's signature over its pending nonce and returns a
// session token. The nonce is consumed either way.
func (a *AuthService) Verify(wallet, signatureB58 string) (string, error) {
	nonce, ok := a.nonces.Get(wallet)
	if !ok {
		return "", errNoNonce
	}
	a.nonces.Remove(wallet)

	pub := base58.Decode(wallet)
	if len(pub) != ed25519.PublicKeySize {
		return "", errBadWallet
	}
	sig := base58.Decode(signatureB58)
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, []byte(nonce), sig) {
		return "", errBadSignature
	}

	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)
	a.sessions.Add(token, wallet)
	return token, nil
}

// ValidateToken reports whether a session token is live.
func (a *AuthService) ValidateToken(token string) bool {
	_, ok := a.sessions.Get(token)
	return ok
}

// WalletFor resolves a session token to its wallet.
func (a *AuthService) WalletFor(token string) (string, bool) {
	return a.sessions.Get(token)
}

// RequireSession guards privileged routes with a bearer session token.
func (a *AuthService) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		wallet, ok := a.sessions.Get(token)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "valid session token required"})
			c.Abort()
			return
		}
		c.Set("wallet", wallet)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
