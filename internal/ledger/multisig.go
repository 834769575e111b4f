package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Multisig mode aggregates 2-of-3 oracle signatures over settle and reset
// instructions. Peers expose /api/oracle/sign and /api/oracle/sign-reset;
// each request carries a single-use nonce.

const (
	multisigQuorum = 2
	nonceWindow    = 10 * time.Minute
)

// SettleDigest is the message peers sign for a settlement.
func SettleDigest(arenaAddress string, winner uint8, nonce string) []byte {
	sum := sha256.Sum256([]byte("settle:" + arenaAddress + ":" + strconv.Itoa(int(winner)) + ":" + nonce))
	return sum[:]
}

// ResetDigest is the message peers sign for an arena reset.
func ResetDigest(arenaAddress, nonce string) []byte {
	sum := sha256.Sum256([]byte("reset:" + arenaAddress + ":" + nonce))
	return sum[:]
}

// OracleSigner is the peer-facing half: it signs digests for other oracles,
// refusing nonce replays.
type OracleSigner struct {
	Index int
	key   ed25519.PrivateKey
	seen  *expirable.LRU[string, struct{}]
}

func NewOracleSigner(index int, key ed25519.PrivateKey) *OracleSigner {
	return &OracleSigner{
		Index: index,
		key:   key,
		seen:  expirable.NewLRU[string, struct{}](4096, nil, nonceWindow),
	}
}

func (s *OracleSigner) sign(digest []byte, nonce string) (string, error) {
	if nonce == "" {
		return "", fmt.Errorf("missing nonce")
	}
	if _, replayed := s.seen.Get(nonce); replayed {
		return "", fmt.Errorf("nonce already used")
	}
	s.seen.Add(nonce, struct{}{})
	return base58.Encode(ed25519.Sign(s.key, digest)), nil
}

// SignSettle signs a settlement digest once per nonce.
func (s *OracleSigner) SignSettle(arenaAddress string, winner uint8, nonce string) (string, error) {
	return s.sign(SettleDigest(arenaAddress, winner, nonce), nonce)
}

// SignReset signs a reset digest once per nonce.
func (s *OracleSigner) SignReset(arenaAddress, nonce string) (string, error) {
	return s.sign(ResetDigest(arenaAddress, nonce), nonce)
}

// Peer is one remote member of the oracle set.
type Peer struct {
	Index  int
	Pubkey string
	URL    string
}

// MultisigCollector gathers quorum signatures, starting with its own.
type MultisigCollector struct {
	SelfIndex  int
	Key        ed25519.PrivateKey
	Peers      []Peer
	HTTPClient *http.Client
}

type signRequest struct {
	ArenaAddress string `json:"arenaAddress"`
	Winner       *uint8 `json:"winner,omitempty"`
	Nonce        string `json:"nonce"`
	Requester    int    `json:"requester"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type collectedSig struct {
	index int
	sig   []byte
}

// CollectSettle returns the aggregated quorum payload for a settlement:
// u8 count, then (u8 oracle index, 64-byte signature) per member.
func (m *MultisigCollector) CollectSettle(ctx context.Context, arenaAddress string, winner uint8) ([]byte, error) {
	nonce := uuid.NewString()
	digest := SettleDigest(arenaAddress, winner, nonce)
	req := signRequest{ArenaAddress: arenaAddress, Winner: &winner, Nonce: nonce, Requester: m.SelfIndex}
	return m.collect(ctx, "/api/oracle/sign", req, digest)
}

// CollectReset returns the aggregated quorum payload for a reset.
func (m *MultisigCollector) CollectReset(ctx context.Context, arenaAddress string) ([]byte, error) {
	nonce := uuid.NewString()
	digest := ResetDigest(arenaAddress, nonce)
	req := signRequest{ArenaAddress: arenaAddress, Nonce: nonce, Requester: m.SelfIndex}
	return m.collect(ctx, "/api/oracle/sign-reset", req, digest)
}

func (m *MultisigCollector) collect(ctx context.Context, path string, req signRequest, digest []byte) ([]byte, error) {
	sigs := []collectedSig{{index: m.SelfIndex, sig: ed25519.Sign(m.Key, digest)}}

	for _, peer := range m.Peers {
		if len(sigs) >= multisigQuorum {
			break
		}
		// The peer list may include this node; its signature is already in.
		if peer.Index == m.SelfIndex {
			continue
		}
		sig, err := m.requestPeerSignature(ctx, peer, path, req, digest)
		if err != nil {
			log.Printf("[Multisig] peer %d signature failed: %v", peer.Index, err)
			continue
		}
		sigs = append(sigs, collectedSig{index: peer.Index, sig: sig})
	}

	if len(sigs) < multisigQuorum {
		return nil, fmt.Errorf("multisig quorum not reached: %d of %d signatures", len(sigs), multisigQuorum)
	}

	var payload bytes.Buffer
	payload.WriteByte(uint8(len(sigs)))
	for _, s := range sigs {
		payload.WriteByte(uint8(s.index))
		payload.Write(s.sig)
	}
	return payload.Bytes(), nil
}

func (m *MultisigCollector) requestPeerSignature(ctx context.Context, peer Peer, path string, req signRequest, digest []byte) ([]byte, error) {
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}
	var out signResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("malformed peer response")
	}

	sig := base58.Decode(out.Signature)
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("peer signature has %d bytes", len(sig))
	}
	peerPub, err := PublicKeyFromBase58(peer.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("bad peer pubkey: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(peerPub[:]), digest, sig) {
		return nil, fmt.Errorf("peer signature does not verify")
	}
	return sig, nil
}
