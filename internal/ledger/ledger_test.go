package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
)

func testKey(t *testing.T, seedByte byte) (PublicKey, ed25519.PrivateKey) {
	t.Helper()
	seed := bytes.Repeat([]byte{seedByte}, ed25519.SeedSize)
	key := ed25519.NewKeyFromSeed(seed)
	return PublicKeyFromPrivate(key), key
}

func TestDiscriminatorLayout(t *testing.T) {
	// The discriminator is the first 8 bytes of SHA-256("global:"+name);
	// this is the wire contract with the deployed program.
	want := sha256.Sum256([]byte("global:place_stake"))
	got := Discriminator(InstrPlaceStake)
	if !bytes.Equal(got[:], want[:8]) {
		t.Errorf("discriminator = %x, want %x", got, want[:8])
	}

	// Distinct instructions must never collide.
	names := []string{InstrInitializeArena, InstrPlaceStake, InstrSettleGame, InstrResetArena, InstrClaimReward}
	seen := map[[8]byte]string{}
	for _, name := range names {
		d := Discriminator(name)
		if prev, dup := seen[d]; dup {
			t.Fatalf("%s collides with %s", name, prev)
		}
		seen[d] = name
	}
}

func TestEncodePlaceStake(t *testing.T) {
	data := EncodePlaceStake(1_500_000, 1)
	if len(data) != 8+8+1 {
		t.Fatalf("length = %d", len(data))
	}
	if amount := binary.LittleEndian.Uint64(data[8:16]); amount != 1_500_000 {
		t.Errorf("amount = %d", amount)
	}
	if data[16] != 1 {
		t.Errorf("side byte = %d", data[16])
	}
}

func TestEncodeInitializeArena(t *testing.T) {
	data := EncodeInitializeArena(250)
	if len(data) != 8+2 {
		t.Fatalf("length = %d", len(data))
	}
	if fee := binary.LittleEndian.Uint16(data[8:]); fee != 250 {
		t.Errorf("feeBps = %d", fee)
	}
}

func TestEncodeSettleGame(t *testing.T) {
	data := EncodeSettleGame(1)
	if len(data) != 9 || data[8] != 1 {
		t.Fatalf("settle payload = %x", data)
	}
}

func TestCompactU16(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		writeCompactU16(&buf, tc.n)
		if !bytes.Equal(buf.Bytes(), tc.want) {
			t.Errorf("compactU16(%d) = %x, want %x", tc.n, buf.Bytes(), tc.want)
		}
	}
}

func TestFindProgramAddressOffCurve(t *testing.T) {
	program, _ := testKey(t, 9)
	creator, _ := testKey(t, 3)

	addr, bump, err := FindProgramAddress([][]byte{[]byte(ArenaSeed), creator[:]}, program)
	if err != nil {
		t.Fatal(err)
	}
	if isOnCurve(addr) {
		t.Error("derived address lies on the curve")
	}

	// Derivation is pure: same inputs, same output.
	addr2, bump2, err := FindProgramAddress([][]byte{[]byte(ArenaSeed), creator[:]}, program)
	if err != nil {
		t.Fatal(err)
	}
	if addr != addr2 || bump != bump2 {
		t.Error("derivation is not deterministic")
	}

	// The vault seed must land elsewhere.
	vault, _, err := FindProgramAddress([][]byte{[]byte(VaultSeed), creator[:]}, program)
	if err != nil {
		t.Fatal(err)
	}
	if vault == addr {
		t.Error("arena and vault PDAs collide")
	}
}

func TestOnCurveDetectsRealKeys(t *testing.T) {
	// Every ed25519 public key lies on the curve by construction.
	pub, _ := testKey(t, 7)
	if !isOnCurve(pub) {
		t.Error("valid public key reported off-curve")
	}
}

func TestBuildTransactionLayout(t *testing.T) {
	payer, payerKey := testKey(t, 1)
	program, _ := testKey(t, 2)
	arena, _ := testKey(t, 4)
	vault, _ := testKey(t, 5)

	var blockhash [32]byte
	copy(blockhash[:], bytes.Repeat([]byte{0xaa}, 32))

	instr := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: arena, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
		},
		Data: EncodeSettleGame(0),
	}
	tx, err := BuildTransaction([]Instruction{instr}, payer, blockhash, map[PublicKey]ed25519.PrivateKey{payer: payerKey})
	if err != nil {
		t.Fatal(err)
	}

	// One signature, then the message.
	if tx[0] != 1 {
		t.Fatalf("signature count = %d", tx[0])
	}
	sig := tx[1 : 1+ed25519.SignatureSize]
	msg := tx[1+ed25519.SignatureSize:]
	if !ed25519.Verify(ed25519.PublicKey(payer[:]), msg, sig) {
		t.Fatal("signature does not verify over the message")
	}

	// Header: 1 signer, 0 readonly signed, 1 readonly unsigned (the program).
	if msg[0] != 1 {
		t.Errorf("numSigners = %d", msg[0])
	}
	if msg[1] != 0 {
		t.Errorf("numROSigned = %d", msg[1])
	}
	if msg[2] != 1 {
		t.Errorf("numROUnsigned = %d", msg[2])
	}

	// Account table: payer first, then writable non-signers in first-touch
	// order, readonly (the program) last.
	if msg[3] != 4 {
		t.Fatalf("account count = %d", msg[3])
	}
	table := msg[4 : 4+4*32]
	if !bytes.Equal(table[0:32], payer[:]) {
		t.Error("payer is not account 0")
	}
	if !bytes.Equal(table[32:64], arena[:]) {
		t.Error("arena is not account 1")
	}
	if !bytes.Equal(table[64:96], vault[:]) {
		t.Error("vault is not account 2")
	}
	if !bytes.Equal(table[96:128], program[:]) {
		t.Error("program is not the trailing readonly account")
	}

	// Blockhash follows the table.
	if !bytes.Equal(msg[4+4*32:4+4*32+32], blockhash[:]) {
		t.Error("blockhash misplaced")
	}
}

func TestBuildTransactionMissingSigner(t *testing.T) {
	payer, _ := testKey(t, 1)
	program, _ := testKey(t, 2)
	instr := Instruction{ProgramID: program, Data: []byte{1}}
	if _, err := BuildTransaction([]Instruction{instr}, payer, [32]byte{}, nil); err == nil {
		t.Error("expected missing-signer error")
	}
}

func TestDecodeArenaRoundTrip(t *testing.T) {
	creator, _ := testKey(t, 1)
	oracle, _ := testKey(t, 2)
	agentA, _ := testKey(t, 3)
	agentB, _ := testKey(t, 4)

	buf := make([]byte, arenaAccountLen)
	off := 8
	copy(buf[off:], creator[:])
	off += 32
	copy(buf[off:], oracle[:])
	off += 32
	copy(buf[off:], agentA[:])
	off += 32
	copy(buf[off:], agentB[:])
	off += 32
	buf[off] = 2 // settled
	off++
	buf[off] = 1 // winner side 1
	off++
	binary.LittleEndian.PutUint16(buf[off:], 250)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], 5_000_000)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], 3_000_000)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], 1700000000)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], 1700000300)

	a, err := DecodeArena(buf)
	if err != nil {
		t.Fatal(err)
	}
	if a.Creator != creator || a.Oracle != oracle || a.AgentA != agentA || a.AgentB != agentB {
		t.Error("key fields mangled")
	}
	if a.Status != 2 || a.WinnerSide == nil || *a.WinnerSide != 1 {
		t.Errorf("status/winner = %d/%v", a.Status, a.WinnerSide)
	}
	if a.FeeBps != 250 || a.PoolA != 5_000_000 || a.PoolB != 3_000_000 {
		t.Errorf("fee/pools = %d/%d/%d", a.FeeBps, a.PoolA, a.PoolB)
	}
	if a.StartTime != 1700000000 || a.EndTime != 1700000300 {
		t.Errorf("times = %d/%d", a.StartTime, a.EndTime)
	}
}

func TestDecodeArenaNoWinner(t *testing.T) {
	buf := make([]byte, arenaAccountLen)
	buf[8+128+1] = 0xff
	a, err := DecodeArena(buf)
	if err != nil {
		t.Fatal(err)
	}
	if a.WinnerSide != nil {
		t.Errorf("winner = %v, want nil", *a.WinnerSide)
	}
}

func TestDecodeArenaTooShort(t *testing.T) {
	if _, err := DecodeArena(make([]byte, 10)); err == nil {
		t.Error("expected length error")
	}
}

func TestDecodeStake(t *testing.T) {
	user, _ := testKey(t, 6)
	buf := make([]byte, stakeAccountLen)
	copy(buf[8:], user[:])
	binary.LittleEndian.PutUint64(buf[40:], 777)
	buf[48] = 1
	buf[49] = 1

	s, err := DecodeStake(buf)
	if err != nil {
		t.Fatal(err)
	}
	if s.User != user || s.Amount != 777 || s.Side != 1 || !s.Claimed {
		t.Errorf("decoded %+v", s)
	}
}

func TestOracleSignerNonceReplay(t *testing.T) {
	_, key := testKey(t, 8)
	signer := NewOracleSigner(0, key)

	sig, err := signer.SignSettle("ArenaAddr", 1, "nonce-1")
	if err != nil {
		t.Fatalf("first signature refused: %v", err)
	}
	if sig == "" {
		t.Fatal("empty signature")
	}

	if _, err := signer.SignSettle("ArenaAddr", 1, "nonce-1"); err == nil {
		t.Error("nonce replay accepted")
	}
	if _, err := signer.SignReset("ArenaAddr", "nonce-1"); err == nil {
		t.Error("nonce replay accepted across digest kinds")
	}
	if _, err := signer.SignSettle("ArenaAddr", 1, ""); err == nil {
		t.Error("empty nonce accepted")
	}
}

func TestSettleDigestBindsAllFields(t *testing.T) {
	base := SettleDigest("arena", 0, "n")
	if bytes.Equal(base, SettleDigest("arena", 1, "n")) {
		t.Error("winner not bound")
	}
	if bytes.Equal(base, SettleDigest("other", 0, "n")) {
		t.Error("arena not bound")
	}
	if bytes.Equal(base, SettleDigest("arena", 0, "m")) {
		t.Error("nonce not bound")
	}
	if bytes.Equal(base, ResetDigest("arena", "n")) {
		t.Error("settle and reset digests overlap")
	}
}

// The configured peer list includes this node itself; collection must skip
// that entry and still reach quorum with the remaining peers.
func TestMultisigCollectSkipsSelfInPeerList(t *testing.T) {
	selfPub, selfKey := testKey(t, 1)
	peerPub, peerKey := testKey(t, 2)

	var nonce string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ArenaAddress string `json:"arenaAddress"`
			Winner       *uint8 `json:"winner"`
			Nonce        string `json:"nonce"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Winner == nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		nonce = req.Nonce
		sig := base58.Encode(ed25519.Sign(peerKey, SettleDigest(req.ArenaAddress, *req.Winner, req.Nonce)))
		_ = json.NewEncoder(w).Encode(map[string]string{"signature": sig})
	}))
	defer srv.Close()

	m := &MultisigCollector{
		SelfIndex: 0,
		Key:       selfKey,
		Peers: []Peer{
			{Index: 0, Pubkey: selfPub.String(), URL: "http://127.0.0.1:1"},
			{Index: 1, Pubkey: peerPub.String(), URL: srv.URL},
		},
	}

	payload, err := m.CollectSettle(context.Background(), "ArenaAddr", 1)
	if err != nil {
		t.Fatalf("quorum not reached with a healthy peer after self: %v", err)
	}

	// Payload: u8 count, then (u8 index, 64-byte signature) per member.
	if len(payload) != 1+2*(1+ed25519.SignatureSize) {
		t.Fatalf("payload length = %d", len(payload))
	}
	if payload[0] != 2 {
		t.Fatalf("signature count = %d", payload[0])
	}
	digest := SettleDigest("ArenaAddr", 1, nonce)
	if payload[1] != 0 || !ed25519.Verify(ed25519.PublicKey(selfPub[:]), digest, payload[2:2+ed25519.SignatureSize]) {
		t.Error("own signature missing or invalid")
	}
	off := 2 + ed25519.SignatureSize
	if payload[off] != 1 || !ed25519.Verify(ed25519.PublicKey(peerPub[:]), digest, payload[off+1:off+1+ed25519.SignatureSize]) {
		t.Error("peer signature missing or invalid")
	}
}

func TestPublicKeyBase58RoundTrip(t *testing.T) {
	pub, _ := testKey(t, 11)
	decoded, err := PublicKeyFromBase58(pub.String())
	if err != nil {
		t.Fatal(err)
	}
	if decoded != pub {
		t.Error("round trip mangled key")
	}

	if _, err := PublicKeyFromBase58("tooshort"); err == nil {
		t.Error("short input accepted")
	}
}
