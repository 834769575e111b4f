package indexer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/pkg/models"
)

const (
	testProgram = "Prog1111111111111111111111111111"
	testArena   = "Arena111111111111111111111111111"
	testUser    = "User1111111111111111111111111111"
)

type fakeStore struct {
	sigs       map[string]bool
	open       map[string]*models.Battle
	latest     map[string]*models.Battle
	stakes     []*models.Stake
	claims     []string
	cursorSlot int64
	cursorSig  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sigs:   make(map[string]bool),
		open:   make(map[string]*models.Battle),
		latest: make(map[string]*models.Battle),
	}
}

func (f *fakeStore) StakeExistsBySignature(_ context.Context, signature string) (bool, error) {
	return f.sigs[signature], nil
}

func (f *fakeStore) UpsertStake(_ context.Context, st *models.Stake) (*models.Stake, error) {
	f.stakes = append(f.stakes, st)
	if st.TxSignature != nil {
		f.sigs[*st.TxSignature] = true
	}
	return st, nil
}

func (f *fakeStore) MarkStakeClaimed(_ context.Context, _ int64, userAddress string) error {
	f.claims = append(f.claims, userAddress)
	return nil
}

func (f *fakeStore) GetOpenBattleByArena(_ context.Context, arenaAddress string) (*models.Battle, error) {
	if b, ok := f.open[arenaAddress]; ok {
		return b, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) GetLatestBattleByArena(_ context.Context, arenaAddress string) (*models.Battle, error) {
	if b, ok := f.latest[arenaAddress]; ok {
		return b, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) SetIndexerCursor(_ context.Context, slot int64, signature string) error {
	f.cursorSlot, f.cursorSig = slot, signature
	return nil
}

type fakeSyncer struct {
	synced []string
}

func (s *fakeSyncer) SyncArena(_ context.Context, address string) (*models.Arena, error) {
	s.synced = append(s.synced, address)
	return &models.Arena{Address: address}, nil
}

func placeStakeData(amount uint64, side byte) string {
	disc := ledger.Discriminator(ledger.InstrPlaceStake)
	data := make([]byte, 0, 17)
	data = append(data, disc[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = append(data, side)
	return base64.StdEncoding.EncodeToString(data)
}

func discOnly(name string) string {
	disc := ledger.Discriminator(name)
	return base64.StdEncoding.EncodeToString(disc[:])
}

func stakeAccounts() []string {
	return []string{testArena, "vault", "stakeAcct", testUser}
}

func TestVerifySignature(t *testing.T) {
	ix := New(newFakeStore(), nil, testProgram, "secret")
	body := []byte(`{"slot":1}`)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if !ix.VerifySignature(body, good) {
		t.Error("valid signature rejected")
	}
	if ix.VerifySignature(body, good[:len(good)-2]+"00") {
		t.Error("tampered signature accepted")
	}
	if ix.VerifySignature(body, "not-hex") {
		t.Error("non-hex signature accepted")
	}

	// A deployment without a secret trusts nothing.
	open := New(newFakeStore(), nil, testProgram, "")
	if open.VerifySignature(body, good) {
		t.Error("signature accepted with no secret configured")
	}
}

func TestIngestPlaceStake(t *testing.T) {
	store := newFakeStore()
	store.open[testArena] = &models.Battle{ID: 42, ExternalID: "ext-42"}
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      100,
		Signature: "sig-1",
		Instructions: []WebhookInstruction{{
			ProgramID: testProgram,
			Accounts:  stakeAccounts(),
			Data:      placeStakeData(2_500_000, 1),
		}},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if len(store.stakes) != 1 {
		t.Fatalf("stakes = %d, want 1", len(store.stakes))
	}
	st := store.stakes[0]
	if st.BattleID != 42 || st.Side != 1 || st.Amount != 2_500_000 || st.UserAddress != testUser {
		t.Errorf("stake = %+v", st)
	}
	if st.TxSignature == nil || *st.TxSignature != "sig-1" {
		t.Errorf("signature = %v", st.TxSignature)
	}
	if store.cursorSlot != 100 || store.cursorSig != "sig-1" {
		t.Errorf("cursor = %d/%s", store.cursorSlot, store.cursorSig)
	}
}

func TestIngestIsIdempotentBySignature(t *testing.T) {
	store := newFakeStore()
	store.open[testArena] = &models.Battle{ID: 42}
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      100,
		Signature: "sig-dup",
		Instructions: []WebhookInstruction{{
			ProgramID: testProgram,
			Accounts:  stakeAccounts(),
			Data:      placeStakeData(10, 0),
		}},
	}
	ctx := context.Background()
	if err := ix.Ingest(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := ix.Ingest(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if len(store.stakes) != 1 {
		t.Errorf("replay recorded %d stakes, want 1", len(store.stakes))
	}
	if ix.Stats()["skipped"] != 1 {
		t.Errorf("skipped = %d, want 1", ix.Stats()["skipped"])
	}
}

func TestIngestIgnoresForeignPrograms(t *testing.T) {
	store := newFakeStore()
	store.open[testArena] = &models.Battle{ID: 42}
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      5,
		Signature: "sig-foreign",
		Instructions: []WebhookInstruction{{
			ProgramID: "SomeOtherProgram",
			Accounts:  stakeAccounts(),
			Data:      placeStakeData(10, 0),
		}},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.stakes) != 0 {
		t.Error("foreign program instruction ingested")
	}
}

func TestIngestStakeWithoutOpenBattleIsSkipped(t *testing.T) {
	store := newFakeStore()
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      5,
		Signature: "sig-orphan",
		Instructions: []WebhookInstruction{{
			ProgramID: testProgram,
			Accounts:  stakeAccounts(),
			Data:      placeStakeData(10, 0),
		}},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.stakes) != 0 {
		t.Error("orphan stake recorded")
	}
}

func TestIngestClaimReward(t *testing.T) {
	store := newFakeStore()
	store.latest[testArena] = &models.Battle{ID: 42}
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      7,
		Signature: "sig-claim",
		Instructions: []WebhookInstruction{{
			ProgramID: testProgram,
			Accounts:  stakeAccounts(),
			Data:      discOnly(ledger.InstrClaimReward),
		}},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.claims) != 1 || store.claims[0] != testUser {
		t.Errorf("claims = %v", store.claims)
	}
}

func TestIngestSettleTriggersResync(t *testing.T) {
	store := newFakeStore()
	syncer := &fakeSyncer{}
	ix := New(store, syncer, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      9,
		Signature: "sig-settle",
		Instructions: []WebhookInstruction{{
			ProgramID: testProgram,
			Accounts:  []string{testArena},
			Data:      discOnly(ledger.InstrSettleGame),
		}},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(syncer.synced) != 1 || syncer.synced[0] != testArena {
		t.Errorf("synced = %v", syncer.synced)
	}
}

func TestIngestRejectsUnsignedEvent(t *testing.T) {
	ix := New(newFakeStore(), nil, testProgram, "secret")
	if err := ix.Ingest(context.Background(), &WebhookEvent{Slot: 1}); err == nil {
		t.Error("unsigned event accepted")
	}
}

func TestIngestMalformedDataIsSkippedNotFatal(t *testing.T) {
	store := newFakeStore()
	ix := New(store, nil, testProgram, "secret")

	ev := &WebhookEvent{
		Slot:      3,
		Signature: "sig-junk",
		Instructions: []WebhookInstruction{
			{ProgramID: testProgram, Accounts: stakeAccounts(), Data: "!!not-base64!!"},
			{ProgramID: testProgram, Accounts: stakeAccounts(), Data: base64.StdEncoding.EncodeToString([]byte{1, 2})},
		},
	}
	if err := ix.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(store.stakes) != 0 {
		t.Error("junk data produced a stake")
	}
	if ix.Stats()["processed"] != 1 {
		t.Error("event with junk instructions still counts as processed")
	}
}
