package importer_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
)

type fixture struct {
	t      *testing.T
	db     *database.Database
	alg    *pow.Algorithm
	imp    *importer.Importer
	engine *pow.Engine
	key    *ecdsa.PrivateKey
	author []byte
	start  time.Time
	clock  *clock.Mock
}

func newFixture(t *testing.T, checkInherentsAfter uint64) *fixture {
	storage, _ := memory.New()

	gen := genesis.Default()
	db, err := database.New(gen, storage, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the database: %s", err)
	}

	machines, err := memhash.NewMachines(memhash.DevConfig(), nil)
	if err != nil {
		t.Fatalf("Should be able to construct the machines: %s", err)
	}

	alg, err := pow.New(pow.Config{
		Headers:    db,
		Machines:   machines,
		Difficulty: pow.FixedDifficulty{Value: uint256.NewInt(1)},
	})
	if err != nil {
		t.Fatalf("Should be able to construct the algorithm: %s", err)
	}

	mock := clock.NewMock()
	mock.Set(gen.Date.Add(10 * time.Minute))

	fc := weaksub.New(weaksub.Config{
		Algorithm: weaksub.DefaultExponential(),
		Enabled:   true,
		Clock:     mock,
	})

	imp := importer.New(importer.Config{
		DB:                  db,
		Algorithm:           alg,
		ForkChoice:          fc,
		Clock:               mock,
		CheckInherentsAfter: checkInherentsAfter,
		MaxTimestampDrift:   time.Minute,
		EvHandler: func(v string, args ...any) {
			t.Logf(v, args...)
		},
	})
	t.Cleanup(imp.Shutdown)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a key: %s", err)
	}

	f := fixture{
		t:      t,
		db:     db,
		alg:    alg,
		imp:    imp,
		engine: pow.NewEngine(machines, memhash.V2, rand.NewChaCha8([32]byte{7})),
		key:    key,
		author: signature.Author(&key.PublicKey),
		start:  gen.Date,
		clock:  mock,
	}

	return &f
}

// propose builds an unsealed block on the parent, a second after it.
func (f *fixture) propose(parent database.Header, extrinsics ...[]byte) database.Block {
	return database.NewBlock(parent, f.author, parent.Timestamp+1000, extrinsics)
}

// seal finds a seal for the block against the chain stored so far or the
// specified header backend.
func (f *fixture) seal(block database.Block, headers database.HeaderBackend) database.Block {
	if headers == nil {
		headers = f.db
	}

	keyHash, err := pow.KeyHash(headers, block.Header.ParentHash)
	if err != nil {
		f.t.Fatalf("Should be able to resolve the key hash: %s", err)
	}

	job := pow.Job{
		KeyHash:    keyHash,
		PreHash:    block.Header.PreHash(),
		Difficulty: uint256.NewInt(1),
		KeyPair:    f.key,
	}

	seal, found, err := f.engine.Search(job, memhash.Sync, 1000)
	if err != nil || !found {
		f.t.Fatalf("Should find a seal: found[%v] err[%v]", found, err)
	}

	return block.WithSeal(seal.Encode())
}

// =============================================================================

func Test_Steps(t *testing.T) {
	f := newFixture(t, 0)

	exp := []string{"decode", "verify-seal", "check-inherents", "fork-choice", "commit"}
	got := f.imp.Steps()

	if len(got) != len(exp) {
		t.Fatalf("Should have %d steps, got %v.", len(exp), got)
	}
	for i := range exp {
		if got[i] != exp[i] {
			t.Logf("got: %v", got)
			t.Logf("exp: %v", exp)
			t.Fatalf("Should run the steps in order.")
		}
	}
}

func Test_Import(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	heads, release := f.imp.SubscribeHeads()
	defer release()

	gen := f.db.Genesis().Header
	block := f.seal(f.propose(gen, []byte("tx")), nil)

	outcome, err := f.imp.Import(ctx, block)
	if err != nil {
		t.Fatalf("Should be able to import a valid block: %s", err)
	}
	if outcome != importer.ImportedBest {
		t.Logf("got: %s", outcome)
		t.Logf("exp: %s", importer.ImportedBest)
		t.Fatalf("Should import the block as best.")
	}

	select {
	case head := <-heads:
		if head.Hash() != block.Hash() {
			t.Fatalf("Should notify the new head.")
		}
	case <-time.After(time.Second):
		t.Fatalf("Should receive a head notification.")
	}

	if f.db.Best().Hash() != block.Hash() {
		t.Fatalf("Should move the best block.")
	}

	aux, err := f.db.Aux(block.Hash())
	if err != nil || aux.TotalDifficulty.Uint64() != 1 {
		t.Fatalf("Should record the total difficulty: %v", err)
	}

	outcome, err = f.imp.Import(ctx, block)
	if err != nil || outcome != importer.AlreadyKnown {
		t.Fatalf("Should report a known block: outcome[%s] err[%v]", outcome, err)
	}

	// A sibling with the same total difficulty only wins on the tie break.
	sibling := f.seal(f.propose(gen, []byte("other")), nil)
	outcome, err = f.imp.Import(ctx, sibling)
	if err != nil {
		t.Fatalf("Should be able to import a sibling: %s", err)
	}

	exp := importer.ImportedSide
	if !pow.TieBreak(block.Header.Seal, sibling.Header.Seal) {
		exp = importer.ImportedBest
	}
	if outcome != exp {
		t.Logf("got: %s", outcome)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should resolve the tie with the seal tie break.")
	}

	data, err := f.seal(f.propose(f.db.Best()), nil).Encode()
	if err != nil {
		t.Fatalf("Should be able to encode a block: %s", err)
	}

	outcome, err = f.imp.ImportData(ctx, data)
	if err != nil || outcome != importer.ImportedBest {
		t.Fatalf("Should import a raw block: outcome[%s] err[%v]", outcome, err)
	}
}

func Test_ImportRejected(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	gen := f.db.Genesis().Header
	valid := f.seal(f.propose(gen), nil)

	badSeal := valid
	badSeal.Header = valid.Header.WithSeal(append([]byte(nil), valid.Header.Seal...))
	badSeal.Header.Seal[5] ^= 0x01

	unknown := f.propose(database.Header{Number: 7, Timestamp: 1})

	stale := f.propose(gen)
	stale.Header.Timestamp = gen.Timestamp
	stale = f.seal(stale, nil)

	future := f.propose(gen)
	future.Header.Timestamp = uint64(f.clock.Now().Add(time.Hour).UnixMilli())
	future = f.seal(future, nil)

	noAuthor := f.propose(gen)
	noAuthor.Header.Author = nil

	tampered := f.seal(f.propose(gen, []byte("a")), nil)
	tampered.Extrinsics[0] = []byte("b")

	type table struct {
		name  string
		block database.Block
		check func(err error) bool
	}

	tt := []table{
		{name: "bad-seal", block: badSeal, check: func(err error) bool { return errors.Is(err, importer.ErrInvalidSeal) }},
		{name: "unknown-parent", block: unknown, check: func(err error) bool { return errors.Is(err, importer.ErrUnknownParent) }},
		{name: "stale-timestamp", block: stale, check: func(err error) bool { return errors.Is(err, importer.ErrInherent) }},
		{name: "future-timestamp", block: future, check: func(err error) bool { return errors.Is(err, importer.ErrInherent) }},
		{name: "no-author", block: noAuthor, check: pow.IsConsensusError},
		{name: "tampered", block: tampered, check: func(err error) bool { return errors.Is(err, database.ErrExtrinsicsRoot) }},
	}

	for _, tst := range tt {
		fn := func(t *testing.T) {
			_, err := f.imp.Import(ctx, tst.block)
			if err == nil || !tst.check(err) {
				t.Fatalf("Should reject the block with the expected error: %v", err)
			}

			if known, _ := f.db.Contains(tst.block.Hash()); known {
				t.Fatalf("Should not store a rejected block.")
			}
		}

		t.Run(tst.name, fn)
	}

	if f.db.Best().Hash() != gen.Hash() {
		t.Fatalf("Should leave the best block untouched.")
	}

	if _, err := f.imp.ImportData(ctx, []byte{0x01, 0x02}); !pow.IsConsensusError(err) {
		t.Fatalf("Should reject undecodable data: %v", err)
	}
}

func Test_CheckInherentsAfter(t *testing.T) {
	f := newFixture(t, 10)

	gen := f.db.Genesis().Header

	block := f.propose(gen)
	block.Header.Timestamp = gen.Timestamp
	block = f.seal(block, nil)

	outcome, err := f.imp.Import(context.Background(), block)
	if err != nil || outcome != importer.ImportedBest {
		t.Fatalf("Should skip inherent checks below the threshold: outcome[%s] err[%v]", outcome, err)
	}
}

func Test_ImportBatch(t *testing.T) {
	f := newFixture(t, 0)

	// Seal the batch against an in memory view of the headers so far.
	pending := headerView{base: f.db, headers: make(map[database.Hash]database.Header)}

	parent := f.db.Genesis().Header
	blocks := make([]database.Block, 0, 5)
	for range 5 {
		block := f.seal(f.propose(parent), pending)
		pending.headers[block.Hash()] = block.Header
		blocks = append(blocks, block)
		parent = block.Header
	}

	outcomes, err := f.imp.ImportBatch(context.Background(), blocks)
	if err != nil {
		t.Fatalf("Should be able to import the batch: %s", err)
	}

	if len(outcomes) != len(blocks) {
		t.Fatalf("Should get an outcome per block.")
	}
	for i, outcome := range outcomes {
		if outcome != importer.ImportedBest {
			t.Fatalf("Should import block %d as best, got %s.", i, outcome)
		}
	}

	if f.db.Best().Hash() != blocks[4].Hash() {
		t.Fatalf("Should end with the last block as best.")
	}

	bad := f.seal(f.propose(f.db.Best()), nil)
	badSeal := append([]byte(nil), bad.Header.Seal...)
	badSeal[10] ^= 0xff
	next := f.propose(bad.Header)

	outcomes, err = f.imp.ImportBatch(context.Background(), []database.Block{bad.WithSeal(badSeal), next})
	if !errors.Is(err, importer.ErrInvalidSeal) || len(outcomes) != 0 {
		t.Fatalf("Should stop the batch at the invalid block: outcomes[%v] err[%v]", outcomes, err)
	}
}

func Test_Shutdown(t *testing.T) {
	f := newFixture(t, 0)
	f.imp.Shutdown()

	if _, err := f.imp.Import(context.Background(), f.propose(f.db.Genesis().Header)); !errors.Is(err, importer.ErrShutdown) {
		t.Fatalf("Should refuse imports after shutdown: %v", err)
	}
}

type headerView struct {
	base    database.HeaderBackend
	headers map[database.Hash]database.Header
}

func (hv headerView) Header(hash database.Hash) (database.Header, error) {
	if h, exists := hv.headers[hash]; exists {
		return h, nil
	}
	return hv.base.Header(hash)
}
