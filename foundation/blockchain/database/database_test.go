package database_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/holiman/uint256"
)

func Test_BlockCodec(t *testing.T) {
	gen := database.GenesisBlock(genesis.Default())

	block := database.NewBlock(gen.Header, []byte{0x02, 0x01}, 1000, [][]byte{[]byte("a"), []byte("b")})
	if err := block.ValidateExtrinsics(); err != nil {
		t.Fatalf("Should have a valid extrinsics root: %s", err)
	}

	if block.Header.ParentHash != gen.Hash() || block.Header.Number != 1 {
		t.Fatalf("Should build the proposal on top of the parent.")
	}

	preHash := block.Header.PreHash()
	sealed := block.WithSeal([]byte{1, 2, 3})

	if sealed.Header.PreHash() != preHash {
		t.Fatalf("Should not change the pre hash when sealing.")
	}

	if sealed.Hash() == block.Hash() {
		t.Fatalf("Should change the block hash when sealing.")
	}

	data, err := sealed.Encode()
	if err != nil {
		t.Fatalf("Should be able to encode the block: %s", err)
	}

	got, err := database.DecodeBlock(data)
	if err != nil {
		t.Fatalf("Should be able to decode the block: %s", err)
	}

	if got.Hash() != sealed.Hash() {
		t.Logf("got: %s", got.Hash())
		t.Logf("exp: %s", sealed.Hash())
		t.Fatalf("Should get back the same block.")
	}

	got.Extrinsics[0] = []byte("z")
	if err := got.ValidateExtrinsics(); !errors.Is(err, database.ErrExtrinsicsRoot) {
		t.Fatalf("Should detect tampered extrinsics: %v", err)
	}

	if _, err := database.DecodeBlock([]byte{0xff, 0x00}); err == nil {
		t.Fatalf("Should reject garbage block data.")
	}
}

func Test_Hash(t *testing.T) {
	h := database.HashOf([]byte("hello"))

	got, err := database.ToHash(h.Hex())
	if err != nil {
		t.Fatalf("Should be able to parse a hex hash: %s", err)
	}
	if got != h {
		t.Fatalf("Should get back the same hash.")
	}

	if _, err := database.ToHash("0x1234"); err == nil {
		t.Fatalf("Should reject a short hash.")
	}
}

func Test_Storage(t *testing.T) {
	type table struct {
		name    string
		storage func(t *testing.T) database.Storage
	}

	tt := []table{
		{
			name: "memory",
			storage: func(t *testing.T) database.Storage {
				s, _ := memory.New()
				return s
			},
		},
		{
			name: "disk",
			storage: func(t *testing.T) database.Storage {
				s, err := disk.New(t.TempDir())
				if err != nil {
					t.Fatalf("Should be able to open the disk storage: %s", err)
				}
				return s
			},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			storage := tst.storage(t)

			db, err := database.New(genesis.Default(), storage, nil)
			if err != nil {
				t.Fatalf("Should be able to construct the database: %s", err)
			}
			defer db.Close()

			gen := db.Genesis()
			if db.Best().Hash() != gen.Hash() {
				t.Fatalf("Should start with genesis as best.")
			}

			block := database.NewBlock(gen.Header, nil, 1, [][]byte{[]byte("x")}).WithSeal([]byte{9})
			commit := database.Commit{
				Block: block,
				Aux: database.Aux{
					Difficulty:      uint256.NewInt(5),
					TotalDifficulty: uint256.NewInt(5),
				},
			}

			if err := db.Commit(commit); err != nil {
				t.Fatalf("Should be able to commit a side block: %s", err)
			}

			if db.Best().Hash() != gen.Hash() {
				t.Fatalf("Should not move best for a side block.")
			}

			got, err := db.Block(block.Hash())
			if err != nil {
				t.Fatalf("Should be able to read the block: %s", err)
			}
			if got.Hash() != block.Hash() || len(got.Extrinsics) != 1 {
				t.Fatalf("Should get back the committed block.")
			}

			aux, err := db.Aux(block.Hash())
			if err != nil {
				t.Fatalf("Should be able to read the aux data: %s", err)
			}
			if aux.TotalDifficulty.Uint64() != 5 {
				t.Logf("got: %d", aux.TotalDifficulty.Uint64())
				t.Logf("exp: %d", 5)
				t.Fatalf("Should get back the total difficulty.")
			}

			commit.SetBest = true
			if err := db.Commit(commit); err != nil {
				t.Fatalf("Should be able to commit a best block: %s", err)
			}

			best, err := storage.Best()
			if err != nil || best != block.Hash() {
				t.Fatalf("Should persist the best pointer: %v", err)
			}

			if _, err := db.Header(database.HashOf([]byte("missing"))); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("Should get not found for a missing header: %v", err)
			}

			known, err := db.Contains(block.Hash())
			if err != nil || !known {
				t.Fatalf("Should report the block as known.")
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_DiskReopen(t *testing.T) {
	path := t.TempDir()

	storage, err := disk.New(path)
	if err != nil {
		t.Fatalf("Should be able to open the disk storage: %s", err)
	}

	db, err := database.New(genesis.Default(), storage, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the database: %s", err)
	}

	block := database.NewBlock(db.Genesis().Header, nil, 1, nil)
	commit := database.Commit{
		Block:   block,
		Aux:     database.Aux{Difficulty: uint256.NewInt(1), TotalDifficulty: uint256.NewInt(1)},
		SetBest: true,
	}
	if err := db.Commit(commit); err != nil {
		t.Fatalf("Should be able to commit: %s", err)
	}
	db.Close()

	storage, err = disk.New(path)
	if err != nil {
		t.Fatalf("Should be able to reopen the disk storage: %s", err)
	}

	db, err = database.New(genesis.Default(), storage, nil)
	if err != nil {
		t.Fatalf("Should be able to reconstruct the database: %s", err)
	}

	if db.Best().Hash() != block.Hash() {
		t.Fatalf("Should recover the best block after reopening.")
	}

	other := genesis.Default()
	other.ChainID = 2
	other.Extrinsics = append(other.Extrinsics, []byte("other chain"))
	db.Close()

	storage, _ = disk.New(path)
	if _, err := database.New(other, storage, nil); err == nil {
		t.Fatalf("Should refuse storage written for another genesis.")
	}
	storage.Close()
}

func Test_TreeRoute(t *testing.T) {
	storage, _ := memory.New()
	db, err := database.New(genesis.Default(), storage, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the database: %s", err)
	}

	commit := func(b database.Block) {
		c := database.Commit{Block: b, Aux: database.Aux{Difficulty: uint256.NewInt(1), TotalDifficulty: uint256.NewInt(1)}}
		if err := db.Commit(c); err != nil {
			t.Fatalf("Should be able to commit: %s", err)
		}
	}

	// genesis <- a1 <- a2 <- a3
	//         \- b1 <- b2
	a1 := database.NewBlock(db.Genesis().Header, nil, 1, [][]byte{[]byte("a")})
	a2 := database.NewBlock(a1.Header, nil, 2, nil)
	a3 := database.NewBlock(a2.Header, nil, 3, nil)
	b1 := database.NewBlock(db.Genesis().Header, nil, 1, [][]byte{[]byte("b")})
	b2 := database.NewBlock(b1.Header, nil, 2, nil)

	for _, b := range []database.Block{a1, a2, a3, b1, b2} {
		commit(b)
	}

	route, err := database.TreeRoute(db, a3.Hash(), b2.Hash())
	if err != nil {
		t.Fatalf("Should be able to compute the route: %s", err)
	}

	if route.Common.Hash() != db.Genesis().Hash() {
		t.Fatalf("Should meet at genesis.")
	}

	if len(route.Retracted) != 3 || route.Retracted[0].Hash() != a3.Hash() {
		t.Logf("got: %d", len(route.Retracted))
		t.Logf("exp: %d", 3)
		t.Fatalf("Should retract the a chain from the tip down.")
	}

	if len(route.Enacted) != 2 || route.Enacted[0].Hash() != b1.Hash() || route.Enacted[1].Hash() != b2.Hash() {
		t.Fatalf("Should enact the b chain from the fork point up.")
	}

	route, err = database.TreeRoute(db, a1.Hash(), a3.Hash())
	if err != nil {
		t.Fatalf("Should be able to compute a linear route: %s", err)
	}
	if route.Common.Hash() != a1.Hash() || len(route.Retracted) != 0 || len(route.Enacted) != 2 {
		t.Fatalf("Should extend without retracting.")
	}
}
