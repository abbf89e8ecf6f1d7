package weaksub_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/weaksub"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
)

func Test_Threshold(t *testing.T) {
	e := weaksub.DefaultExponential()

	type table struct {
		name    string
		elapsed time.Duration
		exp     float64
	}

	tt := []table{
		{name: "now", elapsed: 0, exp: 1},
		{name: "within-period", elapsed: 29 * time.Minute, exp: 1},
		{name: "one-period", elapsed: 30 * time.Minute, exp: 1.1},
		{name: "ten-hours", elapsed: 10 * time.Hour, exp: math.Pow(1.1, 20)},
		{name: "negative", elapsed: -time.Hour, exp: 1},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			got := e.Threshold(tst.elapsed)
			if math.Abs(got-tst.exp) > 1e-9 {
				t.Logf("got: %f", got)
				t.Logf("exp: %f", tst.exp)
				t.Fatalf("Should get the expected threshold.")
			}
		}

		t.Run(tst.name, f)
	}

	if !e.Permits(10*time.Hour, uint256.NewInt(1), uint256.NewInt(0)) {
		t.Fatalf("Should permit when nothing is retracted.")
	}

	if e.Permits(100000*time.Hour, uint256.NewInt(1000), uint256.NewInt(1)) {
		t.Fatalf("Should reject when the threshold overflows.")
	}

	if !e.Permits(30*time.Minute, uint256.NewInt(111), uint256.NewInt(100)) {
		t.Fatalf("Should permit work above the threshold.")
	}

	if e.Permits(30*time.Minute, uint256.NewInt(109), uint256.NewInt(100)) {
		t.Fatalf("Should reject work below the threshold.")
	}
}

// =============================================================================

type fixture struct {
	t     *testing.T
	db    *database.Database
	start time.Time
}

func newFixture(t *testing.T) *fixture {
	storage, _ := memory.New()

	gen := genesis.Default()
	db, err := database.New(gen, storage, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the database: %s", err)
	}

	return &fixture{t: t, db: db, start: gen.Date}
}

// add commits a child of the parent produced at the specified offset from
// genesis, with a difficulty of 10.
func (f *fixture) add(parent database.Header, offset time.Duration, tag byte, best bool) database.Header {
	block := database.NewBlock(parent, nil, uint64(f.start.Add(offset).UnixMilli()), nil).WithSeal([]byte{tag, byte(parent.Number)})

	parentAux, err := f.db.Aux(parent.Hash())
	if err != nil {
		f.t.Fatalf("Should be able to read the parent aux: %s", err)
	}

	commit := database.Commit{
		Block: block,
		Aux: database.Aux{
			Difficulty:      uint256.NewInt(10),
			TotalDifficulty: new(uint256.Int).AddUint64(parentAux.TotalDifficulty, 10),
		},
		SetBest: best,
	}

	if err := f.db.Commit(commit); err != nil {
		f.t.Fatalf("Should be able to commit: %s", err)
	}

	return block.Header
}

// candidate builds an uncommitted child of the parent carrying the total
// difficulty of the parent plus the specified difficulty.
func (f *fixture) candidate(parent database.Header, offset time.Duration, tag byte, difficulty uint64) weaksub.Candidate {
	block := database.NewBlock(parent, nil, uint64(f.start.Add(offset).UnixMilli()), nil).WithSeal([]byte{tag, 0xff})

	parentAux, err := f.db.Aux(parent.Hash())
	if err != nil {
		f.t.Fatalf("Should be able to read the parent aux: %s", err)
	}

	return weaksub.Candidate{
		Header:          block.Header,
		TotalDifficulty: new(uint256.Int).AddUint64(parentAux.TotalDifficulty, difficulty),
	}
}

func Test_Decide(t *testing.T) {
	f := newFixture(t)

	// genesis <- a1 <- a2 <- a3 <- a4 <- a5   (best, TD 50, every 2h)
	//         \- b1 <- b2 <- b3 <- b4 <- b5   (side, TD 50)
	a := []database.Header{f.db.Genesis().Header}
	b := []database.Header{f.db.Genesis().Header}
	for i := 1; i <= 5; i++ {
		b = append(b, f.add(b[i-1], time.Duration(i)*2*time.Hour, 'b', false))
	}
	for i := 1; i <= 5; i++ {
		a = append(a, f.add(a[i-1], time.Duration(i)*2*time.Hour, 'a', true))
	}

	best := f.db.Best()
	if best.Hash() != a[5].Hash() {
		t.Fatalf("Should have a5 as best.")
	}

	mock := clock.NewMock()
	mock.Set(f.start.Add(10 * time.Hour))

	enabled := weaksub.New(weaksub.Config{
		Algorithm: weaksub.DefaultExponential(),
		Enabled:   true,
		Clock:     mock,
	})
	disabled := weaksub.New(weaksub.Config{
		Algorithm: weaksub.DefaultExponential(),
		Clock:     mock,
	})

	t.Run("extend", func(t *testing.T) {
		ok, err := enabled.Decide(f.db, best, f.candidate(a[5], 11*time.Hour, 'x', 10))
		if err != nil || !ok {
			t.Fatalf("Should accept a block extending the best chain: ok[%v] err[%v]", ok, err)
		}
	})

	t.Run("less-work", func(t *testing.T) {
		ok, err := enabled.Decide(f.db, best, f.candidate(b[3], 11*time.Hour, 'x', 10))
		if err != nil || ok {
			t.Fatalf("Should keep the best chain over less work: ok[%v] err[%v]", ok, err)
		}
	})

	t.Run("deep-reorg-rejected", func(t *testing.T) {
		// Fork point is genesis, 10 hours old: threshold 1.1^20.
		ok, err := enabled.Decide(f.db, best, f.candidate(b[5], 11*time.Hour, 'x', 10))
		if ok {
			t.Fatalf("Should not accept a reorg deeper than the bound.")
		}
		if !pow.IsConsensusError(err) || !errors.Is(err, weaksub.ErrWeakSubjectivity) {
			t.Fatalf("Should fail the import with a weak subjectivity error: %v", err)
		}
	})

	t.Run("deep-reorg-disabled", func(t *testing.T) {
		ok, err := disabled.Decide(f.db, best, f.candidate(b[5], 11*time.Hour, 'x', 10))
		if err != nil || !ok {
			t.Fatalf("Should accept the deep reorg with more work when disabled: ok[%v] err[%v]", ok, err)
		}
	})

	t.Run("shallow-reorg", func(t *testing.T) {
		// Fork point is a4, 2 hours old: threshold 1.1^4, 20 >= 10*1.46.
		ok, err := enabled.Decide(f.db, best, f.candidate(a[4], 11*time.Hour, 'x', 20))
		if err != nil || !ok {
			t.Fatalf("Should accept a shallow reorg with more work: ok[%v] err[%v]", ok, err)
		}
	})

	t.Run("tie", func(t *testing.T) {
		recent := clock.NewMock()
		recent.Set(f.start.Add(8*time.Hour + 10*time.Minute))

		fc := weaksub.New(weaksub.Config{Algorithm: weaksub.DefaultExponential(), Enabled: true, Clock: recent})

		cand := f.candidate(a[4], 10*time.Hour, 'y', 10)
		exp := !pow.TieBreak(best.Seal, cand.Header.Seal)

		got, err := fc.Decide(f.db, best, cand)
		if err != nil {
			t.Fatalf("Should decide a tie without error: %s", err)
		}
		if got != exp {
			t.Logf("got: %v", got)
			t.Logf("exp: %v", exp)
			t.Fatalf("Should resolve the tie with the seal tie break.")
		}
	})
}
