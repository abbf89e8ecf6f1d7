package memhash_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/holiman/uint256"
)

func newMachines(t *testing.T, cfg memhash.Config) *memhash.Machines {
	m, err := memhash.NewMachines(cfg, func(v string, args ...any) {
		t.Logf(v, args...)
	})
	if err != nil {
		t.Fatalf("Should be able to construct the machines: %s", err)
	}
	return m
}

func Test_ModesMatch(t *testing.T) {
	m := newMachines(t, memhash.DevConfig())

	keyHash := [32]byte{1, 2, 3}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := m.WaitDataset(ctx, keyHash); err != nil {
		t.Fatalf("Should be able to build the dataset: %s", err)
	}

	for i := range 20 {
		input := []byte{byte(i), 0xaa, byte(i * 7)}

		light, err := m.Hash(keyHash, memhash.Sync, input)
		if err != nil {
			t.Fatalf("Should be able to hash in sync mode: %s", err)
		}

		full, err := m.Hash(keyHash, memhash.Mining, input)
		if err != nil {
			t.Fatalf("Should be able to hash in mining mode: %s", err)
		}

		if light != full {
			t.Logf("got: %x", full)
			t.Logf("exp: %x", light)
			t.Fatalf("Should get identical hashes in both modes for input %d.", i)
		}
	}
}

func Test_KeyHashChangesOutput(t *testing.T) {
	m := newMachines(t, memhash.DevConfig())

	input := []byte("same input")

	a, err := m.Hash([32]byte{1}, memhash.Sync, input)
	if err != nil {
		t.Fatalf("Should be able to hash: %s", err)
	}

	again, _ := m.Hash([32]byte{1}, memhash.Sync, input)
	if a != again {
		t.Fatalf("Should be deterministic.")
	}

	b, err := m.Hash([32]byte{2}, memhash.Sync, input)
	if err != nil {
		t.Fatalf("Should be able to hash: %s", err)
	}

	if a == b {
		t.Fatalf("Should get a different hash for a different key hash.")
	}
}

func Test_DatasetNotReady(t *testing.T) {
	cfg := memhash.DevConfig()
	cfg.DatasetItems = 1 << 16
	m := newMachines(t, cfg)

	keyHash := [32]byte{9}

	_, err := m.VM(keyHash, memhash.Mining)
	if err != nil && !errors.Is(err, memhash.ErrCacheNotAvailable) {
		t.Fatalf("Should report the dataset as not available: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := m.WaitDataset(ctx, keyHash); err != nil {
		t.Fatalf("Should be able to wait for the dataset: %s", err)
	}

	vm, err := m.VM(keyHash, memhash.Mining)
	if err != nil {
		t.Fatalf("Should get a mining VM once the dataset is ready: %s", err)
	}

	if vm.Mode() != memhash.Mining {
		t.Fatalf("Should get a VM in mining mode.")
	}
}

func Test_AllocationFailed(t *testing.T) {
	cfg := memhash.DevConfig()
	cfg.MemoryLimit = uint64(cfg.CacheRows)*64 + 1
	m := newMachines(t, cfg)

	if _, err := m.VM([32]byte{1}, memhash.Sync); err != nil {
		t.Fatalf("Should fit a single cache: %s", err)
	}

	if _, err := m.VM([32]byte{1}, memhash.Mining); !errors.Is(err, memhash.ErrCacheAllocationFailed) {
		t.Fatalf("Should fail to allocate the dataset: %v", err)
	}

	large := memhash.DevConfig()
	large.MemoryLimit = uint64(large.CacheRows) * 64
	large.Flags.LargePages = true
	m = newMachines(t, large)

	if _, err := m.VM([32]byte{1}, memhash.Sync); !errors.Is(err, memhash.ErrCacheAllocationFailed) {
		t.Fatalf("Should account for large pages: %v", err)
	}
}

func Test_Eviction(t *testing.T) {
	cfg := memhash.DevConfig()
	cfg.MaxCaches = 1
	cfg.MemoryLimit = uint64(cfg.CacheRows)*64 + 1
	m := newMachines(t, cfg)

	for i := range 3 {
		if _, err := m.VM([32]byte{byte(i)}, memhash.Sync); err != nil {
			t.Fatalf("Should release memory of evicted caches, key %d: %s", i, err)
		}
	}
}

func Test_DatasetEvictedWhileBuilding(t *testing.T) {
	cfg := memhash.DevConfig()
	cfg.MaxDatasets = 1

	// Large enough that the first build is still running when it is evicted.
	cfg.ArgonMemoryKiB = 16 * 1024
	cfg.DatasetItems = 1 << 16
	cfg.ItemParents = 64

	m := newMachines(t, cfg)

	const itemSize = 64
	cacheBytes := uint64(cfg.CacheRows) * itemSize
	datasetBytes := uint64(cfg.DatasetItems) * itemSize

	// Asking for a second dataset evicts the first one while it is building.
	for i := range 2 {
		if _, err := m.VM([32]byte{byte(i)}, memhash.Mining); !errors.Is(err, memhash.ErrCacheNotAvailable) {
			t.Fatalf("Should start building dataset %d in the background: %v", i, err)
		}
	}

	if got := m.InUse(); got < 2*datasetBytes {
		t.Logf("got: %d", got)
		t.Logf("exp: >= %d", 2*datasetBytes)
		t.Fatalf("Should keep the reservation of a dataset evicted while building.")
	}

	m.Close()

	exp := 2*cacheBytes + datasetBytes
	if got := m.InUse(); got != exp {
		t.Logf("got: %d", got)
		t.Logf("exp: %d", exp)
		t.Fatalf("Should release the evicted dataset once its build finished.")
	}

	if _, err := m.VM([32]byte{1}, memhash.Mining); err != nil {
		t.Fatalf("Should serve the registered dataset after the builds finished: %s", err)
	}
}

func Test_SealCodec(t *testing.T) {
	nonce := [memhash.NonceLength]byte{1, 2, 3, 31: 0xff}
	sig := bytes.Repeat([]byte{0xab}, memhash.SignatureLength)

	type table struct {
		name string
		seal memhash.Seal
		size int
	}

	tt := []table{
		{name: "v1", seal: memhash.Seal{Version: memhash.V1, Nonce: nonce}, size: memhash.SealV1Length},
		{name: "v2", seal: memhash.Seal{Version: memhash.V2, Nonce: nonce, Signature: sig}, size: memhash.SealV2Length},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			data := tst.seal.Encode()
			if len(data) != tst.size {
				t.Logf("got: %d", len(data))
				t.Logf("exp: %d", tst.size)
				t.Fatalf("Should encode to the fixed wire size.")
			}

			got, err := memhash.DecodeSeal(data)
			if err != nil {
				t.Fatalf("Should be able to decode the seal: %s", err)
			}

			if !got.Equal(tst.seal) {
				t.Logf("got: %+v", got)
				t.Logf("exp: %+v", tst.seal)
				t.Fatalf("Should get back the same seal.")
			}

			if _, err := memhash.DecodeSeal(data[:len(data)-1]); !errors.Is(err, memhash.ErrCorruptSeal) {
				t.Fatalf("Should reject a truncated seal.")
			}

			if _, err := memhash.DecodeSeal(append(data, 0)); !errors.Is(err, memhash.ErrCorruptSeal) {
				t.Fatalf("Should reject a seal with trailing bytes.")
			}
		}

		t.Run(tst.name, f)
	}

	for _, data := range [][]byte{nil, {0}, {3}, bytes.Repeat([]byte{9}, memhash.SealV2Length)} {
		if _, err := memhash.DecodeSeal(data); !errors.Is(err, memhash.ErrCorruptSeal) {
			t.Fatalf("Should reject corrupt seal %x.", data)
		}
	}
}

func Test_InputEncode(t *testing.T) {
	in := memhash.Input{
		KeyHash:    [32]byte{1},
		Difficulty: uint256.NewInt(0x0102),
		PreHash:    [32]byte{2},
		Nonce:      [32]byte{3},
	}

	data := in.Encode()
	if len(data) != 128 {
		t.Logf("got: %d", len(data))
		t.Logf("exp: %d", 128)
		t.Fatalf("Should encode a fixed width input.")
	}

	if data[0] != 1 || data[62] != 0x01 || data[63] != 0x02 || data[64] != 2 || data[96] != 3 {
		t.Fatalf("Should lay out key hash, big endian difficulty, pre hash and nonce in order.")
	}

	in.Signature = bytes.Repeat([]byte{4}, memhash.SignatureLength)
	if data := in.Encode(); len(data) != 192 || data[128] != 4 {
		t.Fatalf("Should append the signature.")
	}
}

func Test_BadConfig(t *testing.T) {
	cfg := memhash.DevConfig()
	cfg.CacheRows = 1

	if _, err := memhash.NewMachines(cfg, nil); err == nil {
		t.Fatalf("Should reject an invalid config.")
	}
}
