package memhash

import (
	"encoding/binary"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
)

// cacheSalt domain separates the cache seed from other argon2 uses.
var cacheSalt = []byte("memhash cache v1")

// cache is the light structure every node keeps per key hash.
type cache struct {
	cfg  Config
	rows []byte
}

// newCache derives the cache for the key hash. The argon2id pass makes the
// seed itself memory-hard, the row chain and mixing rounds fill the cache.
func newCache(cfg Config, keyHash [32]byte) *cache {
	seed := argon2.IDKey(keyHash[:], cacheSalt, cfg.ArgonTime, cfg.ArgonMemoryKiB, 1, itemSize)

	n := int(cfg.CacheRows)
	rows := make([]byte, n*itemSize)

	row := blake2b.Sum512(seed)
	copy(rows, row[:])
	for i := 1; i < n; i++ {
		row = blake2b.Sum512(rows[(i-1)*itemSize : i*itemSize])
		copy(rows[i*itemSize:], row[:])
	}

	var temp [itemSize]byte
	for r := 0; r < cfg.CacheRounds; r++ {
		for i := 0; i < n; i++ {
			src := ((i - 1 + n) % n) * itemSize
			dst := int(binary.LittleEndian.Uint32(rows[i*itemSize:])%uint32(n)) * itemSize

			for k := range temp {
				temp[k] = rows[src+k] ^ rows[dst+k]
			}

			row = blake2b.Sum512(temp[:])
			copy(rows[i*itemSize:], row[:])
		}
	}

	return &cache{cfg: cfg, rows: rows}
}

// item computes the dataset item at index i from the cache.
func (c *cache) item(dst []byte, i uint32) {
	n := c.cfg.CacheRows

	var mix [16]uint32
	toWords(&mix, c.rows[int(i%n)*itemSize:])
	mix[0] ^= i

	var buf [itemSize]byte
	fromWords(buf[:], &mix)
	sum := blake2b.Sum512(buf[:])
	toWords(&mix, sum[:])

	var parent [16]uint32
	for j := 0; j < c.cfg.ItemParents; j++ {
		p := fnv(i^uint32(j), mix[j%16]) % n
		toWords(&parent, c.rows[int(p)*itemSize:])
		for k := range mix {
			mix[k] = fnv(mix[k], parent[k])
		}
	}

	fromWords(buf[:], &mix)
	sum = blake2b.Sum512(buf[:])
	copy(dst, sum[:])
}

// =============================================================================

// dataset is the full structure miners keep per key hash.
type dataset struct {
	items []byte
}

// newDataset expands the cache into every dataset item, splitting the work
// across the available CPUs.
func newDataset(c *cache) *dataset {
	total := int(c.cfg.DatasetItems)
	items := make([]byte, total*itemSize)

	workers := runtime.NumCPU()
	chunk := (total + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		g.Go(func() error {
			for i := start; i < end; i++ {
				c.item(items[i*itemSize:(i+1)*itemSize], uint32(i))
			}
			return nil
		})
	}
	_ = g.Wait()

	return &dataset{items: items}
}

// =============================================================================

// VM computes hashes for a single key hash in a single mode. A VM is not
// safe for concurrent use, each mining goroutine takes its own.
type VM struct {
	cfg    Config
	mode   Mode
	cache  *cache
	data   *dataset
	buf    [itemSize]byte
	words  [16]uint32
	seed   [itemSize]byte
	digest [itemSize * 2]byte
}

// Mode returns the mode the VM was created for.
func (vm *VM) Mode() Mode {
	return vm.mode
}

// Hash computes the memory-hard hash of the input.
func (vm *VM) Hash(input []byte) [32]byte {
	vm.seed = blake2b.Sum512(input)

	var mix [16]uint32
	toWords(&mix, vm.seed[:])
	s0 := mix[0]

	items := vm.cfg.DatasetItems
	for a := 0; a < vm.cfg.Accesses; a++ {
		idx := fnv(uint32(a)^s0, mix[a%16]) % items
		toWords(&vm.words, vm.lookup(idx))
		for k := range mix {
			mix[k] = fnv(mix[k], vm.words[k])
		}
	}

	copy(vm.digest[:], vm.seed[:])
	fromWords(vm.digest[itemSize:], &mix)
	return blake2b.Sum256(vm.digest[:])
}

func (vm *VM) lookup(i uint32) []byte {
	if vm.data != nil {
		off := int(i) * itemSize
		return vm.data.items[off : off+itemSize]
	}

	vm.cache.item(vm.buf[:], i)
	return vm.buf[:]
}
