// Package disk implements the ability to read and write blocks to disk
// using a bbolt key/value file.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketHeaders = []byte("headers_by_hash")
	bucketBodies  = []byte("bodies_by_hash")
	bucketAux     = []byte("aux_by_hash")
	bucketMeta    = []byte("meta")

	keyBest = []byte("best")
)

// Disk represents the storage implementation for reading and storing blocks
// in a bbolt database. This implements the database.Storage interface.
type Disk struct {
	db *bolt.DB
}

// New constructs a Disk value for use, creating the database file in the
// specified directory if it doesn't exist.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(filepath.Join(dbPath, "blocks.db"), 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketBodies, bucketAux, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return &Disk{db: bdb}, nil
}

// Close in this implementation closes the bbolt file.
func (d *Disk) Close() error {
	return d.db.Close()
}

// Header returns the header for the specified hash.
func (d *Disk) Header(hash database.Hash) (database.Header, error) {
	data, err := d.get(bucketHeaders, hash[:])
	if err != nil {
		return database.Header{}, fmt.Errorf("header %s: %w", hash, err)
	}

	return database.DecodeHeader(data)
}

// Block returns the block for the specified hash.
func (d *Disk) Block(hash database.Hash) (database.Block, error) {
	var block database.Block

	err := d.db.View(func(tx *bolt.Tx) error {
		header := tx.Bucket(bucketHeaders).Get(hash[:])
		body := tx.Bucket(bucketBodies).Get(hash[:])
		if header == nil || body == nil {
			return database.ErrNotFound
		}

		var err error
		if block.Header, err = database.DecodeHeader(header); err != nil {
			return err
		}

		block.Extrinsics, err = decodeBody(body)
		return err
	})
	if err != nil {
		return database.Block{}, fmt.Errorf("block %s: %w", hash, err)
	}

	return block, nil
}

// Aux returns the fork choice data for the specified hash.
func (d *Disk) Aux(hash database.Hash) (database.Aux, error) {
	data, err := d.get(bucketAux, hash[:])
	if err != nil {
		return database.Aux{}, fmt.Errorf("aux %s: %w", hash, err)
	}

	return database.DecodeAux(data)
}

// Best returns the hash of the best block.
func (d *Disk) Best() (database.Hash, error) {
	data, err := d.get(bucketMeta, keyBest)
	if err != nil {
		return database.Hash{}, fmt.Errorf("best: %w", err)
	}

	var hash database.Hash
	copy(hash[:], data)
	return hash, nil
}

// Commit writes the header, body, aux data and best pointer in a single
// bbolt transaction.
func (d *Disk) Commit(commit database.Commit) error {
	header, err := database.EncodeHeader(commit.Block.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	body, err := encodeBody(commit.Block.Extrinsics)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	hash := commit.Block.Hash()

	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash[:], header); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBodies).Put(hash[:], body); err != nil {
			return err
		}
		if err := tx.Bucket(bucketAux).Put(hash[:], commit.Aux.Encode()); err != nil {
			return err
		}
		if commit.SetBest {
			if err := tx.Bucket(bucketMeta).Put(keyBest, hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================

// get copies the value out since bbolt memory is only valid inside the
// transaction.
func (d *Disk) get(bucket []byte, key []byte) ([]byte, error) {
	var data []byte

	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return database.ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})

	return data, err
}
