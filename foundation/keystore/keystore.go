// Package keystore reads the keys folder and maintains the private keys of
// the block authors this node can mine for.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrKeyNotFound is returned when no key is stored for an author.
var ErrKeyNotFound = errors.New("key not found")

// DefaultName is the name of the key generated when no author is configured.
const DefaultName = "miner"

type entry struct {
	name       string
	privateKey *ecdsa.PrivateKey
}

// KeyStore maintains a map of authors to their keys.
type KeyStore struct {
	root string
	mu   sync.RWMutex
	keys map[string]entry
}

// New constructs a key store with the keys found in the root folder. The
// folder is created when it doesn't exist.
func New(root string) (*KeyStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating key folder: %w", err)
	}

	ks := KeyStore{
		root: root,
		keys: make(map[string]entry),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		author := signature.AuthorString(signature.Author(&privateKey.PublicKey))
		ks.keys[author] = entry{
			name:       strings.TrimSuffix(path.Base(fileName), ".ecdsa"),
			privateKey: privateKey,
		}

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ks, nil
}

// KeyPair returns the private key for the specified author.
func (ks *KeyStore) KeyPair(author []byte) (*ecdsa.PrivateKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	e, exists := ks.keys[signature.AuthorString(author)]
	if !exists {
		return nil, fmt.Errorf("author %s: %w", signature.AuthorString(author), ErrKeyNotFound)
	}

	return e.privateKey, nil
}

// Lookup returns the name for the specified author.
func (ks *KeyStore) Lookup(author []byte) string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	authorStr := signature.AuthorString(author)

	e, exists := ks.keys[authorStr]
	if !exists {
		return authorStr
	}
	return e.name
}

// Copy returns a copy of the map of authors and names.
func (ks *KeyStore) Copy() map[string]string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	cpy := make(map[string]string, len(ks.keys))
	for author, e := range ks.keys {
		cpy[author] = e.name
	}
	return cpy
}

// Generate creates a new key, saves it under the specified name and returns
// its author and file path.
func (ks *KeyStore) Generate(name string) ([]byte, string, error) {
	fileName := filepath.Join(ks.root, name+".ecdsa")

	if _, err := os.Stat(fileName); err == nil {
		return nil, "", fmt.Errorf("key file %s already exists", fileName)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating key: %w", err)
	}

	if err := crypto.SaveECDSA(fileName, privateKey); err != nil {
		return nil, "", fmt.Errorf("saving key: %w", err)
	}

	author := signature.Author(&privateKey.PublicKey)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.keys[signature.AuthorString(author)] = entry{
		name:       name,
		privateKey: privateKey,
	}

	return author, fileName, nil
}

// ResolveAuthor returns the author to mine for. A configured author must
// have its key in the store. Without one the DefaultName key is used,
// generating it on first start. The returned flag reports whether a key was
// generated.
func (ks *KeyStore) ResolveAuthor(authorHex string) ([]byte, bool, error) {
	if authorHex != "" {
		author, err := signature.ToAuthor(authorHex)
		if err != nil {
			return nil, false, err
		}

		if _, err := ks.KeyPair(author); err != nil {
			return nil, false, err
		}

		return author, false, nil
	}

	ks.mu.RLock()
	names := maps.Clone(ks.keys)
	ks.mu.RUnlock()

	for _, e := range names {
		if e.name == DefaultName {
			return signature.Author(&e.privateKey.PublicKey), false, nil
		}
	}

	author, _, err := ks.Generate(DefaultName)
	if err != nil {
		return nil, false, err
	}

	return author, true, nil
}
