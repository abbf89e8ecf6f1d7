package keystore_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

func Test_KeyStore(t *testing.T) {
	root := t.TempDir()

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Should be able to generate a key: %s", err)
	}
	if err := crypto.SaveECDSA(filepath.Join(root, "kennedy.ecdsa"), pk); err != nil {
		t.Fatalf("Should be able to save a key: %s", err)
	}

	ks, err := keystore.New(root)
	if err != nil {
		t.Fatalf("Should be able to load the key store: %s", err)
	}

	author := signature.Author(&pk.PublicKey)

	got, err := ks.KeyPair(author)
	if err != nil {
		t.Fatalf("Should find the key for the author: %s", err)
	}
	if !got.Equal(pk) {
		t.Fatalf("Should return the stored key.")
	}

	if name := ks.Lookup(author); name != "kennedy" {
		t.Logf("got: %s", name)
		t.Logf("exp: %s", "kennedy")
		t.Fatalf("Should name the author after the key file.")
	}

	other, _ := crypto.GenerateKey()
	if _, err := ks.KeyPair(signature.Author(&other.PublicKey)); !errors.Is(err, keystore.ErrKeyNotFound) {
		t.Fatalf("Should not find a key for an unknown author: %v", err)
	}
}

func Test_ResolveAuthor(t *testing.T) {
	root := t.TempDir()

	ks, err := keystore.New(root)
	if err != nil {
		t.Fatalf("Should be able to create the key store: %s", err)
	}

	author, generated, err := ks.ResolveAuthor("")
	if err != nil {
		t.Fatalf("Should be able to resolve an author: %s", err)
	}
	if !generated {
		t.Fatalf("Should generate a key for an empty store.")
	}

	ks, err = keystore.New(root)
	if err != nil {
		t.Fatalf("Should be able to reload the key store: %s", err)
	}

	again, generated, err := ks.ResolveAuthor("")
	if err != nil {
		t.Fatalf("Should be able to resolve the author again: %s", err)
	}
	if generated || string(again) != string(author) {
		t.Fatalf("Should reuse the generated key after a restart.")
	}

	explicit, _, err := ks.ResolveAuthor(signature.AuthorString(author))
	if err != nil || string(explicit) != string(author) {
		t.Fatalf("Should resolve a configured author with a stored key: %v", err)
	}

	other, _ := crypto.GenerateKey()
	if _, _, err := ks.ResolveAuthor(signature.AuthorString(signature.Author(&other.PublicKey))); !errors.Is(err, keystore.ErrKeyNotFound) {
		t.Fatalf("Should reject a configured author without a key: %v", err)
	}

	if _, _, err := ks.ResolveAuthor("0x1234"); err == nil {
		t.Fatalf("Should reject a malformed author.")
	}
}
