package signature_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	digest := signature.Digest([]byte("key hash"), []byte("pre hash"), []byte("nonce"))
	if len(digest) != 32 {
		t.Logf("got: %d", len(digest))
		t.Logf("exp: %d", 32)
		t.Fatalf("Should get a 32 byte digest.")
	}

	sig, err := signature.Sign(digest, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if len(sig) != signature.Length {
		t.Logf("got: %d", len(sig))
		t.Logf("exp: %d", signature.Length)
		t.Fatalf("Should get back a signature without the recovery id.")
	}

	author := signature.Author(&pk.PublicKey)
	if !signature.Verify(author, digest, sig) {
		t.Fatalf("Should be able to verify the signature.")
	}

	for i := range sig {
		bad := append([]byte(nil), sig...)
		bad[i] ^= 0x01
		if signature.Verify(author, digest, bad) {
			t.Fatalf("Should reject a signature with byte %d flipped.", i)
		}
	}

	other := signature.Digest([]byte("key hash"), []byte("pre hash"), []byte("other"))
	if signature.Verify(author, other, sig) {
		t.Fatalf("Should reject the signature for different data.")
	}

	if signature.Verify(author[:10], digest, sig) || signature.Verify(author, digest, sig[:63]) {
		t.Fatalf("Should reject truncated input.")
	}
}

func Test_Author(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	author := signature.Author(&pk.PublicKey)

	got, err := signature.ToAuthor(signature.AuthorString(author))
	if err != nil {
		t.Fatalf("Should be able to parse the author: %s", err)
	}

	pub, err := signature.DecodeAuthor(got)
	if err != nil {
		t.Fatalf("Should be able to decode the author: %s", err)
	}

	if !pub.Equal(&pk.PublicKey) {
		t.Fatalf("Should get back the same public key.")
	}

	bad := make([]byte, signature.AuthorLength)
	bad[0] = 0x05
	if _, err := signature.DecodeAuthor(bad); err == nil {
		t.Fatalf("Should reject an invalid author.")
	}
}
