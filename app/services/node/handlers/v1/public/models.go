package public

import (
	"fmt"

	"github.com/ardanlabs/powchain/business/sys/validate"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type header struct {
	Hash           string        `json:"hash"`
	ParentHash     string        `json:"parent_hash"`
	Number         uint64        `json:"number"`
	Timestamp      uint64        `json:"timestamp"`
	Author         string        `json:"author"`
	AuthorName     string        `json:"author_name,omitempty"`
	ExtrinsicsRoot string        `json:"extrinsics_root"`
	Seal           hexutil.Bytes `json:"seal"`
}

type block struct {
	Header          header          `json:"header"`
	Extrinsics      []hexutil.Bytes `json:"extrinsics"`
	Difficulty      string          `json:"difficulty"`
	TotalDifficulty string          `json:"total_difficulty"`
}

type status struct {
	Host             string   `json:"host"`
	Genesis          string   `json:"genesis"`
	Best             header   `json:"best"`
	TotalDifficulty  string   `json:"total_difficulty"`
	SealVersion      uint8    `json:"seal_version"`
	WeakSubjectivity bool     `json:"weak_subjectivity"`
	Mining           bool     `json:"mining"`
	Author           string   `json:"author,omitempty"`
	Mempool          int      `json:"mempool"`
	KnownPeers       []string `json:"known_peers"`
}

type metadata struct {
	BestHash   string        `json:"best_hash" validate:"required"`
	PreHash    string        `json:"pre_hash" validate:"required"`
	PreDigest  hexutil.Bytes `json:"pre_digest"`
	Difficulty string        `json:"difficulty" validate:"required,number"`
}

type submitSeal struct {
	Metadata metadata      `json:"metadata"`
	Seal     hexutil.Bytes `json:"seal" validate:"required"`
}

// Validate checks the data in the model is considered clean.
func (s submitSeal) Validate() error {
	return validate.Check(s)
}

type submitExtrinsic struct {
	Data hexutil.Bytes `json:"data" validate:"required"`
}

// Validate checks the data in the model is considered clean.
func (s submitExtrinsic) Validate() error {
	return validate.Check(s)
}

// =============================================================================

func toHeader(h database.Header, lookup func([]byte) string) header {
	hdr := header{
		Hash:           h.Hash().Hex(),
		ParentHash:     h.ParentHash.Hex(),
		Number:         h.Number,
		Timestamp:      h.Timestamp,
		ExtrinsicsRoot: h.ExtrinsicsRoot.Hex(),
		Seal:           h.Seal,
	}

	if len(h.Author) > 0 {
		hdr.Author = signature.AuthorString(h.Author)
		if lookup != nil {
			if name := lookup(h.Author); name != hdr.Author {
				hdr.AuthorName = name
			}
		}
	}

	return hdr
}

func toBlock(b database.Block, aux database.Aux, lookup func([]byte) string) block {
	return block{
		Header:          toHeader(b.Header, lookup),
		Extrinsics:      b.Extrinsics,
		Difficulty:      aux.Difficulty.Dec(),
		TotalDifficulty: aux.TotalDifficulty.Dec(),
	}
}

func toStatus(s state.Status, lookup func([]byte) string) status {
	peers := make([]string, len(s.KnownPeers))
	for i, pr := range s.KnownPeers {
		peers[i] = pr.Host
	}

	st := status{
		Host:             s.Host,
		Genesis:          s.Genesis.Hex(),
		Best:             toHeader(s.Best, lookup),
		TotalDifficulty:  s.TotalDifficulty.Dec(),
		SealVersion:      uint8(s.SealVersion),
		WeakSubjectivity: s.WeakSubjectivity,
		Mining:           s.Mining,
		Mempool:          s.Mempool,
		KnownPeers:       peers,
	}

	if len(s.Author) > 0 {
		st.Author = signature.AuthorString(s.Author)
	}

	return st
}

func toMetadata(m worker.Metadata) metadata {
	return metadata{
		BestHash:   m.BestHash.Hex(),
		PreHash:    m.PreHash.Hex(),
		PreDigest:  m.PreDigest,
		Difficulty: m.Difficulty.Dec(),
	}
}

func toWorkerMetadata(m metadata) (worker.Metadata, error) {
	bestHash, err := database.ToHash(m.BestHash)
	if err != nil {
		return worker.Metadata{}, fmt.Errorf("best hash: %w", err)
	}

	preHash, err := database.ToHash(m.PreHash)
	if err != nil {
		return worker.Metadata{}, fmt.Errorf("pre hash: %w", err)
	}

	difficulty, err := uint256.FromDecimal(m.Difficulty)
	if err != nil {
		return worker.Metadata{}, fmt.Errorf("difficulty: %w", err)
	}

	wm := worker.Metadata{
		BestHash:   bestHash,
		PreHash:    preHash,
		PreDigest:  m.PreDigest,
		Difficulty: difficulty,
	}

	return wm, nil
}
