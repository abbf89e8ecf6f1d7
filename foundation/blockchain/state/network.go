package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// syncWindow is how far below the best block a sync starts, so a peer on a
// short fork can be followed. The window moves back by the same step while
// the peer's blocks don't connect.
const syncWindow = 64

// requestTimeout bounds every call made to a peer.
const requestTimeout = 10 * time.Second

// Sync asks every known peer for its status and pulls the blocks this node
// is missing.
func (s *State) Sync() {
	s.evHandler("state: sync: started")
	defer s.evHandler("state: sync: completed")

	for _, pr := range s.KnownPeers() {
		if s.isShutdown() {
			return
		}

		status, err := s.NetRequestPeerStatus(pr)
		if err != nil {
			s.evHandler("state: sync: NetRequestPeerStatus: %s: ERROR: %s", pr, err)
			continue
		}

		for _, known := range status.KnownPeers {
			if known.Match(s.host) {
				continue
			}
			if s.AddKnownPeer(known) {
				s.evHandler("state: sync: add peer nodes: adding peer-node %s", known)
			}
		}

		hash, err := database.ToHash(status.BestHash)
		if err != nil {
			s.evHandler("state: sync: %s: ERROR: best hash: %s", pr, err)
			continue
		}

		if ok, err := s.db.Contains(hash); err != nil || ok {
			continue
		}

		best := s.db.Best().Number
		from := best - min(best, syncWindow) + 1

		s.syncFrom(pr, from)
	}
}

// syncFrom pulls the peer's blocks from the specified number, moving the
// start back while the peer forked below it.
func (s *State) syncFrom(pr peer.Peer, from uint64) {
	for !s.isShutdown() {
		err := s.NetRequestPeerBlocks(pr, from)
		if err == nil {
			return
		}

		if !errors.Is(err, importer.ErrUnknownParent) || from <= 1 {
			s.evHandler("state: sync: NetRequestPeerBlocks: %s: ERROR: %s", pr, err)
			return
		}

		from -= min(from-1, syncWindow)
		s.evHandler("state: sync: %s: fork below the window, retrying from block[%d]", pr, from)
	}
}

// NetSendBlockToPeers takes a new best block and sends it to all known
// peers.
func (s *State) NetSendBlockToPeers(block database.Block) error {
	s.evHandler("state: NetSendBlockToPeers: started")
	defer s.evHandler("state: NetSendBlockToPeers: completed")

	data, err := block.Encode()
	if err != nil {
		return err
	}

	var errs []error
	for _, pr := range s.KnownPeers() {
		if err := send(http.MethodPost, pr.URL("/block/import"), peer.BlockData{Block: data}, nil); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pr, err))
			continue
		}

		s.evHandler("state: NetSendBlockToPeers: sent block[%d] to peer[%s]", block.Header.Number, pr)
	}

	return errors.Join(errs...)
}

// NetRequestPeerStatus looks for new nodes on the blockchain by asking
// known nodes for their peer list.
func (s *State) NetRequestPeerStatus(pr peer.Peer) (peer.PeerStatus, error) {
	s.evHandler("state: NetRequestPeerStatus: started: %s", pr)
	defer s.evHandler("state: NetRequestPeerStatus: completed: %s", pr)

	var ps peer.PeerStatus
	if err := send(http.MethodGet, pr.URL("/status"), nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	s.evHandler("state: NetRequestPeerStatus: peer-node[%s]: best-blknum[%d]: peer-list[%s]", pr, ps.BestNumber, ps.KnownPeers)

	return ps, nil
}

// NetRequestPeerBlocks asks the peer for the blocks of its best chain from
// the specified number and imports them.
func (s *State) NetRequestPeerBlocks(pr peer.Peer, from uint64) error {
	s.evHandler("state: NetRequestPeerBlocks: started: %s", pr)
	defer s.evHandler("state: NetRequestPeerBlocks: completed: %s", pr)

	var list []peer.BlockData
	if err := send(http.MethodGet, pr.URL(fmt.Sprintf("/block/list/%d/latest", from)), nil, &list); err != nil {
		return err
	}

	blocks := make([]database.Block, len(list))
	for i, bd := range list {
		block, err := database.DecodeBlock(bd.Block)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		blocks[i] = block
	}

	s.evHandler("state: NetRequestPeerBlocks: found blocks[%d]", len(blocks))

	outcomes, err := s.importer.ImportBatch(context.Background(), blocks)
	s.evHandler("state: NetRequestPeerBlocks: processed blocks[%d]", len(outcomes))

	return err
}

// =============================================================================

// send is a helper function to send an HTTP request to a node.
func send(method string, url string, dataSend any, dataRecv any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
