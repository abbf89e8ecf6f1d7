// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/keystore"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	KS    *keystore.KeyStore
	WS    websocket.Upgrader
	Evts  *events.Events[string]
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the blockchain.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// Starting a ticker to send a ping message over the websocket.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Block waiting for events from the blockchain or ticker.
	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns the node's view of the chain.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	st, err := h.State.Status()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toStatus(st, h.lookup), http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// BlockByHash returns the block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := database.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blk, aux, err := h.State.QueryBlock(hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(fmt.Errorf("block %s not found", hash), http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, toBlock(blk, aux, h.lookup), http.StatusOK)
}

// BestBlock returns the best block.
func (h Handlers) BestBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	best := h.State.QueryBest()

	blk, aux, err := h.State.QueryBlock(best.Hash())
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toBlock(blk, aux, h.lookup), http.StatusOK)
}

// MiningMetadata returns the work an external miner searches a seal for.
func (h Handlers) MiningMetadata(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	m, err := h.State.MiningMetadata()
	if err != nil {
		switch {
		case errors.Is(err, state.ErrMiningDisabled):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.Is(err, state.ErrNoWork):
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}
		return err
	}

	return web.Respond(ctx, w, toMetadata(m), http.StatusOK)
}

// SubmitSeal takes a seal found by an external miner for the specified
// metadata.
func (h Handlers) SubmitSeal(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var ss submitSeal
	if err := web.Decode(r, &ss); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	mined, err := toWorkerMetadata(ss.Metadata)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("submit seal", "traceid", v.TraceID, "pre-hash", mined.PreHash, "seal", ss.Seal)

	if err := h.State.SubmitSeal(ctx, mined, ss.Seal); err != nil {
		switch {
		case errors.Is(err, state.ErrMiningDisabled):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.Is(err, worker.ErrStaleWork):
			return errs.NewTrusted(err, http.StatusConflict)
		case pow.IsConsensusError(err):
			return errs.NewTrusted(err, http.StatusNotAcceptable)
		}
		return err
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "seal accepted",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitExtrinsic adds an extrinsic to the mempool.
func (h Handlers) SubmitExtrinsic(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var se submitExtrinsic
	if err := web.Decode(r, &se); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	hash, count, err := h.State.UpsertExtrinsic(se.Data)
	if err != nil {
		if errors.Is(err, mempool.ErrPoolFull) {
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}
		return err
	}

	h.Log.Infow("add extrinsic", "traceid", v.TraceID, "hash", hash, "mempool", count)

	resp := struct {
		Hash    string `json:"hash"`
		Mempool int    `json:"mempool"`
	}{
		Hash:    hash.Hex(),
		Mempool: count,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

func (h Handlers) lookup(author []byte) string {
	if h.KS == nil {
		return ""
	}
	return h.KS.Lookup(author)
}
