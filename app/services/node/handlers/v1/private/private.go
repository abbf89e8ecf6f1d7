// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ardanlabs/powchain/business/sys/validate"
	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/importer"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// ImportBlock takes a block received from a peer and runs it through the
// import pipeline.
func (h Handlers) ImportBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var blockData peer.BlockData
	if err := web.Decode(r, &blockData); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(blockData); err != nil {
		return err
	}

	outcome, err := h.State.ImportBlock(ctx, blockData.Block)
	if err != nil {
		h.Log.Infow("import block", "traceid", v.TraceID, "ERROR", err)

		switch {
		case errors.Is(err, importer.ErrUnknownParent):
			return errs.NewTrusted(err, http.StatusNotAcceptable)
		case pow.IsConsensusError(err):
			return errs.NewTrusted(err, http.StatusNotAcceptable)
		case errors.Is(err, importer.ErrShutdown):
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		}

		return errs.NewTrusted(fmt.Errorf("block not accepted: %w", err), http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: outcome.String(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.State.Status()
	if err != nil {
		return err
	}

	ps := peer.PeerStatus{
		BestHash:        status.Best.Hash().Hex(),
		BestNumber:      status.Best.Number,
		TotalDifficulty: status.TotalDifficulty.Dec(),
		KnownPeers:      status.KnownPeers,
	}

	return web.Respond(ctx, w, ps, http.StatusOK)
}

// BlocksByNumber returns the blocks of the best chain between the specified
// numbers.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := parseNumber(web.Param(r, "from"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := parseNumber(web.Param(r, "to"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if to != state.QueryLatest && from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	blocks, err := h.State.QueryBlocksByNumber(from, to)
	if err != nil {
		return err
	}

	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	list := make([]peer.BlockData, len(blocks))
	for i, block := range blocks {
		data, err := block.Encode()
		if err != nil {
			return err
		}
		list[i] = peer.BlockData{Block: data}
	}

	return web.Respond(ctx, w, list, http.StatusOK)
}

// =============================================================================

func parseNumber(s string) (uint64, error) {
	if s == "latest" || s == "" {
		return state.QueryLatest, nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", s)
	}

	return n, nil
}

