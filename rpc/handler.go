package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/indexer"
	"github.com/JdoubleU92/numgame/storage"
)

// Handler holds all dependencies needed to serve RPC methods. Reads go
// through a fresh committed-state view per request, so they never observe a
// block that is still being executed.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	db      storage.DB
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	limiter *rate.Limiter
	now     func() time.Time
}

// NewHandler creates an RPC Handler. idx may be nil, which disables the
// index lookups.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, db storage.DB, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, db: db, indexer: idx, chainID: chainID, now: time.Now}
}

// SetRateLimit caps sendTx at perSecond with the given burst. A
// non-positive rate removes the limit.
func (h *Handler) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		h.limiter = nil
		return
	}
	h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

func (h *Handler) view() *storage.StateDB { return storage.NewStateDB(h.db) }

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getBalance":
		return h.getAccount(req, false)
	case "getNonce":
		return h.getAccount(req, true)
	case "sendTx":
		return h.sendTx(req)
	case "getReceipt":
		return h.getReceipt(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	case "getInstance":
		return h.getInstance(req, false)
	case "getInstanceSnapshot":
		return h.getInstance(req, true)
	case "getCloneByOwner":
		return h.getCloneByOwner(req)
	case "isTrustedFactory":
		return h.isTrustedFactory(req)
	case "getTrustedFactories":
		return okResponse(req.ID, h.view().TrustedFactories())
	case "getTemplateInfo":
		return h.result(req.ID)(h.view().GetTemplateInfo())

	case "getOwed":
		return h.getOwed(req)
	case "getInstanceBalance":
		return h.getInstanceBalance(req)
	case "getTemplateBalance":
		return h.result(req.ID)(h.view().GetTemplateBalance())

	case "getGamesByPlayer":
		return h.lookup(req, "player", func(idx *indexer.Indexer, key string) ([]string, error) { return idx.GamesByPlayer(key) })
	case "getClonesByFactory":
		return h.lookup(req, "factory", func(idx *indexer.Indexer, key string) ([]string, error) { return idx.ClonesByFactory(key) })
	case "getInstancesByOwner":
		return h.lookup(req, "owner", func(idx *indexer.Indexer, key string) ([]string, error) { return idx.InstancesByOwner(key) })

	case "computeDigest":
		return h.computeDigest(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// result adapts a (value, error) read into a response.
func (h *Handler) result(id any) func(v any, err error) Response {
	return func(v any, err error) Response {
		if err != nil {
			return engineError(id, err)
		}
		return okResponse(id, v)
	}
}

func parseParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return errors.New("params required")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return engineError(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getAccount(req Request, nonceOnly bool) Response {
	var params struct {
		Address core.Address `json:"address"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.view().GetAccount(params.Address)
	if err != nil {
		return engineError(req.ID, err)
	}
	if nonceOnly {
		return okResponse(req.ID, acc.Nonce)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) sendTx(req Request) Response {
	if h.limiter != nil && !h.limiter.Allow() {
		return errResponse(req.ID, CodeRateLimited, "sendTx rate limit exceeded")
	}
	var tx core.Transaction
	if err := parseParams(req, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	return h.result(req.ID)(h.view().GetReceipt(params.TxID))
}

type instanceParams struct {
	InstanceID string `json:"instance_id"`
}

func (h *Handler) getInstance(req Request, snapshot bool) Response {
	var params instanceParams
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.InstanceID == "" {
		return errResponse(req.ID, CodeInvalidParams, "instance_id is required")
	}
	inst, err := h.view().GetInstance(params.InstanceID)
	if err != nil {
		return engineError(req.ID, err)
	}
	if snapshot {
		return okResponse(req.ID, inst.Snapshot(h.now().Unix()))
	}
	return okResponse(req.ID, inst)
}

func (h *Handler) getCloneByOwner(req Request) Response {
	var params struct {
		Owner core.Address `json:"owner"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	return h.result(req.ID)(h.view().GetClone(params.Owner))
}

func (h *Handler) isTrustedFactory(req Request) Response {
	var params struct {
		Factory string `json:"factory"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return h.result(req.ID)(h.view().IsTrusted(params.Factory))
}

func (h *Handler) getOwed(req Request) Response {
	var params struct {
		InstanceID string       `json:"instance_id"`
		Address    core.Address `json:"address"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.InstanceID == "" || params.Address.IsZero() {
		return errResponse(req.ID, CodeInvalidParams, "instance_id and address are required")
	}
	return h.result(req.ID)(h.view().GetOwed(params.InstanceID, params.Address))
}

func (h *Handler) getInstanceBalance(req Request) Response {
	var params instanceParams
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.InstanceID == "" {
		return errResponse(req.ID, CodeInvalidParams, "instance_id is required")
	}
	return h.result(req.ID)(h.view().GetInstanceBalance(params.InstanceID))
}

func (h *Handler) lookup(req Request, field string, fn func(*indexer.Indexer, string) ([]string, error)) Response {
	if h.indexer == nil {
		return errResponse(req.ID, CodeInternalError, "indexer disabled")
	}
	var params map[string]string
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	key := params[field]
	if key == "" {
		return errResponse(req.ID, CodeInvalidParams, field+" is required")
	}
	ids, err := fn(h.indexer, key)
	if err != nil {
		return engineError(req.ID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) computeDigest(req Request) Response {
	var params struct {
		Salt   string `json:"salt"`
		Number int    `json:"number"`
	}
	if err := parseParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	d, err := crypto.ComputeDigest(params.Salt, params.Number)
	if err != nil {
		return engineError(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"digest": d.Hex()})
}
