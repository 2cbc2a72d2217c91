package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/crypto"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/registry"
)

// Client is a typed JSON-RPC client for a node. Remote engine failures come
// back as *Error values that unwrap to the matching errs sentinel.
type Client struct {
	url    string
	token  string
	http   *http.Client
	nextID atomic.Int64
}

// NewClient returns a client for the node at url. authToken may be empty.
func NewClient(url, authToken string) *Client {
	return &Client{url: url, token: authToken, http: &http.Client{Timeout: 30 * time.Second}}
}

// SetHTTPClient replaces the underlying HTTP client, e.g. to configure TLS.
func (c *Client) SetHTTPClient(hc *http.Client) { c.http = hc }

// Call invokes method with params and decodes the result into out, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if params == nil {
		params = struct{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: raw})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes*8))
	if err != nil {
		return fmt.Errorf("rpc %s: read: %w", method, err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode (status %d): %w", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %w", method, rpcResp.Error)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("rpc %s: decode result: %w", method, err)
	}
	return nil
}

// BlockHeight returns the height of the chain tip.
func (c *Client) BlockHeight(ctx context.Context) (int64, error) {
	var h int64
	err := c.Call(ctx, "getBlockHeight", nil, &h)
	return h, err
}

// Account returns the balance and next nonce of addr.
func (c *Client) Account(ctx context.Context, addr core.Address) (*core.Account, error) {
	var acc core.Account
	if err := c.Call(ctx, "getBalance", map[string]any{"address": addr}, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Nonce returns the next nonce of addr.
func (c *Client) Nonce(ctx context.Context, addr core.Address) (uint64, error) {
	var n uint64
	err := c.Call(ctx, "getNonce", map[string]any{"address": addr}, &n)
	return n, err
}

// SendTx submits a signed transaction and returns its ID.
func (c *Client) SendTx(ctx context.Context, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		return "", err
	}
	return out.TxID, nil
}

// Receipt returns the receipt of an executed transaction.
func (c *Client) Receipt(ctx context.Context, txID string) (*core.Receipt, error) {
	var r core.Receipt
	if err := c.Call(ctx, "getReceipt", map[string]any{"tx_id": txID}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// WaitReceipt polls until txID has a receipt or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, txID string, interval time.Duration) (*core.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := c.Receipt(ctx, txID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Instance returns the full stored state of an instance.
func (c *Client) Instance(ctx context.Context, instanceID string) (*game.Instance, error) {
	var inst game.Instance
	if err := c.Call(ctx, "getInstance", instanceParams{InstanceID: instanceID}, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// InstanceSnapshot returns the read model of an instance. It makes Client a
// livestate.SnapshotSource.
func (c *Client) InstanceSnapshot(ctx context.Context, instanceID string) (*game.Snapshot, error) {
	var snap game.Snapshot
	if err := c.Call(ctx, "getInstanceSnapshot", instanceParams{InstanceID: instanceID}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CloneByOwner returns owner's live clone record.
func (c *Client) CloneByOwner(ctx context.Context, owner core.Address) (*registry.CloneRecord, error) {
	var rec registry.CloneRecord
	if err := c.Call(ctx, "getCloneByOwner", map[string]any{"owner": owner}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsTrustedFactory reports whether factory is on the trust list.
func (c *Client) IsTrustedFactory(ctx context.Context, factory string) (bool, error) {
	var ok bool
	err := c.Call(ctx, "isTrustedFactory", map[string]any{"factory": factory}, &ok)
	return ok, err
}

// TemplateInfo returns the template owner and royalty settings.
func (c *Client) TemplateInfo(ctx context.Context) (*registry.TemplateInfo, error) {
	var info registry.TemplateInfo
	if err := c.Call(ctx, "getTemplateInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Owed returns what instanceID owes addr.
func (c *Client) Owed(ctx context.Context, instanceID string, addr core.Address) (uint64, error) {
	var v uint64
	err := c.Call(ctx, "getOwed", map[string]any{"instance_id": instanceID, "address": addr}, &v)
	return v, err
}

// InstanceBalance returns the host balance of instanceID.
func (c *Client) InstanceBalance(ctx context.Context, instanceID string) (uint64, error) {
	var v uint64
	err := c.Call(ctx, "getInstanceBalance", instanceParams{InstanceID: instanceID}, &v)
	return v, err
}

// TemplateBalance returns the accrued template royalties.
func (c *Client) TemplateBalance(ctx context.Context) (uint64, error) {
	var v uint64
	err := c.Call(ctx, "getTemplateBalance", nil, &v)
	return v, err
}

// GamesByPlayer returns the instances player has committed to.
func (c *Client) GamesByPlayer(ctx context.Context, player core.Address) ([]string, error) {
	var ids []string
	err := c.Call(ctx, "getGamesByPlayer", map[string]any{"player": player}, &ids)
	return ids, err
}

// ComputeDigest asks the node for the commitment digest of (salt, number).
func (c *Client) ComputeDigest(ctx context.Context, salt string, number int) (crypto.Digest, error) {
	var out struct {
		Digest crypto.Digest `json:"digest"`
	}
	err := c.Call(ctx, "computeDigest", map[string]any{"salt": salt, "number": number}, &out)
	return out.Digest, err
}

// MempoolSize returns the number of pending transactions.
func (c *Client) MempoolSize(ctx context.Context) (int, error) {
	var n int
	err := c.Call(ctx, "getMempoolSize", nil, &n)
	return n, err
}
