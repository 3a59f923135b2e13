package mintclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lerianwallet/ecash-core/internal/transport/ratelimit"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// bypassPrefixes skip the rate limiter entirely: GET /v1/info is the probe
// a caller uses to decide whether a mint is even reachable (§4.3).
var bypassPrefixes = []string{"/v1/info"}

// Client is the rate-limited HTTP client for a single mint's NUT-04/05/07/09
// endpoints (§6). One Client targets one mint base URL; callers hold one per
// trusted mint.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	baseURL    string
	logger     mlog.Logger

	infoCache    *lru.LRU[string, json.RawMessage]
	keysetsCache *lru.LRU[string, KeysetsResponse]
}

// New builds a Client for baseURL (already normalized by the caller via
// walletcore.NormalizeMintURL).
func New(baseURL string, httpClient *http.Client, logger mlog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient:   httpClient,
		limiter:      ratelimit.New(ratelimit.DefaultCapacity, ratelimit.DefaultRefillPerMinute, ratelimit.WithBypassPrefixes(bypassPrefixes...)),
		baseURL:      baseURL,
		logger:       logger,
		infoCache:    lru.NewLRU[string, json.RawMessage](1, nil, walletcore.MintInfoTTL),
		keysetsCache: lru.NewLRU[string, KeysetsResponse](1, nil, walletcore.MintInfoTTL),
	}
}

// Info fetches GET /v1/info, opaque beyond JSON decoding (§6); the mint's
// own description of itself is not this core's concern (§1 Non-goals).
func (c *Client) Info(ctx context.Context) (json.RawMessage, error) {
	if cached, ok := c.infoCache.Get("info"); ok {
		return cached, nil
	}

	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, &out); err != nil {
		return nil, err
	}

	c.infoCache.Add("info", out)

	return out, nil
}

// Keysets fetches GET /v1/keysets, cached for walletcore.MintInfoTTL the
// same way wallet.Info is (§4.3 "Transport library wiring").
func (c *Client) Keysets(ctx context.Context) (KeysetsResponse, error) {
	if cached, ok := c.keysetsCache.Get("keysets"); ok {
		return cached, nil
	}

	var out KeysetsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keysets", nil, &out); err != nil {
		return KeysetsResponse{}, err
	}

	c.keysetsCache.Add("keysets", out)

	return out, nil
}

// Keys fetches GET /v1/keys/{id}, the public key material for one keyset.
// Not cached here: KeysetRepository is the durable cache for this (§4.1).
func (c *Client) Keys(ctx context.Context, keysetID string) (KeysResponse, error) {
	var out KeysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys/"+keysetID, nil, &out); err != nil {
		return KeysResponse{}, err
	}

	return out, nil
}

// Swap executes POST /v1/swap: burns inputs, mints outputs (§4.5, §4.6).
func (c *Client) Swap(ctx context.Context, inputs []walletcore.Proof, outputs []walletcore.BlindedMessage) ([]walletcore.BlindSignature, error) {
	req := SwapRequest{Inputs: toWireProofs(inputs), Outputs: toWireBlindedMessages(outputs)}

	var resp SwapResponse
	if err := c.do(ctx, http.MethodPost, "/v1/swap", req, &resp); err != nil {
		return nil, err
	}

	return fromWireSignatures(resp.Signatures), nil
}

// MintBolt11 executes POST /v1/mint/bolt11: redeems a paid quote for
// outputs (§4.6.2 mint quote redemption).
func (c *Client) MintBolt11(ctx context.Context, quoteID string, outputs []walletcore.BlindedMessage) ([]walletcore.BlindSignature, error) {
	req := MintRequest{Quote: quoteID, Outputs: toWireBlindedMessages(outputs)}

	var resp MintResponse
	if err := c.do(ctx, http.MethodPost, "/v1/mint/bolt11", req, &resp); err != nil {
		return nil, err
	}

	return fromWireSignatures(resp.Signatures), nil
}

// MeltBolt11Result is the decoded response of POST /v1/melt/bolt11.
type MeltBolt11Result struct {
	State    string
	Preimage string
	Change   []walletcore.BlindSignature
}

// MeltBolt11 executes POST /v1/melt/bolt11: pays a bolt11 invoice from
// inputs, optionally returning change signatures for overpaid fee reserve
// (§4.6.2).
func (c *Client) MeltBolt11(ctx context.Context, quoteID string, inputs []walletcore.Proof, changeOutputs []walletcore.BlindedMessage) (MeltBolt11Result, error) {
	req := MeltRequest{Quote: quoteID, Inputs: toWireProofs(inputs), Outputs: toWireBlindedMessages(changeOutputs)}

	var resp MeltResponse
	if err := c.do(ctx, http.MethodPost, "/v1/melt/bolt11", req, &resp); err != nil {
		return MeltBolt11Result{}, err
	}

	return MeltBolt11Result{
		State:    resp.State,
		Preimage: resp.Preimage,
		Change:   fromWireSignatures(resp.ChangeSignatures),
	}, nil
}

// RestoreResult is the decoded response of POST /v1/restore: the subset of
// requested outputs the mint actually signed, and their signatures,
// positionally matched.
type RestoreResult struct {
	Outputs    []walletcore.BlindedMessage
	Signatures []walletcore.BlindSignature
}

// Restore executes POST /v1/restore: recovers blind signatures for a range
// of deterministically-derived outputs after a seed-only recovery (§4.2
// "Deterministic output", GLOSSARY).
func (c *Client) Restore(ctx context.Context, outputs []walletcore.BlindedMessage) (RestoreResult, error) {
	req := RestoreRequest{Outputs: toWireBlindedMessages(outputs)}

	var resp RestoreResponse
	if err := c.do(ctx, http.MethodPost, "/v1/restore", req, &resp); err != nil {
		return RestoreResult{}, err
	}

	return RestoreResult{
		Outputs:    fromWireBlindedMessages(resp.Outputs),
		Signatures: fromWireSignatures(resp.Signatures),
	}, nil
}

// CheckState executes POST /v1/checkstate: the synchronous fallback to the
// websocket subscription for proof state (§4.7 ProofStateWatcher).
func (c *Client) CheckState(ctx context.Context, ys []string) ([]ProofStateEntry, error) {
	req := CheckStateRequest{Ys: ys}

	var resp CheckStateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkstate", req, &resp); err != nil {
		return nil, err
	}

	return resp.States, nil
}

// mintProtocolError is the {code, detail} body shape the mint returns
// alongside non-2xx statuses for protocol-level failures (NUT-00).
type mintProtocolError struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Acquire(ctx, path); err != nil {
		return err
	}

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return merrors.NewValidationError("mint-request", err.Error())
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return merrors.NetworkError{Mint: c.baseURL, Err: err}
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return merrors.NetworkError{Mint: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return merrors.NetworkError{Mint: c.baseURL, Err: err}
	}

	if resp.StatusCode/100 != 2 {
		var protoErr mintProtocolError
		if json.Unmarshal(raw, &protoErr) == nil && protoErr.Detail != "" {
			return merrors.MintOperationError{StatusCode: resp.StatusCode, Code: strconv.Itoa(protoErr.Code), Detail: protoErr.Detail}
		}

		return merrors.HTTPResponseError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return merrors.MintFetchError{Mint: c.baseURL, Path: path, Err: err}
	}

	return nil
}
