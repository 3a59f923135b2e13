package subscription

import "encoding/json"

// Kind is one of the three subscribable event kinds a mint's NUT-17
// websocket exposes (§4.7 watchers).
type Kind string

const (
	KindBolt11MintQuote Kind = "bolt11_mint_quote"
	KindBolt11MeltQuote Kind = "bolt11_melt_quote"
	KindProofState      Kind = "proof_state"
)

// maxFiltersPerSubscribe is the mint-side cap on filters in a single
// subscribe call (§4.7 "filter batching ≤100").
const maxFiltersPerSubscribe = 100

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type subscribeParams struct {
	Kind    Kind     `json:"kind"`
	Filters []string `json:"filters"`
	SubID   string   `json:"subId"`
}

type unsubscribeParams struct {
	SubID string `json:"subId"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// notifyFrame is an unsolicited server->client frame carrying a matched
// event for an active subscription.
type notifyFrame struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		SubID   string          `json:"subId"`
		Payload json.RawMessage `json:"payload"`
	} `json:"params"`
}

// Notification is what a caller's handler receives.
type Notification struct {
	Kind    Kind
	Filter  string
	Payload json.RawMessage
}

// filterKey extracts the filter value (a quote ID or a proof Y) a
// notification payload matched against, per NUT-17's per-kind payload
// shape.
func filterKey(kind Kind, payload json.RawMessage) (string, bool) {
	var generic map[string]json.RawMessage
	if json.Unmarshal(payload, &generic) != nil {
		return "", false
	}

	var field string

	switch kind {
	case KindBolt11MintQuote, KindBolt11MeltQuote:
		field = "quote"
	case KindProofState:
		field = "Y"
	default:
		return "", false
	}

	raw, ok := generic[field]
	if !ok {
		return "", false
	}

	var value string
	if json.Unmarshal(raw, &value) != nil {
		return "", false
	}

	return value, true
}
