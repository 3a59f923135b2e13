// Package mintclient is the rate-limited HTTP client for the Cashu mint
// endpoints this core consumes (§6). Request/response bodies for
// swap/mint/melt/restore/checkstate are defined by the underlying NUT
// spec and treated as opaque except for the shape needed to drive the
// sagas; this client does not implement the blind-signature cryptography
// itself (§1).
package mintclient

import "github.com/lerianwallet/ecash-core/pkg/walletcore"

// KeysetSummary is one entry of GET /v1/keysets.
type KeysetSummary struct {
	ID           string `json:"id"`
	Unit         string `json:"unit"`
	Active       bool   `json:"active"`
	InputFeePPK  int64  `json:"input_fee_ppk"`
}

// KeysetsResponse is the body of GET /v1/keysets.
type KeysetsResponse struct {
	Keysets []KeysetSummary `json:"keysets"`
}

// KeysResponse is the body of GET /v1/keys/{id}.
type KeysResponse struct {
	Keysets []struct {
		ID   string            `json:"id"`
		Keys map[string]string `json:"keys"`
	} `json:"keysets"`
}

// wireBlindedMessage / wireBlindSignature are the wire shapes for outputs
// and signatures across swap/mint/melt/restore.
type wireBlindedMessage struct {
	Amount   uint64 `json:"amount"`
	ID       string `json:"id"`
	BlindedB string `json:"B_"`
}

type wireBlindSignature struct {
	Amount uint64 `json:"amount"`
	ID     string `json:"id"`
	C      string `json:"C_"`
}

type wireProof struct {
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
}

// SwapRequest is the body of POST /v1/swap.
type SwapRequest struct {
	Inputs  []wireProof          `json:"inputs"`
	Outputs []wireBlindedMessage `json:"outputs"`
}

// SwapResponse is the body returned by POST /v1/swap.
type SwapResponse struct {
	Signatures []wireBlindSignature `json:"signatures"`
}

// MintRequest is the body of POST /v1/mint/bolt11.
type MintRequest struct {
	Quote   string               `json:"quote"`
	Outputs []wireBlindedMessage `json:"outputs"`
}

// MintResponse is the body returned by POST /v1/mint/bolt11.
type MintResponse struct {
	Signatures []wireBlindSignature `json:"signatures"`
}

// MeltRequest is the body of POST /v1/melt/bolt11.
type MeltRequest struct {
	Quote   string               `json:"quote"`
	Inputs  []wireProof          `json:"inputs"`
	Outputs []wireBlindedMessage `json:"outputs,omitempty"`
}

// MeltResponse is the body returned by POST /v1/melt/bolt11.
type MeltResponse struct {
	State              string               `json:"state"`
	Preimage           string               `json:"payment_preimage"`
	ChangeSignatures   []wireBlindSignature `json:"change,omitempty"`
}

// RestoreRequest is the body of POST /v1/restore.
type RestoreRequest struct {
	Outputs []wireBlindedMessage `json:"outputs"`
}

// RestoreResponse is the body returned by POST /v1/restore.
type RestoreResponse struct {
	Outputs    []wireBlindedMessage `json:"outputs"`
	Signatures []wireBlindSignature `json:"signatures"`
}

// CheckStateRequest is the body of POST /v1/checkstate.
type CheckStateRequest struct {
	Ys []string `json:"Ys"`
}

// ProofStateEntry is one entry of CheckStateResponse.
type ProofStateEntry struct {
	Y     string `json:"Y"`
	State string `json:"state"` // UNSPENT | PENDING | SPENT
}

// CheckStateResponse is the body returned by POST /v1/checkstate.
type CheckStateResponse struct {
	States []ProofStateEntry `json:"states"`
}

func toWireBlindedMessages(msgs []walletcore.BlindedMessage) []wireBlindedMessage {
	out := make([]wireBlindedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireBlindedMessage{Amount: m.Amount, ID: m.KeysetID, BlindedB: m.BlindedB}
	}

	return out
}

func toWireProofs(proofs []walletcore.Proof) []wireProof {
	out := make([]wireProof, len(proofs))
	for i, p := range proofs {
		out[i] = wireProof{Amount: p.Amount, ID: p.KeysetID, Secret: p.Secret, C: p.C, Witness: p.Witness}
	}

	return out
}

func fromWireBlindedMessages(msgs []wireBlindedMessage) []walletcore.BlindedMessage {
	out := make([]walletcore.BlindedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = walletcore.BlindedMessage{Amount: m.Amount, KeysetID: m.ID, BlindedB: m.BlindedB}
	}

	return out
}

func fromWireSignatures(sigs []wireBlindSignature) []walletcore.BlindSignature {
	out := make([]walletcore.BlindSignature, len(sigs))
	for i, s := range sigs {
		out[i] = walletcore.BlindSignature{Amount: s.Amount, KeysetID: s.ID, C_: s.C}
	}

	return out
}
