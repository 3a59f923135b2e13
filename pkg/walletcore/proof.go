package walletcore

// ProofState is the tri-state lifecycle of a bearer proof (§3 Proof).
type ProofState string

const (
	ProofReady    ProofState = "ready"
	ProofInflight ProofState = "inflight"
	ProofSpent    ProofState = "spent"
)

// DLEQProof is the optional discrete-log-equality proof attached to a
// proof by the mint; verification of it is the blind-signature
// collaborator's concern (§1 out of scope) — this module only carries it.
type DLEQProof struct {
	E string
	S string
	R string
}

// Proof is a single unblinded Chaumian bearer token, keyed by (Mint, Secret).
type Proof struct {
	Mint                 string
	Secret               string
	Amount               uint64
	KeysetID             string
	C                    string
	DLEQ                 *DLEQProof
	Witness              string // serialized P2PK signature, if locked
	State                ProofState
	UsedByOperationID    string // non-empty iff a live saga reserved this proof
	CreatedByOperationID string // non-empty iff minted/received/swapped in by an operation
}

// Y is the mint's spent/unspent identifier for this proof: the secret must
// be hashed to curve by the blind-signature collaborator. This module
// never computes Y itself; ProofStateWatcher and ProofService accept a
// HashToCurve function from outside (see Collaborators).
type Y = string

// BlindedMessage is an output a wallet sends to a mint to receive a new
// signed proof: (amount, keyset id, blinded point B'), produced by the
// blind-signature collaborator from a (secret, blinding factor) pair it
// derived deterministically from the seed and a counter index.
type BlindedMessage struct {
	Amount   uint64
	KeysetID string
	BlindedB string
	P2PKLock string // optional recipient pubkey this output will be locked to
}

// BlindSignature is the mint's response to a BlindedMessage.
type BlindSignature struct {
	Amount   uint64
	KeysetID string
	C_       string
	DLEQ     *DLEQProof
}

// OutputBlueprint is the pre-derivation record the wallet persists so that
// a crash between deriving outputs and receiving the mint's signatures can
// be recovered deterministically from the counter alone (§3 Counter,
// "Deterministic output" in the GLOSSARY).
type OutputBlueprint struct {
	Mint       string
	KeysetID   string
	StartIndex uint64
	Count      uint64
	Amounts    []uint64
	P2PKLock   string
}
