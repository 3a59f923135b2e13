package walletcore

import "time"

// Keyset is a child of a Mint, keyed by (Mint, ID).
type Keyset struct {
	Mint      string
	ID        string
	Unit      string
	Active    bool
	FeePPK    int64 // per-input fee in parts-per-thousand
	Keys      map[uint64]string // denomination -> public key hex
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsValidDenomination reports whether amount is a positive power of two,
// the only shape the keyset's denomination map may contain (§3 Keyset
// invariant).
func IsValidDenomination(amount uint64) bool {
	return amount > 0 && amount&(amount-1) == 0
}

// FeeForInputs computes the input fee, in the base unit, for spending n
// proofs from this keyset: ceil(n * FeePPK / 1000).
func (k Keyset) FeeForInputs(n int) uint64 {
	if n <= 0 || k.FeePPK <= 0 {
		return 0
	}

	total := int64(n) * k.FeePPK

	return uint64((total + 999) / 1000)
}

// Keypair is a single BIP-32 derived keypair cached so the blind-signature
// collaborator does not re-derive the same public key on every restore
// (NEW — named as one of the eight repositories in §2 but never fully
// specified in §3).
type Keypair struct {
	Mint            string
	KeysetID        string
	DerivationIndex uint64
	PublicKeyHex    string
}
