package walletcore

import "context"

// The interfaces in this file name the external collaborators §1 and §6
// place deliberately out of this core's scope: blind-signature
// cryptography, BIP-39 seed derivation, and Lightning invoice parsing.
// The core calls through these interfaces; it never implements them.

// SeedProvider produces the wallet's 64-byte BIP-39 seed on demand (§6
// Environment). Implementations typically prompt for a passphrase or read
// an encrypted seed file; this module treats the bytes as opaque.
type SeedProvider interface {
	Seed(ctx context.Context) ([]byte, error)
}

// BlindSigner is the blind-signature collaborator: hash-to-curve,
// blinding, unblinding and DLEQ verification (§1 "deliberately out of
// scope"). CreateBlindedMessages derives deterministic outputs at the
// given consecutive counter indices; Unblind reconstructs proofs from the
// mint's signatures.
type BlindSigner interface {
	// CreateBlindedMessages derives len(amounts) blinded messages at
	// consecutive indices starting at startIndex, for the given keyset,
	// optionally locking each to p2pkLock (empty string for no lock).
	CreateBlindedMessages(ctx context.Context, mint, keysetID string, startIndex uint64, amounts []uint64, p2pkLock string) ([]BlindedMessage, error)

	// Unblind turns a mint's signatures (matched positionally to the
	// BlindedMessage that produced them) back into spendable proofs.
	Unblind(ctx context.Context, messages []BlindedMessage, signatures []BlindSignature) ([]Proof, error)

	// HashToCurve computes Y = hash_to_curve(secret) in compressed hex,
	// the mint's identifier for a proof's spent/unspent state (GLOSSARY).
	HashToCurve(secret string) (Y, error)

	// SignP2PK signs a proof's secret with the private key corresponding
	// to pubkeyHex, producing a witness for ProofService.PrepareProofsForReceiving.
	SignP2PK(ctx context.Context, secret string, pubkeyHex string) (witness string, err error)
}

// InvoiceParser decodes a bolt11 payment request far enough to extract the
// amount and expiry the melt saga needs; full Lightning semantics are out
// of scope (§1).
type InvoiceParser interface {
	ParseAmountSats(paymentRequest string) (uint64, error)
}
