// Package merrors defines the closed error taxonomy used across the wallet
// core, mirroring the teacher's EntityNotFoundError / ValidationError family:
// each kind is its own struct type implementing error. ValidationError
// carries EntityType, Title, Message and Code; the kinds holding a wrapped
// cause implement Unwrap, while HTTPResponseError, MintOperationError,
// ConcurrencyStateError and InsufficientBalanceError do not.
package merrors

import "fmt"

// ValidationError records invalid input: empty mint URL, non-positive
// amount, non-integer counter input. Local, no retry.
type ValidationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Title, e.Message) }
func (e ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError for a field-level problem.
func NewValidationError(entityType, message string) ValidationError {
	return ValidationError{EntityType: entityType, Title: "Validation Error", Message: message, Code: "validation"}
}

// UnknownMintError indicates an operation referenced a mint this wallet has
// never seen.
type UnknownMintError struct {
	Mint string
	Err  error
}

func (e UnknownMintError) Error() string { return fmt.Sprintf("unknown mint %q", e.Mint) }
func (e UnknownMintError) Unwrap() error { return e.Err }

// UntrustedMintError indicates a send or receive was attempted against a
// mint that is not in the trusted set.
type UntrustedMintError struct {
	Mint string
	Err  error
}

func (e UntrustedMintError) Error() string { return fmt.Sprintf("untrusted mint %q", e.Mint) }
func (e UntrustedMintError) Unwrap() error { return e.Err }

// ProofValidationError records a malformed token, unsupported lock script,
// or missing secret encountered while processing a proof.
type ProofValidationError struct {
	Secret  string
	Message string
	Err     error
}

func (e ProofValidationError) Error() string {
	return fmt.Sprintf("proof validation failed for secret %q: %s", e.Secret, e.Message)
}
func (e ProofValidationError) Unwrap() error { return e.Err }

// ProofOperationError aggregates a persistence failure across one or more
// keyset groups; FailedKeysets names every keyset whose proofs could not be
// written.
type ProofOperationError struct {
	Message       string
	FailedKeysets []string
	Err           error
}

func (e ProofOperationError) Error() string {
	return fmt.Sprintf("proof operation failed for keysets %v: %s", e.FailedKeysets, e.Message)
}
func (e ProofOperationError) Unwrap() error { return e.Err }

// MintFetchError carries a network or protocol failure contacting the mint
// for non-keyset endpoints (info, swap, mint, melt, restore, checkstate).
type MintFetchError struct {
	Mint string
	Path string
	Err  error
}

func (e MintFetchError) Error() string {
	return fmt.Sprintf("mint fetch failed: %s %s: %v", e.Mint, e.Path, e.Err)
}
func (e MintFetchError) Unwrap() error { return e.Err }

// KeysetSyncError carries a network or protocol failure while refreshing a
// mint's keyset list or key material.
type KeysetSyncError struct {
	Mint string
	Err  error
}

func (e KeysetSyncError) Error() string { return fmt.Sprintf("keyset sync failed for %s: %v", e.Mint, e.Err) }
func (e KeysetSyncError) Unwrap() error { return e.Err }

// HTTPResponseError carries a non-2xx HTTP response that did not carry a
// mint-protocol {code,detail} error body.
type HTTPResponseError struct {
	StatusCode int
	Message    string
}

func (e HTTPResponseError) Error() string {
	return fmt.Sprintf("http response error: status=%d message=%s", e.StatusCode, e.Message)
}

// MintOperationError carries a mint-returned {code, detail} protocol error.
type MintOperationError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e MintOperationError) Error() string {
	return fmt.Sprintf("mint operation error: code=%s status=%d detail=%s", e.Code, e.StatusCode, e.Detail)
}

// NetworkError carries a transport-level failure: DNS, connect, reset.
type NetworkError struct {
	Mint string
	Err  error
}

func (e NetworkError) Error() string { return fmt.Sprintf("network error reaching %s: %v", e.Mint, e.Err) }
func (e NetworkError) Unwrap() error { return e.Err }

// ConcurrencyStateError records an attempted transition from an invalid
// operation state.
type ConcurrencyStateError struct {
	OperationID string
	FromState   string
	ToState     string
}

func (e ConcurrencyStateError) Error() string {
	return fmt.Sprintf("operation %s cannot transition %s -> %s", e.OperationID, e.FromState, e.ToState)
}

// EntityNotFoundError records an entity absent from a repository.
type EntityNotFoundError struct {
	EntityType string
	Key        string
	Err        error
}

func (e EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.EntityType, e.Key)
}
func (e EntityNotFoundError) Unwrap() error { return e.Err }

// EntityConflictError records an entity that already exists where
// uniqueness is required, e.g. a duplicate (mint, secret) proof.
type EntityConflictError struct {
	EntityType string
	Key        string
	Err        error
}

func (e EntityConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.EntityType, e.Key)
}
func (e EntityConflictError) Unwrap() error { return e.Err }

// InsufficientBalanceError indicates the wallet's available proofs do not
// cover a requested send or melt amount.
type InsufficientBalanceError struct {
	Mint      string
	Requested uint64
	Available uint64
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance at %s: requested %d, available %d", e.Mint, e.Requested, e.Available)
}
