package walletcache

import (
	"sort"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// FeesForProofs sums the per-keyset input fee across proofs, grouping by
// KeysetID since each keyset carries its own FeePPK (§4.4 "fee
// computation").
func FeesForProofs(proofs []walletcore.Proof, keysetsByID map[string]walletcore.Keyset) uint64 {
	counts := make(map[string]int, len(keysetsByID))

	for _, p := range proofs {
		counts[p.KeysetID]++
	}

	var total uint64

	for keysetID, n := range counts {
		if k, ok := keysetsByID[keysetID]; ok {
			total += k.FeeForInputs(n)
		}
	}

	return total
}

// SelectProofsToSend picks the proofs to spend on a send of amount (§4.4
// "proof selection algorithm"). It first searches for an exact covering
// subset whose sum equals amount plus the input fee that subset itself
// incurs, so the send can go out as-is with no swap (§8 scenario 1). If
// no exact cover exists, a swap is unavoidable anyway, so it consolidates
// every available proof as input rather than minimizing the set further
// (§8 scenario 2): once change is due, spending everything avoids leaving
// the wallet fragmented across many small proofs.
func SelectProofsToSend(available []walletcore.Proof, amount uint64, keysetsByID map[string]walletcore.Keyset) ([]walletcore.Proof, error) {
	sorted := make([]walletcore.Proof, len(available))
	copy(sorted, available)

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	if exact := findExactCover(sorted, amount, keysetsByID); exact != nil {
		return exact, nil
	}

	var total uint64
	for _, p := range available {
		total += p.Amount
	}

	fee := FeesForProofs(available, keysetsByID)
	if len(available) == 0 || total < amount+fee {
		return nil, merrors.InsufficientBalanceError{Requested: amount + fee, Available: total}
	}

	return append([]walletcore.Proof{}, available...), nil
}

// findExactCover depth-first searches candidates (already sorted largest
// first, for fast convergence on the common single-proof case) for a
// subset summing exactly to amount plus its own input fee. Sums only grow
// as proofs are added and FeeForInputs never decreases with more inputs,
// so any branch that overshoots is pruned rather than explored further.
// Returns nil if no exact subset exists.
func findExactCover(candidates []walletcore.Proof, amount uint64, keysetsByID map[string]walletcore.Keyset) []walletcore.Proof {
	var walk func(start int, selected []walletcore.Proof, sum uint64) []walletcore.Proof

	walk = func(start int, selected []walletcore.Proof, sum uint64) []walletcore.Proof {
		fee := FeesForProofs(selected, keysetsByID)

		if len(selected) > 0 && sum == amount+fee {
			return selected
		}

		if sum > amount+fee {
			return nil
		}

		for i := start; i < len(candidates); i++ {
			next := append(append([]walletcore.Proof{}, selected...), candidates[i])

			if found := walk(i+1, next, sum+candidates[i].Amount); found != nil {
				return found
			}
		}

		return nil
	}

	return walk(0, nil, 0)
}
