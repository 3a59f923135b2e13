// Package watchers holds the background reconcilers that keep local state
// in sync with each trusted mint: MintQuoteWatcher and ProofStateWatcher
// subscribe to a mint's websocket feed, and Recover runs the five-step
// startup recovery sequence (§4.7).
package watchers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/transport/subscription"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// SubscriptionManagers resolves the subscription.Manager for a given mint;
// one manager per trusted mint, owned by internal/runner.
type SubscriptionManagers func(mint string) *subscription.Manager

// MintQuoteWatcher mirrors mint-quote state changes pushed over a mint's
// NUT-17 bolt11_mint_quote feed into the local MintQuoteRepository (§4.7).
// On PAID it redeems the quote through proof.Service; on ISSUED it drops
// the subscription.
type MintQuoteWatcher struct {
	store    repository.Store
	bus      *eventbus.Bus
	subs     SubscriptionManagers
	proofs   *proof.Service
	logger   mlog.Logger
	callerID string

	mu        sync.Mutex
	redeeming map[string]struct{}
}

// NewMintQuoteWatcher builds a MintQuoteWatcher.
func NewMintQuoteWatcher(store repository.Store, bus *eventbus.Bus, subs SubscriptionManagers, proofs *proof.Service, logger mlog.Logger) *MintQuoteWatcher {
	return &MintQuoteWatcher{store: store, bus: bus, subs: subs, proofs: proofs, logger: logger, callerID: "mint-quote-watcher", redeeming: make(map[string]struct{})}
}

// Watch subscribes to every quote currently pending for mint, keeping the
// local quote state synchronized as mint-side transitions arrive.
func (w *MintQuoteWatcher) Watch(ctx context.Context, mint string) error {
	mgr := w.subs(mint)
	if mgr == nil {
		return nil
	}

	pending, err := w.store.MintQuotes().ListPendingGroupedByMint(ctx)
	if err != nil {
		return err
	}

	quotes := pending[mint]
	if len(quotes) == 0 {
		return nil
	}

	filters := make([]string, len(quotes))
	for i, q := range quotes {
		filters[i] = q.QuoteID
	}

	mgr.SetHandler(w.callerID, subscription.KindBolt11MintQuote, w.handle(mint))

	return mgr.Subscribe(ctx, w.callerID, subscription.KindBolt11MintQuote, filters)
}

// WatchOne adds a single newly-created quote to the live subscription set,
// called right after CreateMintQuote persists it.
func (w *MintQuoteWatcher) WatchOne(ctx context.Context, mint, quoteID string) error {
	mgr := w.subs(mint)
	if mgr == nil {
		return nil
	}

	mgr.SetHandler(w.callerID, subscription.KindBolt11MintQuote, w.handle(mint))

	return mgr.Subscribe(ctx, w.callerID, subscription.KindBolt11MintQuote, []string{quoteID})
}

func (w *MintQuoteWatcher) handle(mint string) subscription.Handler {
	return func(n subscription.Notification) {
		var payload struct {
			Quote string `json:"quote"`
			State string `json:"state"`
		}

		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			w.logger.Warnf("mint-quote-watcher: malformed payload for %s: %v", mint, err)
			return
		}

		state := walletcore.MintQuoteState(payload.State)

		ctx := context.Background()

		if err := w.store.MintQuotes().SetState(ctx, mint, payload.Quote, state); err != nil {
			w.logger.Warnf("mint-quote-watcher: persist state for %s/%s failed: %v", mint, payload.Quote, err)
			return
		}

		w.bus.Emit(ctx, eventbus.MintQuoteStateChanged, eventbus.MintQuoteStateChangedPayload{Mint: mint, QuoteID: payload.Quote, State: state})

		if state == walletcore.MintQuotePaid {
			w.redeem(ctx, mint, payload.Quote)
		}

		if !state.Pending() {
			if err := w.subs(mint).Unsubscribe(ctx, w.callerID, subscription.KindBolt11MintQuote, []string{payload.Quote}); err != nil {
				w.logger.Warnf("mint-quote-watcher: unsubscribe %s/%s failed: %v", mint, payload.Quote, err)
			}
		}
	}
}

// redeem mints proofs for a PAID quote (§4.7). A per-(mint,quote) inflight
// set deduplicates concurrent or repeated PAID notifications for the same
// quote; a failed redeem leaves the quote PAID and the subscription live,
// so a later notification or the recovery sweep can retry it.
func (w *MintQuoteWatcher) redeem(ctx context.Context, mint, quoteID string) {
	key := mint + "/" + quoteID

	w.mu.Lock()
	if _, already := w.redeeming[key]; already {
		w.mu.Unlock()
		return
	}

	w.redeeming[key] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.redeeming, key)
		w.mu.Unlock()
	}()

	quote, err := w.store.MintQuotes().Get(ctx, mint, quoteID)
	if err != nil {
		w.logger.Warnf("mint-quote-watcher: load quote %s/%s failed: %v", mint, quoteID, err)
		return
	}

	if _, err := w.proofs.RedeemMintQuote(ctx, mint, quoteID, quote.Amount, quote.Unit); err != nil {
		w.logger.Warnf("mint-quote-watcher: redeem %s/%s failed: %v", mint, quoteID, err)
	}
}
