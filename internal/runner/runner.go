// Package runner owns the wallet core's long-lived goroutines: one
// subscription.Manager and mintclient.Client pair per trusted mint, and
// the startup recovery sequence, adapted from the teacher's
// Launcher/App pattern of a single struct that starts everything and
// waits on a WaitGroup until Stop is called.
package runner

import (
	"context"
	"net/http"
	"sync"

	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/internal/transport/subscription"
	"github.com/lerianwallet/ecash-core/internal/watchers"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
)

// Runner holds one mintclient.Client and one subscription.Manager per
// trusted mint, constructed on demand and torn down together.
type Runner struct {
	store    repository.Store
	recovery *watchers.Recovery
	logger   mlog.Logger

	wsURLFor func(mint string) string

	mu      sync.Mutex
	clients map[string]*mintclient.Client
	subs    map[string]*subscription.Manager
}

// New builds a Runner. wsURLFor derives a mint's websocket URL (e.g. by
// swapping the http(s) scheme for ws(s) and appending "/v1/ws") from its
// normalized HTTP base URL.
func New(store repository.Store, recovery *watchers.Recovery, wsURLFor func(mint string) string, logger mlog.Logger) *Runner {
	return &Runner{
		store:    store,
		recovery: recovery,
		wsURLFor: wsURLFor,
		logger:   logger,
		clients:  make(map[string]*mintclient.Client),
		subs:     make(map[string]*subscription.Manager),
	}
}

// MintClient returns (building if necessary) the mintclient.Client for
// mint, satisfying proof.ClientFactory / send/melt saga ClientFactory.
func (r *Runner) MintClient(mint string) *mintclient.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[mint]; ok {
		return c
	}

	c := mintclient.New(mint, &http.Client{}, r.logger)
	r.clients[mint] = c

	return c
}

// SubscriptionManager returns (building if necessary) the
// subscription.Manager for mint, satisfying watchers.SubscriptionManagers.
func (r *Runner) SubscriptionManager(mint string) *subscription.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.subs[mint]; ok {
		return m
	}

	m := subscription.New(mint, r.wsURLFor(mint), r.logger)
	r.subs[mint] = m

	return m
}

// Start pre-builds a client and subscription manager for every currently
// trusted mint, then runs the five-step startup recovery sequence
// (§4.7). Recovery runs synchronously so Start does not return until the
// wallet's local state is caught up with every reachable trusted mint.
func (r *Runner) Start(ctx context.Context) error {
	mints, err := r.store.Mints().List(ctx)
	if err != nil {
		return err
	}

	for _, m := range mints {
		if !m.Trusted {
			continue
		}

		r.MintClient(m.URL)
		r.SubscriptionManager(m.URL)
	}

	return r.recovery.Run(ctx)
}

// Stop closes every subscription manager this runner opened.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for mint, m := range r.subs {
		if err := m.Close(); err != nil {
			r.logger.Warnf("runner: close subscription manager for %s: %v", mint, err)
		}
	}
}

// TrustMint adds mint to the trusted set's live infrastructure: a client
// and subscription manager, and starts its watchers. Call after
// MintRepository.SetTrusted(mint, true) commits.
func (r *Runner) TrustMint(ctx context.Context, mint string, mintQuotes *watchers.MintQuoteWatcher, proofState *watchers.ProofStateWatcher) error {
	r.MintClient(mint)
	r.SubscriptionManager(mint)

	if err := mintQuotes.Watch(ctx, mint); err != nil {
		return err
	}

	return proofState.Watch(ctx, mint)
}

// UntrustMint tears down mint's live infrastructure. Call after
// MintRepository.SetTrusted(mint, false) commits and the MintUntrusted
// event has been emitted (ProofStateWatcher.Forget runs from that event
// handler, not from here, so it always runs exactly once per revocation).
func (r *Runner) UntrustMint(mint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.subs[mint]; ok {
		if err := m.Close(); err != nil {
			r.logger.Warnf("runner: close subscription manager for %s: %v", mint, err)
		}

		delete(r.subs, mint)
	}

	delete(r.clients, mint)
}
