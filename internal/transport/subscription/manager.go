// Package subscription is the JSON-RPC 2.0 over websocket subscription
// manager for a single mint's NUT-17 feed (§4.7). It multiplexes many
// internal callers (watchers) onto shared wire subscriptions, opening new
// ones of at most 100 filters for filters not yet wired, and shrinks the
// wire subscription set as callers unsubscribe.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
)

// Handler receives one matched notification for a filter the caller is
// subscribed to.
type Handler func(n Notification)

// Manager owns one lazily-connected websocket to one mint.
type Manager struct {
	url    string
	mint   string
	logger mlog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   int64
	pending  map[int64]chan rpcResponse
	groups   map[Kind]*kindGroup
	closed   bool
	closeErr error
}

type kindGroup struct {
	// callerFilters[callerID] is the set of filters that caller wants.
	callerFilters map[string]map[string]struct{}
	handlers      map[string]Handler
	// filterCallers[filter] is the set of callers interested in it, the
	// reverse index used to dispatch incoming notifications.
	filterCallers map[string]map[string]struct{}
	// wireSubs maps a live subId to the set of filters it currently covers.
	// Each wire subscription is an independent batch: new filters open new
	// batches rather than topping up an existing one, and a batch is
	// unsubscribed exactly once, when its own filter set empties out.
	wireSubs map[string]map[string]struct{}
}

func newKindGroup() *kindGroup {
	return &kindGroup{
		callerFilters: make(map[string]map[string]struct{}),
		handlers:      make(map[string]Handler),
		filterCallers: make(map[string]map[string]struct{}),
		wireSubs:      make(map[string]map[string]struct{}),
	}
}

// New builds a Manager for a mint's websocket URL (e.g.
// wss://mint.example.com/v1/ws). The connection is not opened until the
// first Subscribe call.
func New(mint, url string, logger mlog.Logger) *Manager {
	return &Manager{
		url:     url,
		mint:    mint,
		logger:  logger,
		pending: make(map[int64]chan rpcResponse),
		groups:  make(map[Kind]*kindGroup),
	}
}

// Subscribe registers callerID's interest in filters for kind (§4.7).
// Filters already covered by a wire subscription share it; the rest go out
// in new wire subscriptions, and existing ones are left untouched.
// Notifications for the caller's filters go to the handler registered for
// (callerID, kind) with SetHandler.
func (m *Manager) Subscribe(ctx context.Context, callerID string, kind Kind, filters []string) error {
	if len(filters) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(ctx); err != nil {
		return err
	}

	g := m.groupLocked(kind)

	set, ok := g.callerFilters[callerID]
	if !ok {
		set = make(map[string]struct{})
		g.callerFilters[callerID] = set
	}

	wired := g.wiredFilters()

	var toAdd []string

	for _, f := range filters {
		set[f] = struct{}{}

		if _, ok := g.filterCallers[f]; !ok {
			g.filterCallers[f] = make(map[string]struct{})
		}

		g.filterCallers[f][callerID] = struct{}{}

		if _, ok := wired[f]; !ok {
			wired[f] = struct{}{}
			toAdd = append(toAdd, f)
		}
	}

	return m.addFiltersLocked(ctx, kind, g, toAdd)
}

// SetHandler registers the notification handler for (callerID, kind). Call
// before or after Subscribe; with a nil handler, notifications for this
// caller are dropped silently.
func (m *Manager) SetHandler(callerID string, kind Kind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groupLocked(kind).handlers[callerID] = handler
}

// Unsubscribe removes callerID's interest in filters for kind and shrinks
// the underlying wire subscription set accordingly. Unsubscribing a filter
// no other caller holds drops it from the mint's feed; unsubscribing a
// filter that was never held is a no-op (idempotent).
func (m *Manager) Unsubscribe(ctx context.Context, callerID string, kind Kind, filters []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[kind]
	if !ok {
		return nil
	}

	set, ok := g.callerFilters[callerID]
	if !ok {
		return nil
	}

	var toRemove []string

	for _, f := range filters {
		delete(set, f)

		if callers, ok := g.filterCallers[f]; ok {
			delete(callers, callerID)

			if len(callers) == 0 {
				delete(g.filterCallers, f)
				toRemove = append(toRemove, f)
			}
		}
	}

	if len(set) == 0 {
		delete(g.callerFilters, callerID)
		delete(g.handlers, callerID)
	}

	return m.removeFiltersLocked(ctx, kind, g, toRemove)
}

// Close tears down the websocket connection, if one is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	if m.conn == nil {
		return nil
	}

	err := m.conn.Close()
	m.conn = nil

	return err
}

func (m *Manager) groupLocked(kind Kind) *kindGroup {
	g, ok := m.groups[kind]
	if !ok {
		g = newKindGroup()
		m.groups[kind] = g
	}

	return g
}

// wiredFilters returns the union of filters covered by every current wire
// subscription in the group.
func (g *kindGroup) wiredFilters() map[string]struct{} {
	wired := make(map[string]struct{}, len(g.filterCallers))

	for _, filters := range g.wireSubs {
		for f := range filters {
			wired[f] = struct{}{}
		}
	}

	return wired
}

// addFiltersLocked opens new wire subscriptions, batched at
// maxFiltersPerSubscribe filters each, for filters not already covered by
// any existing batch (§4.7, §8 scenario 6). It never touches an existing
// wire subscription: a batch's membership is fixed at creation and only
// shrinks via removeFiltersLocked.
func (m *Manager) addFiltersLocked(ctx context.Context, kind Kind, g *kindGroup, toAdd []string) error {
	for start := 0; start < len(toAdd); start += maxFiltersPerSubscribe {
		end := start + maxFiltersPerSubscribe
		if end > len(toAdd) {
			end = len(toAdd)
		}

		chunk := toAdd[start:end]

		subID, err := m.subscribeWireLocked(ctx, kind, chunk)
		if err != nil {
			return err
		}

		set := make(map[string]struct{}, len(chunk))
		for _, f := range chunk {
			set[f] = struct{}{}
		}

		g.wireSubs[subID] = set
	}

	return nil
}

// removeFiltersLocked drops toRemove from whichever batch currently holds
// each filter. A batch's underlying wire unsubscribe is issued exactly once,
// the moment its own remaining filter set reaches zero — other batches in
// the same group are left wired (§8 scenario 6).
func (m *Manager) removeFiltersLocked(ctx context.Context, kind Kind, g *kindGroup, toRemove []string) error {
	if len(toRemove) == 0 {
		return nil
	}

	for subID, filters := range g.wireSubs {
		changed := false

		for _, f := range toRemove {
			if _, ok := filters[f]; ok {
				delete(filters, f)
				changed = true
			}
		}

		if !changed || len(filters) > 0 {
			continue
		}

		if err := m.unsubscribeWireLocked(ctx, subID); err != nil {
			m.logger.Warnf("subscription: unsubscribe %s failed: %v", subID, err)
		}

		delete(g.wireSubs, subID)
	}

	return nil
}

func (m *Manager) subscribeWireLocked(ctx context.Context, kind Kind, filters []string) (string, error) {
	subID := fmt.Sprintf("%s-%d", strings.ReplaceAll(string(kind), "_", "-"), m.nextID+1)

	_, err := m.callLocked(ctx, "subscribe", subscribeParams{Kind: kind, Filters: filters, SubID: subID})
	if err != nil {
		return "", err
	}

	return subID, nil
}

func (m *Manager) unsubscribeWireLocked(ctx context.Context, subID string) error {
	_, err := m.callLocked(ctx, "unsubscribe", unsubscribeParams{SubID: subID})
	return err
}

// callLocked sends a JSON-RPC request and waits for its matched response.
// Caller must hold m.mu; it is released while waiting and re-acquired on
// return so the read loop can deliver the response concurrently.
func (m *Manager) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.nextID++
	id := m.nextID

	ch := make(chan rpcResponse, 1)
	m.pending[id] = ch

	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}

	conn := m.conn

	m.mu.Unlock()
	err := conn.WriteJSON(req)
	m.mu.Lock()

	if err != nil {
		delete(m.pending, id)
		return nil, merrors.NetworkError{Mint: m.mint, Err: err}
	}

	m.mu.Unlock()

	var resp rpcResponse

	select {
	case resp = <-ch:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)

		return nil, ctx.Err()
	}

	m.mu.Lock()

	if resp.Error != nil {
		return nil, merrors.MintOperationError{Code: fmt.Sprintf("%d", resp.Error.Code), Detail: resp.Error.Message}
	}

	return resp.Result, nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.conn != nil {
		return nil
	}

	if m.closed {
		return merrors.NetworkError{Mint: m.mint, Err: fmt.Errorf("subscription manager closed")}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return merrors.NetworkError{Mint: m.mint, Err: err}
	}

	m.conn = conn

	go m.readLoop(conn)

	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warnf("subscription: read loop for %s ended: %v", m.mint, err)
			return
		}

		m.dispatch(raw)
	}
}

func (m *Manager) dispatch(raw []byte) {
	var probe struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		m.logger.Warnf("subscription: malformed frame from %s: %v", m.mint, err)
		return
	}

	if probe.ID != nil {
		m.dispatchResponse(*probe.ID, raw)
		return
	}

	if probe.Method == "subscribe" {
		m.dispatchNotification(raw)
	}
}

func (m *Manager) dispatchResponse(id int64, raw []byte) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	if !ok {
		return
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}

	ch <- resp
}

func (m *Manager) dispatchNotification(raw []byte) {
	var frame notifyFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}

	m.mu.Lock()

	var (
		kind     Kind
		filter   string
		found    bool
		handlers []Handler
	)

	for k, g := range m.groups {
		for subID, filters := range g.wireSubs {
			if subID != frame.Params.SubID {
				continue
			}

			key, ok := filterKey(k, frame.Params.Payload)
			if !ok {
				continue
			}

			if _, ok := filters[key]; !ok {
				continue
			}

			kind, filter, found = k, key, true

			for callerID := range g.filterCallers[key] {
				if h, ok := g.handlers[callerID]; ok && h != nil {
					handlers = append(handlers, h)
				}
			}
		}
	}

	m.mu.Unlock()

	if !found {
		return
	}

	n := Notification{Kind: kind, Filter: filter, Payload: frame.Params.Payload}
	for _, h := range handlers {
		h(n)
	}
}
