package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/pkg/mlog"
)

// fakeMint is a minimal NUT-17 websocket server: it ACKs every
// subscribe/unsubscribe request and records how many filters each
// subscribe call carried, so tests can assert on batching.
type fakeMint struct {
	mu         sync.Mutex
	subscribes [][]string
	conn       *websocket.Conn
}

func newFakeMint(t *testing.T) (*fakeMint, *httptest.Server) {
	fm := &fakeMint{}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		fm.mu.Lock()
		fm.conn = conn
		fm.mu.Unlock()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			switch req.Method {
			case "subscribe":
				var params subscribeParams

				b, _ := json.Marshal(req.Params)
				_ = json.Unmarshal(b, &params)

				fm.mu.Lock()
				fm.subscribes = append(fm.subscribes, params.Filters)
				fm.mu.Unlock()

				_ = conn.WriteJSON(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)})
			case "unsubscribe":
				_ = conn.WriteJSON(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)})
			}
		}
	}))

	return fm, srv
}

func (fm *fakeMint) notify(t *testing.T, subID string, payload string) {
	fm.mu.Lock()
	conn := fm.conn
	fm.mu.Unlock()

	require.NotNil(t, conn)

	frame := notifyFrame{JSONRPC: "2.0", Method: "subscribe"}
	frame.Params.SubID = subID
	frame.Params.Payload = json.RawMessage(payload)

	require.NoError(t, conn.WriteJSON(frame))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestManagerSubscribeDeliversNotification(t *testing.T) {
	fm, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	received := make(chan Notification, 1)
	m.SetHandler("watcher-1", KindProofState, func(n Notification) { received <- n })

	require.NoError(t, m.Subscribe(context.Background(), "watcher-1", KindProofState, []string{"Y1"}))

	var subID string

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()

		for id := range m.groups[KindProofState].wireSubs {
			subID = id
			return true
		}

		return false
	}, time.Second, 10*time.Millisecond)

	fm.notify(t, subID, `{"Y":"Y1","state":"SPENT"}`)

	select {
	case n := <-received:
		require.Equal(t, "Y1", n.Filter)
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestManagerBatchesOver100Filters(t *testing.T) {
	_, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	filters := make([]string, 150)
	for i := range filters {
		filters[i] = string(rune('a')) + string(rune(i))
	}

	require.NoError(t, m.Subscribe(context.Background(), "watcher-1", KindProofState, filters))

	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.groups[KindProofState]
	require.Len(t, g.wireSubs, 2, "150 filters must split across two wire subscriptions")

	total := 0
	for _, fs := range g.wireSubs {
		require.LessOrEqual(t, len(fs), maxFiltersPerSubscribe)
		total += len(fs)
	}

	require.Equal(t, 150, total)
}

func TestManagerUnsubscribeDropsUnreferencedFilter(t *testing.T) {
	_, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "watcher-1", KindProofState, []string{"Y1", "Y2"}))
	require.NoError(t, m.Subscribe(ctx, "watcher-2", KindProofState, []string{"Y2"}))

	require.NoError(t, m.Unsubscribe(ctx, "watcher-1", KindProofState, []string{"Y1", "Y2"}))

	m.mu.Lock()
	g := m.groups[KindProofState]
	_, stillWanted := g.filterCallers["Y2"]
	_, gone := g.filterCallers["Y1"]
	m.mu.Unlock()

	require.True(t, stillWanted, "watcher-2 still wants Y2")
	require.False(t, gone, "Y1 must be dropped once no caller wants it")
}

func TestManagerSubscribeAddsWithoutTearingDownExistingBatches(t *testing.T) {
	fm, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "watcher-1", KindProofState, []string{"Y1", "Y2"}))

	m.mu.Lock()
	var firstSubID string
	for id := range m.groups[KindProofState].wireSubs {
		firstSubID = id
	}
	m.mu.Unlock()

	require.NoError(t, m.Subscribe(ctx, "watcher-2", KindProofState, []string{"Y3"}))

	m.mu.Lock()
	g := m.groups[KindProofState]
	_, firstStillWired := g.wireSubs[firstSubID]
	require.True(t, firstStillWired, "adding a new filter must not tear down an existing batch")
	require.Len(t, g.wireSubs, 2, "a new filter opens its own batch rather than reusing an existing one")
	m.mu.Unlock()

	fm.mu.Lock()
	require.Len(t, fm.subscribes, 2, "the existing batch must not be re-subscribed when a new filter is added")
	fm.mu.Unlock()
}

func TestManagerUnsubscribeIssuesWireUnsubscribeOnlyOnceBatchEmpties(t *testing.T) {
	_, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "watcher-1", KindProofState, []string{"Y1", "Y2"}))

	m.mu.Lock()
	g := m.groups[KindProofState]
	require.Len(t, g.wireSubs, 1)
	m.mu.Unlock()

	require.NoError(t, m.Unsubscribe(ctx, "watcher-1", KindProofState, []string{"Y1"}))

	m.mu.Lock()
	require.Len(t, g.wireSubs, 1, "the batch survives while one of its filters is still wanted")
	for _, filters := range g.wireSubs {
		_, hasY1 := filters["Y1"]
		_, hasY2 := filters["Y2"]
		require.False(t, hasY1)
		require.True(t, hasY2)
	}
	m.mu.Unlock()

	require.NoError(t, m.Unsubscribe(ctx, "watcher-1", KindProofState, []string{"Y2"}))

	m.mu.Lock()
	require.Empty(t, g.wireSubs, "the batch's wire unsubscribe fires once its remaining filter set reaches zero")
	m.mu.Unlock()
}

func TestManagerUnsubscribeUnknownCallerIsNoop(t *testing.T) {
	_, srv := newFakeMint(t)
	defer srv.Close()

	m := New("mint", wsURL(srv.URL), mlog.NoneLogger{})
	defer m.Close()

	require.NoError(t, m.Unsubscribe(context.Background(), "nobody", KindProofState, []string{"Y1"}))
}
