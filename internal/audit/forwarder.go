// Package audit forwards HistoryEntry records to the external history
// service over RabbitMQ (§1, §6: reading and rendering history is a
// collaborator's concern; this module only produces and ships the
// records). Adapted from the teacher's connection-and-publish pattern:
// a single long-lived connection and channel, redialed on demand, with
// publishes treated as best-effort — a forwarding failure never blocks
// the operation that produced the entry.
package audit

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Exchange is the topic exchange history entries are published to; the
// external history service owns its own queue bindings.
const Exchange = "wallet.history"

// Forwarder publishes HistoryEntry records produced by the sagas onto
// RabbitMQ. It is wired to the event bus so sagas never import it
// directly — they only emit the lifecycle events it listens for.
type Forwarder struct {
	url    string
	logger mlog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New builds a Forwarder against a RabbitMQ URL. The connection is opened
// lazily on the first Publish call.
func New(url string, logger mlog.Logger) *Forwarder {
	return &Forwarder{url: url, logger: logger}
}

// Attach registers the forwarder's handlers on bus: send/melt/receive
// lifecycle events become HistoryEntry publications (§3 HistoryEntry).
func (f *Forwarder) Attach(bus *eventbus.Bus) {
	bus.On(eventbus.SendFinalized, func(ctx context.Context, payload any) error {
		p, ok := payload.(eventbus.SendLifecyclePayload)
		if !ok {
			return nil
		}

		return f.Publish(ctx, walletcore.HistoryEntry{Kind: walletcore.HistorySend, Mint: p.Mint, OperationID: p.OperationID})
	})

	bus.On(eventbus.MeltQuotePaid, func(ctx context.Context, payload any) error {
		p, ok := payload.(eventbus.MintQuoteStateChangedPayload)
		if !ok {
			return nil
		}

		return f.Publish(ctx, walletcore.HistoryEntry{Kind: walletcore.HistoryMelt, Mint: p.Mint, OperationID: p.QuoteID})
	})

	bus.On(eventbus.MintQuoteRedeemed, func(ctx context.Context, payload any) error {
		p, ok := payload.(eventbus.MintQuoteStateChangedPayload)
		if !ok {
			return nil
		}

		return f.Publish(ctx, walletcore.HistoryEntry{Kind: walletcore.HistoryMint, Mint: p.Mint, OperationID: p.QuoteID})
	})

	bus.On(eventbus.ReceiveCreated, func(ctx context.Context, payload any) error {
		p, ok := payload.(eventbus.ProofsSavedPayload)
		if !ok {
			return nil
		}

		var total uint64
		for _, proof := range p.Proofs {
			total += proof.Amount
		}

		return f.Publish(ctx, walletcore.HistoryEntry{Kind: walletcore.HistoryReceive, Mint: p.Mint, Amount: total})
	})
}

// Publish serializes entry and sends it to Exchange. Errors are returned
// so the event bus logs them, but a forwarding failure never rolls back
// the saga that produced entry.
func (f *Forwarder) Publish(ctx context.Context, entry walletcore.HistoryEntry) error {
	ch, err := f.channel()
	if err != nil {
		f.logger.Warnf("audit: no channel to forward %s entry: %v", entry.Kind, err)
		return err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, Exchange, string(entry.Kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (f *Forwarder) channel() (*amqp.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch != nil && !f.ch.IsClosed() {
		return f.ch, nil
	}

	conn, err := amqp.Dial(f.url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, err
	}

	f.conn = conn
	f.ch = ch

	return ch, nil
}

// Close tears down the connection and channel, if open.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch != nil {
		f.ch.Close()
	}

	if f.conn != nil {
		return f.conn.Close()
	}

	return nil
}
