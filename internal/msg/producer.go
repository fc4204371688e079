package msg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Publisher streams run results (trades, equity samples, run markers) to
// Kafka. Trades are keyed by trade id so downstream consumers can detect
// duplicate deliveries.
type Publisher struct {
	client       *kgo.Client
	logger       *zap.Logger
	produceCount int64
	errorCount   int64
}

// NewPublisher creates a Kafka publisher for the results stream
func NewPublisher(brokers []string, logger *zap.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DisableIdempotentWrite(), // duplicates are caught by trade-id keys downstream
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	p := &Publisher{
		client: client,
		logger: logger,
	}

	logger.Info("publisher initialized",
		zap.Strings("brokers", brokers),
	)

	return p, nil
}

// PublishTrade publishes one closed trade, keyed by its trade id.
func (p *Publisher) PublishTrade(ctx context.Context, runID string, t event.Trade) error {
	m := TradeMsg{
		RunID:           runID,
		TradeID:         t.ID,
		PairID:          t.PairID,
		Symbol:          t.Symbol,
		Side:            string(t.Side),
		Qty:             t.Qty,
		EntryPrice:      t.EntryPrice,
		ExitPrice:       t.ExitPrice,
		EntryUnixMillis: t.EntryTime.UnixMilli(),
		ExitUnixMillis:  t.ExitTime.UnixMilli(),
		PnL:             t.PnL,
		Commission:      t.Commission,
		Group:           t.Group,
	}
	return p.produceJSON(ctx, TopicTrades, t.ID, m)
}

// PublishEquity publishes one equity-curve sample, keyed by run id.
func (p *Publisher) PublishEquity(ctx context.Context, m EquityMsg) error {
	return p.produceJSON(ctx, TopicEquity, m.RunID, m)
}

// PublishRunDone publishes the end-of-run marker.
func (p *Publisher) PublishRunDone(ctx context.Context, m RunDoneMsg) error {
	return p.produceJSON(ctx, TopicRuns, m.RunID, m)
}

// produceJSON produces a JSON message to the specified topic
func (p *Publisher) produceJSON(ctx context.Context, topic string, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}

	// Synchronous produce with timeout
	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, record)
	if result.FirstErr() != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to produce message: %w", result.FirstErr())
	}

	atomic.AddInt64(&p.produceCount, 1)
	return nil
}

// Stats returns produced and errored message counts.
func (p *Publisher) Stats() (produced, errors int64) {
	return atomic.LoadInt64(&p.produceCount), atomic.LoadInt64(&p.errorCount)
}

// Close closes the publisher
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
