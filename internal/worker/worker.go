// Package worker consumes refresh requests from the EventBus and runs the
// scheduled cache jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/activity"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Refresher force-refreshes kinds of a ticker.
type Refresher interface {
	RefreshTicker(ctx context.Context, ticker string, kinds []domain.Kind) (map[domain.Kind]*activity.KindResult, error)
}

// Worker processes refresh requests asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	refresher Refresher
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a refresh worker.
func NewWorker(eventBus domain.EventBus, refresher Refresher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		refresher: refresher,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to refresh requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRefreshRequested, w.handleRefresh)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRefreshRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("refresh worker started",
		"topic", domain.TopicRefreshRequested,
	)
	return nil
}

// handleRefresh runs one refresh request and publishes its outcome.
func (w *Worker) handleRefresh(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.RefreshRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.count(false)
		w.logger.Error("failed to parse refresh request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	w.logger.Debug("processing refresh request",
		"ticker", req.Ticker,
		"request_id", req.RequestID,
		"kinds", len(req.Kinds),
	)

	results, err := w.refresher.RefreshTicker(ctx, req.Ticker, req.Kinds)
	if err != nil {
		w.count(false)
		w.logger.Error("refresh request rejected",
			"ticker", req.Ticker,
			"request_id", req.RequestID,
			"error", err,
		)
		return err
	}

	out := domain.RefreshResult{
		Ticker:    domain.NormalizeTicker(req.Ticker),
		RequestID: req.RequestID,
		Refreshed: make([]domain.Kind, 0, len(results)),
	}
	for kind, r := range results {
		if r.Status == activity.StatusOK {
			out.Refreshed = append(out.Refreshed, kind)
			continue
		}
		if out.Failed == nil {
			out.Failed = make(map[domain.Kind]string)
		}
		out.Failed[kind] = r.Error
	}
	sort.Slice(out.Refreshed, func(i, j int) bool { return out.Refreshed[i] < out.Refreshed[j] })
	out.DurationMs = time.Since(start).Milliseconds()
	w.count(len(out.Failed) == 0)

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicRefreshCompleted, out); err != nil {
		w.logger.Error("failed to publish refresh result",
			"ticker", out.Ticker,
			"request_id", out.RequestID,
			"error", err,
		)
	}

	w.logger.Info("refresh processed",
		"ticker", out.Ticker,
		"request_id", out.RequestID,
		"refreshed", len(out.Refreshed),
		"failed", len(out.Failed),
		"duration_ms", out.DurationMs,
	)
	return nil
}

func (w *Worker) count(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop unsubscribes and cancels in-flight refreshes.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.logger.Info("refresh worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
