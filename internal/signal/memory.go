package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const memoryRedeliveries = 3

// MemoryBus is an in-process Bus for single-binary deployments and tests.
// Each published signal is dispatched on its own goroutine and redelivered a
// bounded number of times when a handler errors, mirroring the at-least-once
// contract of the broker-backed bus.
type MemoryBus struct {
	logger *slog.Logger

	mu                sync.Mutex
	sendRequested     []SendRequestedHandler
	campaignCompleted []CampaignCompletedHandler

	wg     sync.WaitGroup
	closed chan struct{}
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		logger: logger.With("component", "membus"),
		closed: make(chan struct{}),
	}
}

func (b *MemoryBus) PublishSendRequested(ctx context.Context, sig SendRequested) error {
	b.mu.Lock()
	handlers := make([]SendRequestedHandler, len(b.sendRequested))
	copy(handlers, b.sendRequested)
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(KeySendRequested, func(ctx context.Context) error { return h(ctx, sig) })
	}
	return nil
}

func (b *MemoryBus) PublishCampaignCompleted(ctx context.Context, sig CampaignCompleted) error {
	b.mu.Lock()
	handlers := make([]CampaignCompletedHandler, len(b.campaignCompleted))
	copy(handlers, b.campaignCompleted)
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(KeyCampaignCompleted, func(ctx context.Context) error { return h(ctx, sig) })
	}
	return nil
}

// deliver runs the handler with bounded redelivery on error.
func (b *MemoryBus) deliver(key string, invoke func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		for attempt := 1; attempt <= memoryRedeliveries; attempt++ {
			select {
			case <-b.closed:
				return
			default:
			}

			err := invoke(context.Background())
			if err == nil {
				return
			}
			b.logger.Error("signal handler failed", "routing_key", key, "attempt", attempt, "error", err)
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
		b.logger.Error("signal dropped after redeliveries", "routing_key", key)
	}()
}

func (b *MemoryBus) SubscribeSendRequested(h SendRequestedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendRequested = append(b.sendRequested, h)
}

func (b *MemoryBus) SubscribeCampaignCompleted(h CampaignCompletedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.campaignCompleted = append(b.campaignCompleted, h)
}

// Run blocks until the context is cancelled; dispatch happens per publish.
func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close stops redelivery loops and waits for in-flight handlers.
func (b *MemoryBus) Close() error {
	close(b.closed)
	b.wg.Wait()
	return nil
}
