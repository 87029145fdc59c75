// Package progress fans campaign progress snapshots out to subscribers,
// such as the SSE stream of the HTTP API. Snapshots are always recomputed from
// persisted recipient states by the dispatcher, so a dropped message only
// delays an update and never loses state.
package progress

import (
	"context"
	"sync"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

const subscriberBuffer = 16

// Broker publishes and subscribes to progress snapshots per campaign.
type Broker interface {
	Publish(ctx context.Context, p domain.Progress)
	// Subscribe returns a channel of snapshots for one campaign and a cancel
	// func that must be called to release it. The channel is closed on cancel
	// or when ctx is done.
	Subscribe(ctx context.Context, campaignID string) (<-chan domain.Progress, func())
}

// MemoryBroker delivers snapshots within the process. Slow subscribers drop
// messages instead of blocking the publisher.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Progress]struct{}
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan domain.Progress]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, p domain.Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[p.CampaignID] {
		select {
		case ch <- p:
		default:
			// slow subscriber, drop
		}
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context, campaignID string) (<-chan domain.Progress, func()) {
	ch := make(chan domain.Progress, subscriberBuffer)
	b.mu.Lock()
	if b.subs[campaignID] == nil {
		b.subs[campaignID] = make(map[chan domain.Progress]struct{})
	}
	b.subs[campaignID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[campaignID], ch)
			if len(b.subs[campaignID]) == 0 {
				delete(b.subs, campaignID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// Subscribers returns the number of live subscriptions for a campaign.
func (b *MemoryBroker) Subscribers(campaignID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[campaignID])
}
