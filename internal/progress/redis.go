package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// RedisBroker publishes snapshots on a Redis channel per campaign so every
// API replica can stream progress of a campaign dispatched elsewhere.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker creates a broker on the given client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func channel(campaignID string) string {
	return "campaign:progress:" + campaignID
}

func (b *RedisBroker) Publish(ctx context.Context, p domain.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, channel(p.CampaignID), data).Err(); err != nil {
		logger.Warn("progress publish failed", "campaign_id", p.CampaignID, "error", err)
	}
}

func (b *RedisBroker) Subscribe(ctx context.Context, campaignID string) (<-chan domain.Progress, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.rdb.Subscribe(ctx, channel(campaignID))
	// Wait for the subscription confirmation so no snapshot published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Warn("progress subscribe failed", "campaign_id", campaignID, "error", err)
	}
	out := make(chan domain.Progress, subscriberBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var p domain.Progress
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				select {
				case out <- p:
				default:
				}
			}
		}
	}()

	return out, cancel
}
