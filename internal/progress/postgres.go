package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// NotifyChannel is the PostgreSQL NOTIFY channel carrying snapshots.
const NotifyChannel = "campaign_progress"

// PGBroker publishes snapshots with pg_notify and fans the notifications of
// one LISTEN connection out to local subscribers. It is used when Postgres
// is configured without Redis.
type PGBroker struct {
	db    *sql.DB
	local *MemoryBroker
}

// NewPGBroker creates a broker; call Listen to start receiving.
func NewPGBroker(db *sql.DB) *PGBroker {
	return &PGBroker{db: db, local: NewMemoryBroker()}
}

func (b *PGBroker) Publish(ctx context.Context, p domain.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(data)); err != nil {
		logger.Warn("progress notify failed", "campaign_id", p.CampaignID, "error", err)
	}
}

func (b *PGBroker) Subscribe(ctx context.Context, campaignID string) (<-chan domain.Progress, func()) {
	return b.local.Subscribe(ctx, campaignID)
}

// Listen opens a LISTEN connection and forwards notifications until ctx is done.
func (b *PGBroker) Listen(ctx context.Context, connStr string) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("progress listener problem", "event", int(ev), "error", err)
		}
	}
	listener := pq.NewListener(connStr, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return err
	}
	logger.Info("listening for progress notifications", "channel", NotifyChannel)

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n != nil {
					b.deliver(ctx, n.Extra)
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()
	return nil
}

func (b *PGBroker) deliver(ctx context.Context, payload string) {
	var p domain.Progress
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		logger.Warn("invalid progress notification", "error", err)
		return
	}
	b.local.Publish(ctx, p)
}
