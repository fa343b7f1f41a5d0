package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Event string

const (
	EventSubmitted Event = "run.submitted"
	EventClaimed   Event = "run.claimed"
	EventCompleted Event = "run.completed"
	EventFailed    Event = "run.failed"
)

type Notifier interface {
	Publish(ctx context.Context, event Event, runID uuid.UUID, detail string)
}

type message struct {
	Event  Event     `json:"event"`
	RunID  uuid.UUID `json:"run_id"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// redisNotifier publishes run lifecycle events on a pub/sub channel and
// mirrors the latest event per run into a hash with a TTL, so the UI
// layer can poll cheaply without hitting Postgres.
//
// Claims never go through here: worker coordination lives entirely in
// the database. Losing Redis only loses notifications.
type redisNotifier struct {
	rdb       *redis.Client
	channel   string
	statusKey string
	ttl       time.Duration
}

func NewRedisNotifier(rdb *redis.Client, channel, statusKey string, ttl time.Duration) Notifier {
	return &redisNotifier{rdb: rdb, channel: channel, statusKey: statusKey, ttl: ttl}
}

func (n *redisNotifier) Publish(ctx context.Context, event Event, runID uuid.UUID, detail string) {
	payload, err := json.Marshal(message{Event: event, RunID: runID, Detail: detail, At: time.Now().UTC()})
	if err != nil {
		return
	}

	// Best effort on both writes: a failed notification must never fail
	// the run it describes.
	_ = n.rdb.Publish(ctx, n.channel, payload).Err()
	pipe := n.rdb.Pipeline()
	pipe.HSet(ctx, n.statusKey, runID.String(), payload)
	pipe.Expire(ctx, n.statusKey, n.ttl)
	_, _ = pipe.Exec(ctx)
}

// Nop is used when no Redis endpoint is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event, uuid.UUID, string) {}
