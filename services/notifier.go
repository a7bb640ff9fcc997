package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// NotificationKind names the template the delivery service renders.
type NotificationKind string

const (
	NotifyMatchReported      NotificationKind = "match_reported"
	NotifyConfirmationNeeded NotificationKind = "confirmation_reminder"
	NotifyMatchConfirmed     NotificationKind = "match_confirmed"
	NotifyMatchAutoValidated NotificationKind = "match_auto_validated"
	NotifyMatchContested     NotificationKind = "match_contested"
	NotifyMatchResolved      NotificationKind = "match_resolved"
	NotifyInactivityDecay    NotificationKind = "inactivity_decay"
)

// Notifier hands a notification to the delivery service. Callers treat it as
// fire-and-forget: an error is logged, never propagated into a transition.
type Notifier interface {
	Notify(ctx context.Context, playerID string, kind NotificationKind, payload map[string]interface{}) error
}

// Notification is the message published on the notification channel.
type Notification struct {
	Type     NotificationKind       `json:"type"`
	PlayerID string                 `json:"player"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	SentAt   time.Time              `json:"sentAt"`
}

// RedisNotifier publishes JSON notifications on a pub/sub channel consumed by
// the delivery service.
type RedisNotifier struct {
	Client  *redis.Client
	Channel string
	Clock   clockwork.Clock
}

func NewRedisNotifier(client *redis.Client, channel string, clock clockwork.Clock) *RedisNotifier {
	if channel == "" {
		channel = "notifications"
	}
	return &RedisNotifier{Client: client, Channel: channel, Clock: clock}
}

// NewRedisClient connects to Redis and pings it once.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	log.Printf("Connected to Redis at %s", addr)
	return rdb, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, playerID string, kind NotificationKind, payload map[string]interface{}) error {
	msg, err := json.Marshal(Notification{
		Type:     kind,
		PlayerID: playerID,
		Payload:  payload,
		SentAt:   n.Clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", kind, err)
	}
	if err := n.Client.Publish(ctx, n.Channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish %s notification for %s: %w", kind, playerID, err)
	}
	return nil
}

// LogNotifier only logs; used when Redis is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, playerID string, kind NotificationKind, payload map[string]interface{}) error {
	log.Printf("[Notify] %s -> %s %v", kind, playerID, payload)
	return nil
}

// notify sends best-effort: failures are logged and swallowed.
func notify(ctx context.Context, n Notifier, playerID string, kind NotificationKind, payload map[string]interface{}) {
	if n == nil || playerID == "" {
		return
	}
	if err := n.Notify(ctx, playerID, kind, payload); err != nil {
		log.Printf("[Notify] ⚠️ %s for %s not delivered: %v", kind, playerID, err)
	}
}
