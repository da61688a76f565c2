package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"license-accrual/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	AudienceUser  = "user"
	AudienceAdmin = "admin"
)

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification")}
}

func (s *LogSink) SendToUser(ctx context.Context, userID string, msg Message) error {
	s.log.Info("user notification",
		zap.String("user_id", userID),
		zap.String("type", msg.Type),
		zap.String("severity", msg.Severity),
		zap.String("title", msg.Title),
		zap.Any("metadata", msg.Metadata),
	)
	return nil
}

func (s *LogSink) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	s.log.Warn("admin alert", zap.String("kind", kind), zap.Any("payload", payload))
	return nil
}

// Envelope is the JSON published on the notification channels.
type Envelope struct {
	Audience string         `json:"audience"`
	UserID   string         `json:"user_id,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Message  *Message       `json:"message,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// RedisSink publishes envelopes on notifications:user and notifications:admin
// for the process that owns Telegram and email delivery.
type RedisSink struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb, now: time.Now}
}

func (s *RedisSink) publish(ctx context.Context, env Envelope) error {
	env.SentAt = s.now().UTC()
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := rediskey.BuildNotificationChannel(env.Audience)
	if err := s.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (s *RedisSink) SendToUser(ctx context.Context, userID string, msg Message) error {
	return s.publish(ctx, Envelope{Audience: AudienceUser, UserID: userID, Message: &msg})
}

func (s *RedisSink) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	return s.publish(ctx, Envelope{Audience: AudienceAdmin, Kind: kind, Payload: payload})
}
