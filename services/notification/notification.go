package notification

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewSink, NewNotifier),
)

// Notification types sent to users.
const (
	TypeEarningProcessed = "earning_processed"
	TypeLicenseCompleted = "license_completed"
	TypeEarningPaused    = "earning_paused"
	TypeOrderConfirmed   = "order_confirmed"
)

// Admin alert kinds.
const (
	AlertManualConfirmation = "order_requires_manual_confirmation"
	AlertManualReview       = "order_manual_review"
	AlertAccrualFailure     = "earning_accrual_failure"
)

const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

type Message struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Severity string         `json:"severity"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Sink delivers notifications to users and admins.
type Sink interface {
	SendToUser(ctx context.Context, userID string, msg Message) error
	SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error
}

type SinkParams struct {
	fx.In
	Redis *redis.Client `optional:"true"`
}

// NewSink always logs and, when redis is available, also publishes for the
// delivery process.
func NewSink(p SinkParams) Sink {
	sinks := []Sink{NewLogSink(zap.L())}
	if p.Redis != nil {
		sinks = append(sinks, NewRedisSink(p.Redis))
	}
	return Multi(sinks...)
}

type NoOp struct{}

func (NoOp) SendToUser(ctx context.Context, userID string, msg Message) error {
	return nil
}

func (NoOp) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	return nil
}

type multiSink []Sink

// Multi fans out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) SendToUser(ctx context.Context, userID string, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.SendToUser(ctx, userID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiSink) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	var errs []error
	for _, s := range m {
		if err := s.SendAdminAlert(ctx, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const sendTimeout = 5 * time.Second

// Notifier is the fire-and-forget front of a Sink. Failures are logged and
// never reach the caller, so a committed financial write is never undone by
// a delivery problem.
type Notifier struct {
	sink Sink
}

func NewNotifier(sink Sink) *Notifier {
	if sink == nil {
		sink = NoOp{}
	}
	return &Notifier{sink: sink}
}

func (n *Notifier) SendToUser(ctx context.Context, userID string, msg Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := n.sink.SendToUser(ctx, userID, msg); err != nil {
		zap.L().Warn("failed to send user notification",
			zap.String("user_id", userID),
			zap.String("type", msg.Type),
			zap.Error(err),
		)
	}
}

func (n *Notifier) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := n.sink.SendAdminAlert(ctx, kind, payload); err != nil {
		zap.L().Warn("failed to send admin alert", zap.String("kind", kind), zap.Error(err))
	}
}
