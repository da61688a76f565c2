package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type failingSink struct {
	calls int
}

func (f *failingSink) SendToUser(ctx context.Context, userID string, msg Message) error {
	f.calls++
	return errors.New("telegram unavailable")
}

func (f *failingSink) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	f.calls++
	return errors.New("telegram unavailable")
}

func TestNotifierSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	n := NewNotifier(sink)

	require.NotPanics(t, func() {
		n.SendToUser(context.Background(), "u1", Message{Type: TypeEarningProcessed})
		n.SendAdminAlert(context.Background(), AlertManualReview, nil)
	})
	require.Equal(t, 2, sink.calls)
}

func TestNotifierSurvivesCanceledContext(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "notifications:user")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	NewNotifier(NewRedisSink(rdb)).SendToUser(canceled, "u1", Message{Type: TypeLicenseCompleted})

	recvCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)
	require.Contains(t, msg.Payload, TypeLicenseCompleted)
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "notifications:user", "notifications:admin")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(rdb)
	sink.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, sink.SendToUser(ctx, "u1", Message{
		Type:     TypeEarningProcessed,
		Title:    "Daily earning",
		Severity: SeveritySuccess,
		Metadata: map[string]any{"day": 1},
	}))
	require.NoError(t, sink.SendAdminAlert(ctx, AlertManualReview, map[string]any{"order_id": "o1"}))

	recvCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()

	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "notifications:user", msg.Channel)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	require.Equal(t, AudienceUser, env.Audience)
	require.Equal(t, "u1", env.UserID)
	require.Equal(t, TypeEarningProcessed, env.Message.Type)
	require.Equal(t, float64(1), env.Message.Metadata["day"])

	msg, err = sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)
	require.Equal(t, "notifications:admin", msg.Channel)
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	require.Equal(t, AlertManualReview, env.Kind)
	require.Equal(t, "o1", env.Payload["order_id"])
}

func TestMultiJoinsErrors(t *testing.T) {
	failing := &failingSink{}
	m := Multi(NoOp{}, failing, NewLogSink(zap.NewNop()))

	err := m.SendToUser(context.Background(), "u1", Message{})
	require.Error(t, err)
	require.Equal(t, 1, failing.calls)

	require.NoError(t, Multi(NoOp{}).SendAdminAlert(context.Background(), AlertAccrualFailure, nil))
}

func TestNewSinkWithoutRedis(t *testing.T) {
	sink := NewSink(SinkParams{})
	require.NoError(t, sink.SendToUser(context.Background(), "u1", Message{Type: TypeOrderConfirmed}))
}
