package testutil

import (
	"context"
	"sync"

	"license-accrual/services/notification"
)

type SentMessage struct {
	UserID  string
	Message notification.Message
}

type SentAlert struct {
	Kind    string
	Payload map[string]any
}

// NotificationRecorder is a notification.Sink that keeps everything it is
// given.
type NotificationRecorder struct {
	mu     sync.Mutex
	users  []SentMessage
	alerts []SentAlert
}

func (r *NotificationRecorder) SendToUser(ctx context.Context, userID string, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, SentMessage{UserID: userID, Message: msg})
	return nil
}

func (r *NotificationRecorder) SendAdminAlert(ctx context.Context, kind string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, SentAlert{Kind: kind, Payload: payload})
	return nil
}

func (r *NotificationRecorder) Messages() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.users...)
}

// OfType returns the user messages with the given type.
func (r *NotificationRecorder) OfType(typ string) []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SentMessage
	for _, m := range r.users {
		if m.Message.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *NotificationRecorder) Alerts() []SentAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentAlert(nil), r.alerts...)
}
