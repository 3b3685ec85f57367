package recon

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/mmdatafocus/eventrecon/config"
	"github.com/sirupsen/logrus"
)

const (
	NotificationErrorRecorded  = "error_recorded"
	NotificationErrorResolved  = "error_resolved"
	NotificationCycleCompleted = "cycle_completed"
)

type Notification struct {
	Type       string      `json:"type"`
	CycleId    string      `json:"cycle_id,omitempty"`
	Branch     int         `json:"branch,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

// Notifier publishes reconciliation events. Implementations never fail the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

func NopNotifier() Notifier { return nopNotifier{} }

// PubSubNotifier publishes notifications as JSON to a Pub/Sub topic.
type PubSubNotifier struct {
	Client  *pubsub.Client
	Topic   string
	Timeout time.Duration
	Logger  *logrus.Logger
}

func (p *PubSubNotifier) Notify(ctx context.Context, n Notification) {
	if n.CycleId == "" {
		n.CycleId, _ = appctx.GetCycleId(ctx)
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now()
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := config.PublishJSON(pubCtx, p.Client, p.Topic, n, map[string]string{"type": n.Type})
	if err != nil && p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{"field": "PubSubNotifier", "type": n.Type, "topic": p.Topic}).
			Warn("publish notification: " + err.Error())
	}
}
