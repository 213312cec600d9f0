package notifier

import (
	"context"

	"github.com/go-resty/resty/v2"

	"stockpulse/internal/adapters/config"
	"stockpulse/pkg/logger"
)

// CallbackNotifier POSTs progress updates to the client-facing backend.
// Failures are logged and swallowed: a missed progress tick is harmless,
// and the aggregation path must never block on a slow listener.
type CallbackNotifier struct {
	client *resty.Client
	url    string
	log    *logger.Logger
}

// NewCallbackNotifier creates a callback notifier. An empty URL disables it.
func NewCallbackNotifier(cfg config.NotifierConfig) *CallbackNotifier {
	client := resty.New()
	client.SetTimeout(cfg.CallbackTimeout)

	return &CallbackNotifier{
		client: client,
		url:    cfg.CallbackURL,
		log:    logger.Get().With("component", "callback_notifier"),
	}
}

// Notify delivers one update, best effort.
func (n *CallbackNotifier) Notify(ctx context.Context, update Update) {
	if n.url == "" {
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(update).
		Post(n.url)
	if err != nil {
		n.log.Warnf("Failed to send progress callback: %v", err)
		return
	}
	if resp.StatusCode() >= 300 {
		n.log.Warnf("Progress callback rejected: %d %s", resp.StatusCode(), resp.String())
		return
	}

	n.log.Debugw("Progress callback sent",
		"task_id", update.TaskID,
		"progress", update.Progress,
		"status", update.Status,
	)
}
