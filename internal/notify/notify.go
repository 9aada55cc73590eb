package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier surfaces a fire-and-forget user alert. Implementations must not
// block enforcement; failures are logged, never returned to the caller's
// control flow.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) {}

// Webhook posts alerts as JSON to a configured endpoint, e.g. a desktop
// notification relay or chat hook.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewWebhook builds a Webhook notifier. An empty url yields a Nop.
func NewWebhook(url string, timeout time.Duration, log zerolog.Logger) Notifier {
	if url == "" {
		return Nop{}
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

type payload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notify posts the alert. Errors are logged and swallowed.
func (w *Webhook) Notify(ctx context.Context, title, message string) {
	body, err := json.Marshal(payload{Title: title, Message: message, At: time.Now()})
	if err != nil {
		w.log.Warn().Err(err).Msg("notification marshal failed")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn().Err(err).Msg("notification request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn().Err(err).Msg("notification delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.log.Warn().Str("status", fmt.Sprintf("%d", resp.StatusCode)).Msg("notification rejected")
	}
}
