// Package status reports bot session lifecycle transitions to an external
// dashboard endpoint. Reporting is best effort: failures are logged and never
// interrupt the session.
package status

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/avablake/emcee/logging"
)

// Session states reported to the dashboard.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// Update describes one lifecycle transition.
type Update struct {
	UserKey  string
	BotKey   string
	ThreadID string
	Status   string
}

// Reporter publishes session state transitions.
type Reporter interface {
	Report(ctx context.Context, update Update)
}

// HTTPOptions configure an HTTPReporter.
type HTTPOptions struct {
	Client *http.Client
	Logger logging.Logger
}

// HTTPReporter reports updates as GET requests against a base URL, carrying
// the update in query parameters.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// NewHTTPReporter builds a reporter for the given base URL.
func NewHTTPReporter(baseURL string, optFns ...func(o *HTTPOptions)) *HTTPReporter {
	opts := HTTPOptions{
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPReporter{baseURL: baseURL, client: opts.Client, logger: opts.Logger}
}

// Report sends the update. Errors are logged, never returned.
func (r *HTTPReporter) Report(ctx context.Context, update Update) {
	q := url.Values{}
	q.Set("id", update.UserKey)
	q.Set("botKey", update.BotKey)
	q.Set("threadID", update.ThreadID)
	q.Set("status", update.Status)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		r.logger.Warn("status update request build failed", "error", err)
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("status update failed", "status", update.Status, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		r.logger.Warn("status update rejected",
			"status", update.Status, "http_status", fmt.Sprintf("%d", resp.StatusCode))
		return
	}
	r.logger.Info("status update sent", "status", update.Status, "thread_id", update.ThreadID)
}

// Noop is a Reporter that drops every update. Used when no dashboard URL is
// configured.
type Noop struct{}

func (Noop) Report(context.Context, Update) {}
