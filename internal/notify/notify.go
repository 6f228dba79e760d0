// Package notify posts end-of-call summaries to a configured webhook so
// downstream systems (CRM, ticketing, analytics) learn about finished calls
// without polling the archive.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxwire/voxwire/internal/call"
)

// Summary is the JSON payload delivered for each finished call.
type Summary struct {
	CallSid   string    `json:"callSid"`
	StreamSid string    `json:"streamSid"`
	TenantID  string    `json:"tenantId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Duration  string    `json:"duration"`
}

// Notifier delivers call summaries over HTTP. A nil Notifier is valid and
// does nothing, so callers need no conditional wiring.
type Notifier struct {
	log    *slog.Logger
	url    string
	client *http.Client
}

func New(log *slog.Logger, url string, timeout time.Duration) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		log:    log,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// CallEnded posts a summary for a finished call. Failures are logged, not
// returned; notification is best-effort by design.
func (n *Notifier) CallEnded(ctx context.Context, info call.CallInfo, startedAt time.Time, duration time.Duration) {
	if n == nil || n.url == "" {
		return
	}
	summary := Summary{
		CallSid:   info.CallSid,
		StreamSid: info.StreamSid,
		TenantID:  info.TenantID,
		StartedAt: startedAt,
		EndedAt:   startedAt.Add(duration),
		Duration:  duration.String(),
	}
	if err := n.post(ctx, summary); err != nil {
		n.log.Warn("call summary webhook failed", "call_sid", info.CallSid, "error", err)
	}
}

func (n *Notifier) post(ctx context.Context, summary Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("notify: marshal summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post summary: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}
