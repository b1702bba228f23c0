// Package webhook implements the lifecycle event notifier: signed,
// retrying HTTP delivery with per-job progress throttling, grounded on the
// non-blocking dispatch pattern claudegate's internal/queue uses at its
// job-finalization call site (webhook.Send fired with a detached context
// and never awaited by the caller).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// EventType enumerates the lifecycle events spec.md §4.D names.
type EventType string

const (
	EventDownloadStarted  EventType = "download.started"
	EventDownloadProgress EventType = "download.progress"
	EventDownloadComplete EventType = "download.completed"
	EventDownloadFailed   EventType = "download.failed"
)

func (e EventType) terminal() bool {
	return e == EventDownloadComplete || e == EventDownloadFailed
}

// Event is the payload delivered to a subscriber's webhook URL.
type Event struct {
	Event     EventType   `json:"event"`
	Timestamp string      `json:"timestamp"`
	JobID     string      `json:"job_id"`
	Data      interface{} `json:"data"`
}

// Config tunes retry/timeout/throttle behavior; defaults match spec.md §4.D.
type Config struct {
	Enabled            bool
	Secret             string // process-wide HMAC key; see DESIGN.md Open Question #2
	PerAttemptTimeout  time.Duration
	MaxRetries         int
	ProgressThrottle   time.Duration
}

// DefaultConfig returns spec.md §4.D's stated defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		PerAttemptTimeout: 10 * time.Second,
		MaxRetries:        3,
		ProgressThrottle:  time.Second,
	}
}

// Notifier delivers lifecycle events. One Notifier serves the whole
// process; callers pass the destination URL per call since spec.md's
// webhook_url is per-job, not per-notifier.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger arbor.ILogger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter // per-job progress throttle
}

// New builds a Notifier. client is injectable so tests can swap in a fake
// transport without opening real sockets.
func New(cfg Config, client *http.Client, logger arbor.ILogger) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Notify delivers event to destURL. Progress events are throttled per job;
// terminal events are always sent. Delivery runs synchronously within this
// call — callers wanting non-blocking dispatch launch it in its own
// goroutine, matching spec.md's "dispatched concurrently with the job."
func (n *Notifier) Notify(ctx context.Context, destURL string, event Event) {
	if !n.cfg.Enabled || destURL == "" {
		return
	}

	if event.Event == EventDownloadProgress && !n.allowProgress(event.JobID) {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Msg("webhook: failed to marshal event")
		return
	}

	n.deliverWithRetry(ctx, destURL, body, event.JobID)
}

// Dispatch runs Notify in its own goroutine so job execution never blocks
// on webhook I/O, per spec.md's non-blocking delivery contract.
func (n *Notifier) Dispatch(ctx context.Context, destURL string, event Event) {
	go n.Notify(context.WithoutCancel(ctx), destURL, event)
}

func (n *Notifier) allowProgress(jobID string) bool {
	n.mu.Lock()
	limiter, ok := n.limiters[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(n.cfg.ProgressThrottle), 1)
		n.limiters[jobID] = limiter
	}
	n.mu.Unlock()
	return limiter.Allow()
}

// ForgetJob drops the throttle state for a job once it reaches a terminal
// state, so long-lived processes don't accumulate one limiter per job
// forever.
func (n *Notifier) ForgetJob(jobID string) {
	n.mu.Lock()
	delete(n.limiters, jobID)
	n.mu.Unlock()
}

func (n *Notifier) deliverWithRetry(ctx context.Context, destURL string, body []byte, jobID string) {
	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	maxAttempts := n.cfg.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Second
			if attempt-1 < len(delays) {
				delay = delays[attempt-1]
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		status, err := n.attempt(ctx, destURL, body)
		if err == nil && status >= 200 && status < 300 {
			return
		}
		lastErr = err
		if err == nil && status >= 400 && status < 500 {
			n.logger.Warn().Str("url", sanitizeURL(destURL)).Int("status", status).Msg("webhook: terminal 4xx response, not retrying")
			return
		}
		n.logger.Warn().Str("url", sanitizeURL(destURL)).Int("attempt", attempt+1).Err(err).Msg("webhook: delivery attempt failed")
	}

	n.logger.Error().Str("url", sanitizeURL(destURL)).Str("job_id", jobID).Err(lastErr).Msg("webhook: delivery exhausted retries")
}

func (n *Notifier) attempt(ctx context.Context, destURL string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.PerAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, destURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(body, n.cfg.Secret))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign computes the hex HMAC-SHA256 of body using secret, matching the
// X-Webhook-Signature format spec.md §4.D and §6 both specify.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// sanitizeURL strips userinfo before logging a webhook destination.
func sanitizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	parsed.User = nil
	return parsed.String()
}

// NewEvent is a small convenience constructor stamping the ISO-8601
// timestamp spec.md §4.D requires.
func NewEvent(eventType EventType, jobID string, data interface{}) Event {
	return Event{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		JobID:     jobID,
		Data:      data,
	}
}
