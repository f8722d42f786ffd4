package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/metrics"
)

const submitPath = "/submit-cdr"

// Config holds downstream API settings.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusError is a downstream response that is neither a success nor a
// permanent rejection.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream http %d: %s", e.StatusCode, e.Body)
}

// HealthStatus summarises recent submissions.
type HealthStatus struct {
	Available           bool
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	ConsecutiveFailures int
}

// Client posts records to the billing API.
type Client struct {
	endpoint   string
	httpClient *http.Client

	mu     sync.RWMutex
	health HealthStatus
}

// unhealthyAfter is the number of consecutive failed submissions after
// which the client reports itself unavailable.
const unhealthyAfter = 5

// NewClient creates a client for the API at baseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.URL, "/") + submitPath,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: HealthStatus{Available: true},
	}
}

type submitRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// Submit posts one record. 2xx is a success outcome and 422 a rejection
// outcome; any other status is a *StatusError and transport failures are
// returned wrapped.
func (c *Client) Submit(ctx context.Context, rec domain.Record) (domain.SubmissionOutcome, error) {
	start := time.Now()

	payload, err := json.Marshal(submitRequest{ID: rec.ID, Data: rec.Data})
	if err != nil {
		return domain.SubmissionOutcome{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.SubmissionOutcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		metrics.SubmissionResponses.WithLabelValues(domain.OutcomeTransient.String()).Inc()
		return domain.SubmissionOutcome{}, fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()

	metrics.SubmissionLatency.Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		c.recordFailure()
		metrics.SubmissionResponses.WithLabelValues(domain.OutcomeTransient.String()).Inc()
		return domain.SubmissionOutcome{}, fmt.Errorf("read response: %w", err)
	}

	outcome := domain.SubmissionOutcome{
		Succeeded:  resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
	}
	if !outcome.Succeeded {
		outcome.ErrorDetail = strings.TrimSpace(string(body))
	}

	class := outcome.Classify()
	metrics.SubmissionResponses.WithLabelValues(class.String()).Inc()

	switch class {
	case domain.OutcomeSuccess:
		c.recordSuccess()
		return outcome, nil
	case domain.OutcomeRejected:
		// The API answered; the payload is at fault, not the service.
		c.recordSuccess()
		return outcome, nil
	default:
		c.recordFailure()
		return domain.SubmissionOutcome{}, &StatusError{StatusCode: resp.StatusCode, Body: outcome.ErrorDetail}
	}
}

// Health returns the current health snapshot.
func (c *Client) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Check reports an error once submissions keep failing.
func (c *Client) Check(ctx context.Context) error {
	h := c.Health()
	if !h.Available {
		return fmt.Errorf("downstream unavailable: %d consecutive failures", h.ConsecutiveFailures)
	}
	return nil
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.Available = true
	c.health.LastSuccessAt = time.Now()
	c.health.ConsecutiveFailures = 0
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health.LastFailureAt = time.Now()
	c.health.ConsecutiveFailures++
	if c.health.ConsecutiveFailures >= unhealthyAfter {
		c.health.Available = false
	}
}
