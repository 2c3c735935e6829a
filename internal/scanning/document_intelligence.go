package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// Operation statuses reported by the analysis service
const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
)

// maxErrorBody bounds how much of an error response is kept for logs
const maxErrorBody = 4 << 10

// DocumentIntelligenceConfig configures the remote analysis client
type DocumentIntelligenceConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	APIVersion string
	// CurrencySymbol prefixes formatted total and tax values
	CurrencySymbol string

	SubmitAttempts int
	SubmitBackoff  time.Duration
	SubmitTimeout  time.Duration

	PollInterval    time.Duration
	PollGrowth      float64
	MaxPollInterval time.Duration
	PollTimeout     time.Duration
	PollRequestTime time.Duration
}

func (c DocumentIntelligenceConfig) withDefaults() DocumentIntelligenceConfig {
	if c.Model == "" {
		c.Model = "prebuilt-receipt"
	}
	if c.APIVersion == "" {
		c.APIVersion = "2023-07-31"
	}
	if c.CurrencySymbol == "" {
		c.CurrencySymbol = "$"
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PollGrowth <= 1 {
		c.PollGrowth = 1.5
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 4 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.PollRequestTime <= 0 {
		c.PollRequestTime = 10 * time.Second
	}
	return c
}

// DocumentIntelligence implements the Extractor interface against an
// asynchronous document analysis service: submit the image, then poll the
// returned operation until it settles.
type DocumentIntelligence struct {
	cfg    DocumentIntelligenceConfig
	client *http.Client
	clock  Clock
	logger *slog.Logger
}

// NewDocumentIntelligence creates a client using the wall clock and a default HTTP client
func NewDocumentIntelligence(cfg DocumentIntelligenceConfig) (*DocumentIntelligence, error) {
	return NewDocumentIntelligenceWithDeps(cfg, &http.Client{}, SystemClock{}, nil)
}

// NewDocumentIntelligenceWithDeps creates a client with custom dependencies for testing
func NewDocumentIntelligenceWithDeps(cfg DocumentIntelligenceConfig, client *http.Client, clock Clock, logger *slog.Logger) (*DocumentIntelligence, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("document intelligence endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("document intelligence api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIntelligence{
		cfg:    cfg.withDefaults(),
		client: client,
		clock:  clock,
		logger: logger.With("component", "document_intelligence"),
	}, nil
}

// Extract submits img for analysis and maps the finished result into fields
func (d *DocumentIntelligence) Extract(ctx context.Context, img receipt.Image) (receipt.Fields, error) {
	operation, err := d.submit(ctx, img)
	if err != nil {
		return nil, err
	}

	result, err := d.poll(ctx, operation)
	if err != nil {
		return nil, err
	}

	fields, err := mapAnalyzeResult(result, d.cfg.CurrencySymbol)
	if err != nil {
		return nil, err
	}
	applyDateFallback(ctx, fields, d.clock.Now(), d.logger)
	return fields, nil
}

// Close is a no-op for the HTTP client
func (d *DocumentIntelligence) Close() error {
	return nil
}

// submit posts the image, retrying transport failures and non-2xx answers
// with 1s, 2s, ... backoff. Credential and payload errors are not retried.
func (d *DocumentIntelligence) submit(ctx context.Context, img receipt.Image) (string, error) {
	var lastErr error
	for attempt := 0; attempt < d.cfg.SubmitAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.SubmitBackoff << (attempt - 1)
			d.logger.Warn("Submission failed, retrying",
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", lastErr,
			)
			if err := d.clock.Sleep(ctx, backoff); err != nil {
				return "", fmt.Errorf("waiting to resubmit: %w", err)
			}
		}

		operation, err := d.submitOnce(ctx, img)
		if err == nil {
			return operation, nil
		}
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrInvalidResponse) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrExtractionFailed, d.cfg.SubmitAttempts, lastErr)
}

func (d *DocumentIntelligence) submitOnce(ctx context.Context, img receipt.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		strings.TrimRight(d.cfg.Endpoint, "/"), d.cfg.Model, d.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submitting image: %w", receipt.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", d.statusError("submit", resp)
	}

	operation := resp.Header.Get("Operation-Location")
	if operation == "" {
		return "", fmt.Errorf("%w: %w: missing Operation-Location header", ErrInvalidResponse, receipt.ErrMalformed)
	}
	return operation, nil
}

// poll drives the operation state machine. The steady interval grows by
// PollGrowth up to MaxPollInterval; a transport failure doubles it instead.
// The whole loop is bounded by PollTimeout.
func (d *DocumentIntelligence) poll(ctx context.Context, operation string) (*analyzeResult, error) {
	start := d.clock.Now()
	interval := d.cfg.PollInterval

	for polls := 1; ; polls++ {
		if d.clock.Now().Sub(start) >= d.cfg.PollTimeout {
			return nil, fmt.Errorf("%w after %s (%d polls)", ErrExtractionTimedOut, d.cfg.PollTimeout, polls-1)
		}

		op, err := d.pollOnce(ctx, operation)
		wait := interval
		switch {
		case err == nil:
			switch op.Status {
			case statusNotStarted, statusRunning:
				interval = d.grow(interval, d.cfg.PollGrowth)
			case statusSucceeded:
				d.logger.Debug("Analysis succeeded", "polls", polls)
				return op.AnalyzeResult, nil
			case statusFailed:
				msg := "no details"
				if op.Error != nil {
					msg = op.Error.Code + ": " + op.Error.Message
				}
				return nil, fmt.Errorf("%w: service reported failure: %s", ErrExtractionFailed, msg)
			default:
				return nil, fmt.Errorf("%w: %w: unexpected status %q", ErrInvalidResponse, receipt.ErrMalformed, op.Status)
			}
		case errors.Is(err, receipt.ErrTransient):
			interval = d.grow(interval, 2)
			wait = interval
			d.logger.Warn("Poll failed, backing off", "backoff", wait.String(), "error", err)
		case errors.Is(err, errPollRejected):
			interval = d.grow(interval, d.cfg.PollGrowth)
			d.logger.Warn("Poll rejected, continuing", "error", err)
		default:
			return nil, err
		}

		remaining := d.cfg.PollTimeout - d.clock.Now().Sub(start)
		if remaining <= 0 {
			continue
		}
		if wait > remaining {
			wait = remaining
		}
		if err := d.clock.Sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("waiting to poll: %w", err)
		}
	}
}

// errPollRejected marks a non-2xx poll answer that is neither transient nor
// a credential problem. Polling continues at the steady interval.
var errPollRejected = errors.New("poll rejected")

func (d *DocumentIntelligence) pollOnce(ctx context.Context, operation string) (*analyzeOperation, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PollRequestTime)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operation, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: bad operation location: %w", ErrInvalidResponse, receipt.ErrMalformed, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: polling operation: %w", receipt.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := d.statusError("poll", resp)
		if errors.Is(err, receipt.ErrTransient) || errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errPollRejected, err)
	}

	var op analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("%w: %w: decoding poll response: %w", ErrInvalidResponse, receipt.ErrMalformed, err)
	}
	return &op, nil
}

func (d *DocumentIntelligence) grow(interval time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(interval) * factor)
	if next > d.cfg.MaxPollInterval {
		return d.cfg.MaxPollInterval
	}
	return next
}

// statusError reads a bounded error body and classifies the status
func (d *DocumentIntelligence) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	d.logger.Debug("Analysis service error", "op", op, "status", resp.StatusCode, "body", string(body))

	class := receipt.ClassifyStatus(resp.StatusCode)
	switch {
	case errors.Is(class, receipt.ErrAuth):
		return fmt.Errorf("%w: %w: %s status %d", ErrAuthentication, receipt.ErrAuth, op, resp.StatusCode)
	case class != nil:
		return fmt.Errorf("%w: %s status %d", class, op, resp.StatusCode)
	}
	return fmt.Errorf("%s status %d", op, resp.StatusCode)
}
