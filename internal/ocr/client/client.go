// Package client relays documents to the external OCR webhook.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/ocr/metrics"
	"intake/internal/ocr/models"
	"intake/pkg/platform/circuit"
	"intake/pkg/platform/retry"
	"intake/pkg/requestcontext"
)

const (
	CorrelationHeader = "X-Correlation-ID"
	maxResponseBytes  = 1 << 20
	defaultTimeout    = 30 * time.Second
)

var (
	ErrBreakerOpen = errors.New("ocr webhook circuit open")
	ErrRejected    = errors.New("ocr webhook rejected the document")
)

// StatusError is a non-2xx webhook reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocr webhook returned status %d: %s", e.StatusCode, e.Body)
}

type webhookRequest struct {
	DocumentType  models.DocumentType `json:"document_type"`
	ContentType   models.ContentType  `json:"content_type"`
	ContentBase64 string              `json:"content_base64"`
	CorrelationID string              `json:"correlation_id"`
}

// Result is a successful relay.
type Result struct {
	Webhook       *models.WebhookResult
	CorrelationID string
	Attempts      int
}

type Client struct {
	url        string
	httpClient *http.Client
	policy     retry.Policy
	breaker    *circuit.Breaker
	tracer     trace.Tracer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) {
		if t != nil {
			cl.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func New(webhookURL string, opts ...Option) *Client {
	c := &Client{
		url:        webhookURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		policy: retry.Policy{
			Strategy:         retry.ExponentialBackoff,
			MaxRetries:       3,
			BaseDelay:        2 * time.Second,
			MaxDelay:         30 * time.Second,
			RateLimitBackoff: 5 * time.Second,
		},
		breaker: circuit.New("ocr_webhook"),
		tracer:  otel.Tracer("intake/ocr"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract sends one document to the webhook, retrying transient failures.
func (c *Client) Extract(ctx context.Context, docType models.DocumentType, contentType models.ContentType, content []byte) (*Result, error) {
	correlationID := requestcontext.RequestID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx, span := c.tracer.Start(ctx, "ocr.extract",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ocr.document_type", string(docType)),
			attribute.String("ocr.content_type", string(contentType)),
			attribute.Int("ocr.content_bytes", len(content)),
			attribute.String("ocr.correlation_id", correlationID),
		),
	)
	defer span.End()

	body, err := json.Marshal(webhookRequest{
		DocumentType:  docType,
		ContentType:   contentType,
		ContentBase64: base64.StdEncoding.EncodeToString(content),
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook request: %w", err)
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		c.metrics.IncrementRetry()
		c.logger.WarnContext(ctx, "retrying ocr webhook",
			"correlation_id", correlationID,
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err,
		)
	}

	attempts := 0
	res, err := retry.Do(ctx, policy, classify, func(int) (*models.WebhookResult, error) {
		attempts++
		return c.attempt(ctx, body, correlationID)
	})
	span.SetAttributes(attribute.Int("ocr.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr relay failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return &Result{Webhook: res, CorrelationID: correlationID, Attempts: attempts}, nil
}

func (c *Client) attempt(ctx context.Context, body []byte, correlationID string) (*models.WebhookResult, error) {
	if !c.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	res, err := c.post(ctx, body, correlationID)
	if err != nil {
		if classify(err) != retry.Stop {
			if _, change := c.breaker.RecordFailure(); change.Opened {
				c.metrics.SetBreakerOpen(true)
				c.logger.ErrorContext(ctx, "ocr webhook circuit opened",
					"correlation_id", correlationID,
					"error", err,
				)
			}
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.metrics.SetBreakerOpen(false)
		c.logger.InfoContext(ctx, "ocr webhook circuit closed", "correlation_id", correlationID)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, body []byte, correlationID string) (*models.WebhookResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationHeader, correlationID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var result models.WebhookResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: invalid response body", ErrRejected)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, result.Error)
	}
	return &result, nil
}

// classify retries timeouts, connection failures, 429 and 5xx replies.
func classify(err error) retry.Action {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrBreakerOpen), errors.Is(err, ErrRejected):
		return retry.Stop
	case errors.Is(err, context.Canceled):
		return retry.Stop
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return retry.After
		}
		if statusErr.StatusCode >= 500 {
			return retry.Retry
		}
		return retry.Stop
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retry
	}
	return retry.Stop
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
