package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/flex-statement/internal/models"
	"github.com/noah-isme/flex-statement/pkg/config"
	appErrors "github.com/noah-isme/flex-statement/pkg/errors"
)

const (
	sendRequestPath  = "SendRequest"
	getStatementPath = "GetStatement"

	opSendRequest  = "send_request"
	opGetStatement = "get_statement"

	maxAcknowledgementBytes = 64 * 1024
)

var errBodyTooLarge = errors.New("response body exceeds limit")

// RejectionError carries the service's own reason for declining a request.
type RejectionError struct {
	Status       string
	ErrorCode    string
	ErrorMessage string
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("status %q", e.Status)
	switch {
	case e.ErrorCode != "" && e.ErrorMessage != "":
		msg += fmt.Sprintf(" (code %s: %s)", e.ErrorCode, e.ErrorMessage)
	case e.ErrorMessage != "":
		msg += fmt.Sprintf(" (%s)", e.ErrorMessage)
	case e.ErrorCode != "":
		msg += fmt.Sprintf(" (code %s)", e.ErrorCode)
	}
	return msg
}

// HTTPStatusError reports a non-2xx reply.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Operation, e.StatusCode)
}

// FlexClient drives the SendRequest / GetStatement exchange.
type FlexClient struct {
	cfg     config.FlexConfig
	client  *http.Client
	metrics *MetricsService
	logger  *zap.Logger
}

// NewFlexClient constructs a FlexClient. Timeouts are applied per call, so the
// underlying http.Client carries none.
func NewFlexClient(cfg config.FlexConfig, metrics *MetricsService, logger *zap.Logger) *FlexClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Version <= 0 {
		cfg.Version = config.ProtocolVersion
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 64 * 1024 * 1024
	}
	return &FlexClient{
		cfg:     cfg,
		client:  &http.Client{},
		metrics: metrics,
		logger:  logger,
	}
}

// Submit sends the report request and returns the reference token.
func (c *FlexClient) Submit(ctx context.Context, dateRange models.DateRange) (models.ReferenceToken, error) {
	if c.cfg.Token == "" || c.cfg.QueryID == "" {
		return "", appErrors.Clone(appErrors.ErrConfiguration, "flex token and query id are required")
	}
	if err := dateRange.Validate(); err != nil {
		return "", appErrors.WrapAs(appErrors.ErrValidation, err, "invalid date range")
	}

	req := models.ReportRequest{
		Token:   c.cfg.Token,
		QueryID: c.cfg.QueryID,
		Version: c.cfg.Version,
		Range:   dateRange,
	}
	body, err := c.get(ctx, opSendRequest, sendRequestPath, req.Values(), c.cfg.RequestTimeout, maxAcknowledgementBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return "", appErrors.WrapAs(appErrors.ErrInvalidResponse, err, "acknowledgement too large")
		}
		return "", c.classify(ctx, appErrors.ErrRequestTransport, err)
	}

	ack := DecodeAcknowledgement(body)
	switch ack.Kind {
	case models.AckAccepted:
		c.logger.Sugar().Debugw("flex request accepted", "reference_code", ack.ReferenceCode)
		return ack.ReferenceCode, nil
	case models.AckRejected:
		rej := &RejectionError{Status: ack.Status, ErrorCode: ack.ErrorCode, ErrorMessage: ack.ErrorMessage}
		return "", appErrors.WrapAs(appErrors.ErrRequestRejected, rej, "")
	case models.AckMissingReference:
		return "", appErrors.WrapAs(appErrors.ErrInvalidResponse, errors.New(ack.Detail), "no reference code found in response")
	default:
		return "", appErrors.WrapAs(appErrors.ErrInvalidResponse, errors.New(ack.Detail), "")
	}
}

// AwaitReady pauses once for the service to generate the statement.
func (c *FlexClient) AwaitReady(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	c.logger.Sugar().Infow("waiting for statement generation", "wait", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return appErrors.WrapAs(appErrors.ErrCancelled, ctx.Err(), "cancelled while waiting for statement generation")
	case <-timer.C:
		return nil
	}
}

// Fetch downloads the statement for ref and returns its bytes verbatim.
func (c *FlexClient) Fetch(ctx context.Context, ref models.ReferenceToken) ([]byte, error) {
	if ref == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reference code is required")
	}
	values := models.StatementValues(c.cfg.Token, ref, c.cfg.Version)
	body, err := c.get(ctx, opGetStatement, getStatementPath, values, c.cfg.FetchTimeout, c.cfg.MaxPayloadBytes)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, appErrors.WrapAs(appErrors.ErrFetchTooLarge, fmt.Errorf("limit %d bytes", c.cfg.MaxPayloadBytes), "")
		}
		return nil, c.classify(ctx, appErrors.ErrFetchTransport, err)
	}
	if len(body) == 0 && !c.cfg.AllowEmptyPayload {
		return nil, appErrors.Clone(appErrors.ErrFetchEmpty, "")
	}
	return body, nil
}

func (c *FlexClient) get(ctx context.Context, operation, path string, values url.Values, timeout time.Duration, limit int64) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/" + path + "?" + values.Encode()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, redact(err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveFlexCall(operation, 0, time.Since(start))
		return nil, redact(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.metrics.ObserveFlexCall(operation, resp.StatusCode, time.Since(start))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{Operation: path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	c.metrics.ObserveFlexCall(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, redact(err))
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	c.logger.Sugar().Debugw("flex call finished", "operation", operation, "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}

// classify maps a transport failure to kind, or to ErrCancelled when the
// caller's own context ended.
func (c *FlexClient) classify(ctx context.Context, kind *appErrors.Error, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return appErrors.WrapAs(appErrors.ErrCancelled, ctxErr, "")
	}
	return appErrors.WrapAs(kind, err, "")
}

// redact strips the credential token from URLs embedded in transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redactURL(urlErr.URL)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Has("t") {
		q.Set("t", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
