package soap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/beevik/etree"

	"li-gateway/internal/common/logging"
)

const maxResponseSize = 10 << 20

var (
	// ErrInvalidEndpoint is returned for endpoints that are not absolute
	// http or https URLs.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrTransport wraps network failures, including timeouts.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedResponse is returned when a successful response is not a
	// SOAP envelope.
	ErrMalformedResponse = errors.New("malformed SOAP response")
)

// StatusError is returned for HTTP responses that carry no SOAP answer.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// Client posts SOAP requests.
type Client struct {
	http   *http.Client
	logger logging.Logger
}

// NewClient creates a client. A nil httpClient gets one with timeout.
func NewClient(httpClient *http.Client, timeout time.Duration, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Client{
		http:   httpClient,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "soap_client"}),
	}
}

// ValidateEndpoint checks that endpoint is an absolute http or https URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// Call posts payload to endpoint and returns the response envelope. A SOAP
// fault in the response is returned as a *Fault error together with the
// envelope.
func (c *Client) Call(ctx context.Context, endpoint, action string, payload *etree.Element) (*Envelope, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}

	body, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", action))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.logger.Debug("SOAP call completed",
		logging.Field{Key: "endpoint", Value: endpoint},
		logging.Field{Key: "action", Value: action},
		logging.Field{Key: "status", Value: resp.StatusCode},
		logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
	)

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success && resp.StatusCode != http.StatusInternalServerError {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	env, err := Parse(data)
	if err != nil {
		if !success {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if fault := env.Fault(); fault != nil {
		return env, fault
	}
	if !success {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	return env, nil
}
