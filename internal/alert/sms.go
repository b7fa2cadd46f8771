package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// SMSScheme is the destination prefix for SMS recipients.
const SMSScheme = "sms"

// SMSOption configures an [SMS] transport.
type SMSOption func(*SMS)

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(c *http.Client) SMSOption {
	return func(s *SMS) {
		if c != nil {
			s.client = c
		}
	}
}

// SMS sends alerts through an HTTP SMS gateway. The gateway is called with a
// GET request carrying the recipients, message and apikey query parameters.
type SMS struct {
	apiURL string
	apiKey string
	client *http.Client
}

var _ Transport = (*SMS)(nil)

// NewSMS returns an SMS transport for the gateway at apiURL.
func NewSMS(apiURL, apiKey string, opts ...SMSOption) (*SMS, error) {
	if apiURL == "" {
		return nil, errors.New("alert: sms api url must not be empty")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("alert: sms api url: %w", err)
	}
	s := &SMS{apiURL: apiURL, apiKey: apiKey, client: http.DefaultClient}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Scheme implements [Transport].
func (s *SMS) Scheme() string { return SMSScheme }

// Send implements [Transport]. Any 2xx response counts as delivered.
func (s *SMS) Send(ctx context.Context, recipient string, a Alert) error {
	u, err := url.Parse(s.apiURL)
	if err != nil {
		return fmt.Errorf("sms: parse api url: %w", err)
	}
	q := u.Query()
	q.Set("recipients", recipient)
	q.Set("message", a.Text())
	q.Set("apikey", s.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, body)
	}
	slog.Debug("sms: gateway response", "status", resp.StatusCode, "body", string(body))
	return nil
}
