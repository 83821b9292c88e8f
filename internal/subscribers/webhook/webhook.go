package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
)

const (
	defaultTimeout   = 10 * time.Second
	errorSnippetSize = 4 << 10
	userAgent        = "sessiongate-webhook/1"
)

// Subscriber POSTs every accepted notification as JSON to one URL.
type Subscriber struct {
	name   string
	url    string
	client *http.Client
	logger zerolog.Logger
	accept func(events.Type) bool
}

type Option func(*Subscriber)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTypeFilter limits delivery to notification types accept returns true for.
func WithTypeFilter(accept func(events.Type) bool) Option {
	return func(s *Subscriber) {
		s.accept = accept
	}
}

func New(name, url string, logger zerolog.Logger, opts ...Option) *Subscriber {
	s := &Subscriber{
		name:   strings.TrimSpace(name),
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
	if s.name == "" {
		s.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Subscriber) Name() string {
	return s.name
}

// Handle delivers n. Client errors other than 408 and 429 are wrapped as
// permanent so the dispatcher does not retry them.
func (s *Subscriber) Handle(ctx context.Context, n events.Notification) error {
	if s.accept != nil && !s.accept(n.Type) {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode notification %s: %w", n.ID, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request for %s: %w", s.name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Sessiongate-Event", string(n.Type))
	req.Header.Set("X-Sessiongate-Delivery", n.ID)
	req.Header.Set("X-Sessiongate-Tenant", n.TenantID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorSnippetSize))
		s.logger.Debug().
			Str("webhook", s.name).
			Str("notification_id", n.ID).
			Int("status", resp.StatusCode).
			Msg("webhook delivered")
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetSize))
	statusErr := fmt.Errorf("%s answered status=%d body=%q", s.name, resp.StatusCode, bytes.TrimSpace(snippet))
	if permanentStatus(resp.StatusCode) {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
