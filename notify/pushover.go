// Package notify announces newly created feeds through a Pushover compatible
// HTTP endpoint.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/migadu/mailfeed/config"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/circuitbreaker"
	"github.com/migadu/mailfeed/pkg/metrics"
)

// maxResponseBody bounds how much of an error response is read.
const maxResponseBody = 4096

// Pushover posts a form with token, user, title and message to the
// configured URL. The message is the feed URL.
type Pushover struct {
	endpoint string
	token    string
	user     string
	title    string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
}

// pushoverResponse is the JSON body returned by the Pushover API.
type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors"`
}

// New creates a notifier from cfg. The caller should check
// cfg.IsConfigured first.
func New(cfg config.NotifyConfig) (*Pushover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout, err := cfg.GetTimeout()
	if err != nil {
		return nil, err
	}
	openTimeout, err := cfg.GetCircuitBreakerTimeout()
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:          "notify",
		MaxRequests:   uint32(cfg.GetCircuitBreakerMaxRequests()),
		Timeout:       openTimeout,
		ReadyToTrip:   circuitbreaker.ConsecutiveFailures(uint32(cfg.GetCircuitBreakerThreshold())),
		OnStateChange: circuitbreaker.ReportStateChange,
	})

	return &Pushover{
		endpoint: cfg.GetURL(),
		token:    cfg.Token,
		user:     cfg.User,
		title:    cfg.GetTitle(),
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
	}, nil
}

// Breaker returns the circuit breaker guarding the endpoint.
func (p *Pushover) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// NotifyNewFeed sends one notification for feedURL. The message body is
// the URL; when f is given its title labels the supplementary link.
func (p *Pushover) NotifyNewFeed(ctx context.Context, feedURL string, f *feed.Feed) error {
	var feedTitle string
	if f != nil {
		feedTitle = f.Title
	}
	err := p.breaker.Execute(func() error {
		return p.send(ctx, feedURL, feedTitle)
	})

	switch {
	case err == nil:
		metrics.NotificationsTotal.WithLabelValues("success").Inc()
		logger.DebugContext(ctx, "Notify: Sent new feed notification", "feed_url", feedURL)
		return nil
	case circuitbreaker.IsRejection(err):
		metrics.NotificationsTotal.WithLabelValues("rejected").Inc()
		logger.WarnContext(ctx, "Notify: Circuit breaker is OPEN - skipping notification", "feed_url", feedURL)
		return fmt.Errorf("notification circuit breaker is open: %w", err)
	default:
		metrics.NotificationsTotal.WithLabelValues("failure").Inc()
		return err
	}
}

func (p *Pushover) send(ctx context.Context, feedURL, feedTitle string) error {
	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.user)
	form.Set("title", p.title)
	form.Set("message", feedURL)
	if feedTitle != "" {
		form.Set("url", feedURL)
		form.Set("url_title", feedTitle)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d: %s", resp.StatusCode, describeFailure(body))
	}
	return nil
}

// describeFailure extracts the API error list, falling back to the raw body.
func describeFailure(body []byte) string {
	var parsed pushoverResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return strings.Join(parsed.Errors, "; ")
	}
	return strings.TrimSpace(string(body))
}
