// Package transport talks to the messaging backend: a REST client for
// session lifecycle calls, a websocket push channel for realtime
// events, and interval pollers as the degraded fallback.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"chatwidget/internal/domain"
	"chatwidget/internal/metrics"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	APIBase   string
	WidgetID  string
	CompanyID string
	APIKey    string        // optional bearer token
	Retries   int           // transient-failure retries, default 3
	RetryBase time.Duration // first retry wait, default 500ms
	Logger    *slog.Logger
}

// Client implements domain.Backend over HTTP.
type Client struct {
	apiBase   string
	widgetID  string
	companyID string
	apiKey    string
	http      *http.Client
	retry     retryPolicy
	logger    *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	policy := defaultRetryPolicy()
	if cfg.Retries > 0 {
		policy.retries = cfg.Retries
	}
	if cfg.RetryBase > 0 {
		policy.base = cfg.RetryBase
	}
	return &Client{
		apiBase:   cfg.APIBase,
		widgetID:  cfg.WidgetID,
		companyID: cfg.CompanyID,
		apiKey:    cfg.APIKey,
		http:      &http.Client{Timeout: 15 * time.Second},
		retry:     policy,
		logger:    cfg.Logger,
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/api/v1/widgets/%s%s", c.apiBase, url.PathEscape(c.widgetID), path)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	buildReq := func() (*http.Request, error) {
		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.companyID != "" {
			req.Header.Set("X-Company-ID", c.companyID)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	}

	start := time.Now()
	resp, err := c.send(ctx, buildReq)
	metrics.RequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type createSessionRequest struct {
	VisitorID string `json:"visitorId"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, visitorID string, profile domain.VisitorProfile, firstMessage string) (*domain.ChatSession, error) {
	req := createSessionRequest{
		VisitorID: visitorID,
		Name:      profile.DisplayName(),
		Email:     profile.Email,
		Message:   firstMessage,
	}
	var sess domain.ChatSession
	if err := c.do(ctx, http.MethodPost, c.url("/sessions"), req, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if sess.Status == "" {
		sess.Status = domain.StatusWaiting
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	return &sess, nil
}

func (c *Client) FetchMessages(ctx context.Context, sessionID string, since time.Time) ([]domain.ChatMessage, error) {
	u := c.url("/sessions/" + url.PathEscape(sessionID) + "/messages")
	if !since.IsZero() {
		u += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}
	var msgs []domain.ChatMessage
	if err := c.do(ctx, http.MethodGet, u, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return msgs, nil
}

func (c *Client) FetchTyping(ctx context.Context, sessionID string) (*domain.TypingState, error) {
	var ts domain.TypingState
	u := c.url("/sessions/" + url.PathEscape(sessionID) + "/typing")
	if err := c.do(ctx, http.MethodGet, u, nil, &ts); err != nil {
		return nil, fmt.Errorf("fetch typing: %w", err)
	}
	return &ts, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	u := c.url("/sessions/" + url.PathEscape(sessionID) + "/messages")
	if err := c.do(ctx, http.MethodPost, u, msg, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSent.Inc()
	return nil
}

func (c *Client) FinishChat(ctx context.Context, sessionID string) error {
	u := c.url("/sessions/" + url.PathEscape(sessionID) + "/finish")
	if err := c.do(ctx, http.MethodPost, u, nil, nil); err != nil {
		return fmt.Errorf("finish chat: %w", err)
	}
	return nil
}

type surveyRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

func (c *Client) SubmitSurvey(ctx context.Context, sessionID string, rating int, feedback string) error {
	u := c.url("/sessions/" + url.PathEscape(sessionID) + "/survey")
	if err := c.do(ctx, http.MethodPost, u, surveyRequest{Rating: rating, Feedback: feedback}, nil); err != nil {
		return fmt.Errorf("submit survey: %w", err)
	}
	metrics.SurveysSubmitted.Inc()
	return nil
}

func (c *Client) SubmitOfflineMessage(ctx context.Context, msg domain.OfflineMessage) error {
	if err := c.do(ctx, http.MethodPost, c.url("/offline-messages"), msg, nil); err != nil {
		return fmt.Errorf("submit offline message: %w", err)
	}
	metrics.OfflineMessages.Inc()
	return nil
}

func (c *Client) CheckTargeting(ctx context.Context, pageURL, device string) (*domain.TargetingResult, error) {
	q := url.Values{}
	if pageURL != "" {
		q.Set("url", pageURL)
	}
	if device != "" {
		q.Set("device", device)
	}
	u := c.url("/targeting")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var res domain.TargetingResult
	if err := c.do(ctx, http.MethodGet, u, nil, &res); err != nil {
		return nil, fmt.Errorf("check targeting: %w", err)
	}
	return &res, nil
}

func (c *Client) Availability(ctx context.Context) (bool, error) {
	var res struct {
		Online bool `json:"online"`
	}
	if err := c.do(ctx, http.MethodGet, c.url("/availability"), nil, &res); err != nil {
		return false, fmt.Errorf("availability: %w", err)
	}
	return res.Online, nil
}
