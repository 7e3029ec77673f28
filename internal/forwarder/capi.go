// Package forwarder delivers captured clicks to the Meta Conversions API,
// off the redirect's critical path.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
)

// ErrBreakerOpen means the Graph endpoint is cooling down; treat as transient.
var ErrBreakerOpen = errors.New("conversions endpoint breaker open")

// SendError classifies a rejected forward so the worker can pick between
// retry, give-up, and credential invalidation.
type SendError struct {
	Status    int
	Code      int // platform error code from the body, 190 = bad OAuth token
	Transient bool
	Auth      bool
	Body      string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("conversions api status=%d code=%d transient=%t", e.Status, e.Code, e.Transient)
}

// CAPIClient posts server events to graph.facebook.com/<version>/<pixel>/events.
type CAPIClient struct {
	baseURL string
	httpc   *http.Client
	breaker *Breaker
}

func NewCAPIClient(baseURL string, timeout time.Duration, breaker *Breaker) *CAPIClient {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v18.0"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CAPIClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

type userData struct {
	FBC             *string `json:"fbc,omitempty"`
	FBP             *string `json:"fbp,omitempty"`
	ClientIP        string  `json:"client_ip_address,omitempty"`
	ClientUserAgent string  `json:"client_user_agent,omitempty"`
	ExternalID      string  `json:"external_id,omitempty"`
}

type serverEvent struct {
	EventName    string   `json:"event_name"`
	EventTime    int64    `json:"event_time"`
	EventID      string   `json:"event_id"`
	ActionSource string   `json:"action_source"`
	UserData     userData `json:"user_data"`
}

type eventsRequest struct {
	Data []serverEvent `json:"data"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one envelope. A nil return means the platform acknowledged with
// 2xx. Everything else is a *SendError or a transport error (both retriable
// unless SendError says otherwise).
func (c *CAPIClient) Send(ctx context.Context, accessToken string, env model.ConversionEnvelope) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return ErrBreakerOpen
	}

	body := eventsRequest{Data: []serverEvent{{
		EventName:    env.EventName,
		EventTime:    env.EventTime,
		EventID:      env.EventID,
		ActionSource: "website",
		UserData: userData{
			FBC:             env.FBC,
			FBP:             env.FBP,
			ClientIP:        env.IP,
			ClientUserAgent: env.UserAgent,
			ExternalID:      env.VisitorID,
		},
	}}}

	err := c.post(ctx, fmt.Sprintf("%s/%s/events", c.baseURL, env.PixelID), accessToken, body)
	if c.breaker != nil {
		if err != nil {
			c.breaker.OnFailure()
		} else {
			c.breaker.OnSuccess()
		}
	}
	return err
}

// Validate round-trips the credentials without emitting an event; used when a
// pixel is registered or re-validated.
func (c *CAPIClient) Validate(ctx context.Context, accessToken, pixelID string) error {
	u := fmt.Sprintf("%s/%s?fields=id&access_token=%s", c.baseURL, pixelID, url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 == 2 {
		return nil
	}
	return classify(res)
}

func (c *CAPIClient) post(ctx context.Context, rawURL, accessToken string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL+"?access_token="+url.QueryEscape(accessToken), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 == 2 {
		return nil
	}
	return classify(res)
}

// classify maps a non-2xx response to a SendError. 401/403 or OAuth code 190
// mean the token is dead; 429 and 5xx are transient; remaining 4xx are
// permanent payload problems.
func classify(res *http.Response) *SendError {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	se := &SendError{Status: res.StatusCode, Body: string(raw)}

	var ge graphError
	if json.Unmarshal(raw, &ge) == nil {
		se.Code = ge.Error.Code
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden, se.Code == 190:
		se.Auth = true
	case res.StatusCode == http.StatusTooManyRequests, res.StatusCode/100 == 5:
		se.Transient = true
	}
	return se
}
