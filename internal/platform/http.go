package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "agentsched/pkg/logx"
)

// ErrInvalidCredential is returned by Validate when the platform rejects the
// credential (as opposed to a transport failure).
var ErrInvalidCredential = errors.New("credential rejected by platform")

type Config struct {
	BaseURL string
	Timeout time.Duration

	// SendRatePerSec caps outbound sends across all dispatches. 0 disables.
	SendRatePerSec int
}

// HTTPClient implements Client against a Letta-style agent API.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewHTTPClient(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("platform.base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("platform.base_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &HTTPClient{
		baseURL: base,
		hc:      &http.Client{Timeout: timeout},
		log:     log,
	}
	if cfg.SendRatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec)
	}
	return c, nil
}

// Validate probes the platform by listing agents with the credential.
func (c *HTTPClient) Validate(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agents/?limit=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("validate credential: %w", err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrInvalidCredential
	default:
		return fmt.Errorf("validate credential: unexpected status %d", resp.StatusCode)
	}
}

type sendRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send queues a message run for the agent asynchronously and returns the run id.
func (c *HTTPClient) Send(ctx context.Context, agentID, credential, message, role string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("send rate limit: %w", err)
		}
	}

	body, err := json.Marshal(sendRequest{Role: role, Content: message})
	if err != nil {
		return "", err
	}
	u := c.baseURL + "/v1/agents/" + url.PathEscape(agentID) + "/messages/async"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("send message: decode response: %w", err)
	}
	if sr.ID == "" {
		return "", errors.New("send message: platform returned empty run id")
	}
	return sr.ID, nil
}

// drain discards the remaining body so the connection can be reused.
func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
