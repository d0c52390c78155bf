package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClientConfig configures the remote settlement mover.
type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPClient moves value through a remote settlement service. A non-2xx
// response is a failed transfer; 409 maps to ErrInsufficientFunds.
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("custody: settlement base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/settlement/move"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

type moveRequest struct {
	Amount uint64 `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (c *HTTPClient) Move(ctx context.Context, amount uint64, from, to string) error {
	body, err := json.Marshal(moveRequest{Amount: amount, From: from, To: to})
	if err != nil {
		return fmt.Errorf("custody: marshal move request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("custody: build move request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(httpReq)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			err := decodeMoveResponse(resp)
			resp.Body.Close()
			if err == nil {
				return nil
			}
			// Insufficient funds is final; retrying cannot help.
			if err == ErrInsufficientFunds {
				return err
			}
			lastErr = err
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("custody: move failed: %w", lastErr)
}

func decodeMoveResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrInsufficientFunds
	case resp.StatusCode >= 500:
		return fmt.Errorf("custody: settlement unavailable: %s", resp.Status)
	default:
		return fmt.Errorf("custody: settlement rejected move: %s", resp.Status)
	}
}
