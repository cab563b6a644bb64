package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	x402 "github.com/mark3labs/x402-mcp"
	"github.com/mark3labs/x402-mcp/retry"
)

// Default timeouts for facilitator operations. Verification is a quick
// signature and balance check; settlement waits for on-chain confirmation.
const (
	DefaultVerifyTimeout = 5 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// HTTPClient talks to an x402 facilitator service over HTTP.
type HTTPClient struct {
	// BaseURL is the facilitator endpoint, e.g. "https://facilitator.x402.rs".
	BaseURL string

	// Client is the underlying HTTP client. NewHTTPClient sets one with the
	// settle timeout; when nil, http.DefaultClient is used.
	Client *http.Client

	// Authorization, when set, is sent verbatim in the Authorization header.
	Authorization string

	// VerifyTimeout bounds verify and supported calls.
	VerifyTimeout time.Duration

	// SettleTimeout bounds settle calls.
	SettleTimeout time.Duration

	// Retry configures backoff for idempotent calls (verify, supported).
	// Settlement is never retried.
	Retry retry.Config
}

// NewHTTPClient creates a facilitator client with default timeouts.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:       baseURL,
		Client:        &http.Client{Timeout: DefaultSettleTimeout},
		VerifyTimeout: DefaultVerifyTimeout,
		SettleTimeout: DefaultSettleTimeout,
		Retry:         retry.DefaultConfig,
	}
}

// request is the body of verify and settle calls.
type request struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirement `json:"paymentRequirements"`
}

// Verify implements Interface. Transient transport failures are retried;
// facilitator rejections are not.
func (c *HTTPClient) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout())
	defer cancel()

	return retry.WithRetry(ctx, c.retryConfig(), isTransient, func() (*VerifyResponse, error) {
		var resp VerifyResponse
		if err := c.post(ctx, "/verify", &request{
			X402Version:         x402.X402Version,
			PaymentPayload:      payment,
			PaymentRequirements: &requirement,
		}, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Settle implements Interface.
func (c *HTTPClient) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement x402.PaymentRequirement) (*SettleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settleTimeout())
	defer cancel()

	var resp SettleResponse
	if err := c.post(ctx, "/settle", &request{
		X402Version:         x402.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: &requirement,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Supported queries the facilitator for supported payment types.
func (c *HTTPClient) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout())
	defer cancel()

	return retry.WithRetry(ctx, c.retryConfig(), isTransient, func() (*SupportedResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
		}

		var supported SupportedResponse
		if err := json.NewDecoder(resp.Body).Decode(&supported); err != nil {
			return nil, fmt.Errorf("failed to decode supported response: %w", err)
		}
		return &supported, nil
	})
}

// EnrichRequirement merges the facilitator's extra data for the matching
// network and scheme into the requirement. User-specified values win.
func (c *HTTPClient) EnrichRequirement(ctx context.Context, req x402.PaymentRequirement) (x402.PaymentRequirement, error) {
	supported, err := c.Supported(ctx)
	if err != nil {
		return req, fmt.Errorf("failed to fetch supported payment types: %w", err)
	}

	for _, kind := range supported.Kinds {
		if kind.Network != req.Network || kind.Scheme != req.Scheme {
			continue
		}
		if len(kind.Extra) == 0 {
			break
		}
		if req.Extra == nil {
			req.Extra = make(map[string]any)
		}
		for k, v := range kind.Extra {
			if _, exists := req.Extra[k]; !exists {
				req.Extra[k] = v
			}
		}
		break
	}

	return req, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s failed: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPClient) retryConfig() retry.Config {
	if c.Retry.MaxAttempts > 0 {
		return c.Retry
	}
	return retry.DefaultConfig
}

func (c *HTTPClient) verifyTimeout() time.Duration {
	if c.VerifyTimeout > 0 {
		return c.VerifyTimeout
	}
	return DefaultVerifyTimeout
}

func (c *HTTPClient) settleTimeout() time.Duration {
	if c.SettleTimeout > 0 {
		return c.SettleTimeout
	}
	return DefaultSettleTimeout
}

// isTransient reports whether an error is worth retrying: only transport
// failures, never facilitator rejections.
func isTransient(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
