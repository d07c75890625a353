package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// HTTPClient talks JSON over HTTP to the modeling service. Rate-limit
// responses (429) are retried with doubling backoff, honoring Retry-After;
// every other failure is returned to the caller.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the service at baseURL. token may be
// empty when the service runs unauthenticated.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 5,
		logger:     logger,
	}
}

// SubmitChanges implements Client.
func (c *HTTPClient) SubmitChanges(ctx context.Context, req ChangeRequest) (string, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/changes", req, &resp); err != nil {
		return "", err
	}
	if resp.OperationID == "" {
		return "", fmt.Errorf("remote: submit response missing operationId")
	}
	return resp.OperationID, nil
}

// OperationStatus implements Client.
func (c *HTTPClient) OperationStatus(ctx context.Context, opID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/operations/"+opID, nil, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case StatusPending, StatusRunning, StatusComplete, StatusError:
	default:
		return nil, fmt.Errorf("remote: unexpected operation status %q", resp.Status)
	}
	return &resp, nil
}

// RelationshipDetail implements Client.
func (c *HTTPClient) RelationshipDetail(ctx context.Context, id string) (*RelationshipDetail, error) {
	var resp RelationshipDetail
	if err := c.do(ctx, http.MethodGet, "/api/relationships/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ModelSummary implements Client.
func (c *HTTPClient) ModelSummary(ctx context.Context) (*ModelSummary, error) {
	var resp ModelSummary
	if err := c.do(ctx, http.MethodGet, "/api/model/summary", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IntegrityDiagnostics implements Client.
func (c *HTTPClient) IntegrityDiagnostics(ctx context.Context) (*Diagnostics, error) {
	var resp Diagnostics
	if err := c.do(ctx, http.MethodGet, "/api/model/diagnostics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// errorEnvelope is the service's error response shape.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, raw, err := c.doOnce(ctx, method, path, body)
		if err != nil {
			return fmt.Errorf("remote: %s %s: %w", method, path, err)
		}

		if status == http.StatusTooManyRequests {
			if attempt == c.maxRetries {
				return fmt.Errorf("remote: %s %s: rate limited after %d attempts", method, path, attempt+1)
			}
			sleepFor := retryAfter(raw.header, backoff)
			c.logger.Warn("remote: rate limited, retrying",
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.String("sleep", sleepFor.String()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepFor):
			}
			backoff *= 2
			continue
		}

		if status < 200 || status >= 300 {
			var env errorEnvelope
			if jsonErr := json.Unmarshal(raw.body, &env); jsonErr == nil && env.Error.Code != "" {
				return apperr.New(env.Error.Code, "%s", env.Error.Message)
			}
			return fmt.Errorf("remote: %s %s: status %d: %s", method, path, status, raw.body)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw.body, out); err != nil {
			return fmt.Errorf("remote: %s %s: decode: %w", method, path, err)
		}
		return nil
	}
}

type rawResponse struct {
	body   []byte
	header http.Header
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, body any) (int, rawResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, rawResponse{}, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, rawResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, rawResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, rawResponse{}, err
	}
	return resp.StatusCode, rawResponse{body: raw, header: resp.Header}, nil
}

// retryAfter returns the server-requested delay when a Retry-After header is
// present and sane, otherwise the current backoff.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	if h == nil {
		return fallback
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 && secs <= 60 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

var _ Client = (*HTTPClient)(nil)
