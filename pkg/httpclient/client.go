package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the topicmesh API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new topicmesh HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate authenticates with the server and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// Publish publishes payload, encoded as JSON, to a topic
func (c *Client) Publish(ctx context.Context, topic string, payload any, headers map[string]string) (*PublishResponse, error) {
	req := PublishRequest{
		Topic:   topic,
		Payload: payload,
		Headers: headers,
	}

	var resp PublishResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/messages", req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}
	return &resp, nil
}

// Subscribe adds topic filters to this client's session
func (c *Client) Subscribe(ctx context.Context, filters ...string) (*SubscriptionsResponse, error) {
	var resp SubscriptionsResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/subscriptions", SubscriptionRequest{Filters: filters}, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &resp, nil
}

// ListSubscriptions returns the filters this client holds
func (c *Client) ListSubscriptions(ctx context.Context) (*SubscriptionsResponse, error) {
	var resp SubscriptionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/subscriptions", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &resp, nil
}

// Unsubscribe removes topic filters. With no filters every subscription
// of the client is removed.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) (*SubscriptionsResponse, error) {
	query := url.Values{}
	for _, f := range filters {
		query.Add("filter", f)
	}

	var resp SubscriptionsResponse
	if err := c.doRequestWithQuery(ctx, http.MethodDelete, "/api/v1/subscriptions", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return &resp, nil
}

// ListTopics returns the topics with stored messages
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	var resp TopicsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/topics", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return resp.Topics, nil
}

// ReadMessages reads stored messages from a topic starting at offset. A
// non-positive limit uses the server default.
func (c *Client) ReadMessages(ctx context.Context, topic string, offset int64, limit int) (*ReadMessagesResponse, error) {
	query := url.Values{}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp ReadMessagesResponse
	path := "/api/v1/topics/" + topic + "/messages"
	if err := c.doRequestWithQuery(ctx, http.MethodGet, path, query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the server. An unhealthy node
// is reported in the response, not as an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	status, body, err := c.roundTrip(ctx, http.MethodGet, c.resolve("/api/v1/health", nil), nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("failed to get health status: %w", newAPIError(status, body))
	}

	var resp HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// Admin Methods (require admin token)

// AdminListClients returns all connected clients (admin only)
func (c *Client) AdminListClients(ctx context.Context) (*AdminClientsResponse, error) {
	var resp AdminClientsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/clients", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return &resp, nil
}

// AdminListFilters returns every filter held on the node (admin only)
func (c *Client) AdminListFilters(ctx context.Context) (*AdminFiltersResponse, error) {
	var resp AdminFiltersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/filters", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	return &resp, nil
}

// AdminGetStats returns node statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// doRequestWithQuery performs an HTTP request with query parameters and
// optional authentication. GET requests are retried with backoff on
// transport errors and server errors.
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, query url.Values, reqBody, respBody any, requireAuth bool) error {
	if requireAuth && c.token == "" {
		return ErrNotAuthenticated
	}

	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	target := c.resolve(path, query)

	attempt := func() error {
		status, data, err := c.roundTrip(ctx, method, target, body, requireAuth)
		if err != nil {
			return err
		}
		if status >= 400 {
			apiErr := newAPIError(status, data)
			if status < 500 {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}
		if respBody != nil {
			if err := json.Unmarshal(data, respBody); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
			}
		}
		return nil
	}

	if method != http.MethodGet {
		err := attempt()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.RetryInterval
	return backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(max(c.config.MaxRetries, 0))), ctx))
}

// roundTrip sends one request and returns the status and body
func (c *Client) roundTrip(ctx context.Context, method string, target *url.URL, body []byte, withAuth bool) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) resolve(path string, query url.Values) *url.URL {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return c.baseURL.ResolveReference(u)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &apiErr.Response); err != nil || apiErr.Response.Code == 0 {
		apiErr.Response = ErrorResponse{
			Error:   http.StatusText(status),
			Message: string(bytes.TrimSpace(body)),
			Code:    status,
		}
	}
	return apiErr
}
