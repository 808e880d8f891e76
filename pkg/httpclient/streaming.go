package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMaxReconnects is sent on the error channel when the stream gives up
var ErrMaxReconnects = errors.New("max reconnect attempts exceeded")

// StreamClient handles Server-Sent Events streaming
type StreamClient struct {
	client   *Client
	messages chan Message
	errors   chan error
	done     chan struct{}
	cancel   context.CancelFunc
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Filters are topic filters held for the lifetime of the stream. With
	// none the stream carries the client's session subscriptions.
	Filters []string

	// BufferSize for the message channel
	BufferSize int

	// ReconnectDelay is the initial delay before reconnecting
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the delay between reconnects
	MaxReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
	if sc.MaxReconnectDelay == 0 {
		sc.MaxReconnectDelay = 30 * time.Second
	}
}

// Stream opens a server-sent event stream of matching messages. The
// stream reconnects until Close, ctx is done or MaxReconnectAttempts is
// exceeded.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)
	streamClient := &StreamClient{
		client:   c,
		messages: make(chan Message, config.BufferSize),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Messages returns the channel for receiving messages
func (sc *StreamClient) Messages() <-chan Message {
	return sc.messages
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.messages)
	defer close(sc.errors)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.ReconnectDelay
	policy.MaxInterval = config.MaxReconnectDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	attempts := 0
	for {
		received, err := sc.connectAndStream(ctx, config)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sc.reportError(ctx, fmt.Errorf("streaming error: %w", err))
		}
		if received {
			policy.Reset()
			attempts = 0
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			sc.reportError(ctx, fmt.Errorf("%w (%d)", ErrMaxReconnects, config.MaxReconnectAttempts))
			return
		}
		attempts++

		select {
		case <-time.After(policy.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// reportError sends err without blocking the stream
func (sc *StreamClient) reportError(ctx context.Context, err error) {
	select {
	case sc.errors <- err:
	case <-ctx.Done():
	default:
	}
}

// connectAndStream runs one SSE connection. It reports whether the server
// accepted the stream.
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) (bool, error) {
	query := url.Values{}
	for _, f := range config.Filters {
		query.Add("filter", f)
	}
	streamURL := sc.client.resolve("/api/v1/messages/stream", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// the stream outlives the client's request timeout
	httpClient := *sc.client.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, newAPIError(resp.StatusCode, body)
	}

	return true, sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			// comments, id lines and event separators
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			sc.reportError(ctx, fmt.Errorf("failed to parse message: %w", err))
			continue
		}

		select {
		case sc.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
