package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/topicmesh/internal/broker"
)

const testSecret = "test-secret-key"

// testServer wires a started broker to an API server behind httptest
type testServer struct {
	Broker   *broker.Broker
	Server   *Server
	HTTP     *httptest.Server
	Registry *prometheus.Registry
}

func newTestServer(t *testing.T, configure ...func(*Config)) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	b, err := broker.New(broker.NewConfig("test-node").WithRegisterer(reg))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Close() })

	config := NewConfig().
		WithSecretKey(testSecret).
		WithKeepaliveInterval(time.Hour).
		WithGatherer(reg)
	for _, fn := range configure {
		fn(config)
	}

	srv, err := NewServer(b, config)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Broker: b, Server: srv, HTTP: ts, Registry: reg}
}

// token issues a token signed with the server's key
func (ts *testServer) token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()
	token, _, err := ts.Server.jwtAuth.GenerateToken(clientID, isAdmin)
	require.NoError(t, err)
	return token
}

// do sends a request. A non-nil body is sent as JSON.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.HTTP.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.HTTP.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) publish(t *testing.T, token, topicName string, payload any) PublishResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/v1/messages", token, map[string]any{
		"topic":   topicName,
		"payload": payload,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[PublishResponse](t, resp)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// sseStream reads server-sent events from an open stream
type sseStream struct {
	cancel context.CancelFunc
	resp   *http.Response
	lines  chan string
}

// openStream opens the message stream and waits for the connected comment,
// which is written once the stream's subscriptions are in place
func (ts *testServer) openStream(t *testing.T, token string, filters ...string) *sseStream {
	t.Helper()

	q := url.Values{}
	for _, f := range filters {
		q.Add("filter", f)
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.HTTP.URL+"/api/v1/messages/stream?"+q.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ts.HTTP.Client().Do(req)
	if err != nil {
		cancel()
		require.NoError(t, err)
	}

	s := &sseStream{cancel: cancel, resp: resp, lines: make(chan string, 100)}
	t.Cleanup(s.Close)

	if resp.StatusCode != http.StatusOK {
		return s
	}
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
	}()

	line := s.nextLine(t, func(l string) bool { return strings.HasPrefix(l, ": connected") })
	require.NotEmpty(t, line)
	return s
}

func (s *sseStream) Close() {
	s.cancel()
	s.resp.Body.Close()
}

// nextLine returns the first line accepted by match, failing after a timeout
func (s *sseStream) nextLine(t *testing.T, match func(string) bool) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				t.Fatal("stream ended")
			}
			if match(line) {
				return line
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream line")
		}
	}
}

// nextMessage returns the next data event decoded as a Message
func (s *sseStream) nextMessage(t *testing.T) Message {
	t.Helper()
	line := s.nextLine(t, func(l string) bool { return strings.HasPrefix(l, "data: ") })
	var m Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m))
	return m
}

// assertNoMessage checks that no data event arrives within wait
func (s *sseStream) assertNoMessage(t *testing.T, wait time.Duration) {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				t.Fatalf("unexpected message: %s", line)
			}
		case <-timeout:
			return
		}
	}
}
