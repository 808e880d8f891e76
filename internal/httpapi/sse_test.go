package httpapi

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMessages_Headers(t *testing.T) {
	ts := newTestServer(t)
	s := ts.openStream(t, ts.token(t, "c1", false), "a/#")

	require.Equal(t, http.StatusOK, s.resp.StatusCode)
	assert.Equal(t, "text/event-stream", s.resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", s.resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", s.resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStreamMessages_FilterMatching(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)
	s := ts.openStream(t, token, "home/+/temp", "alerts/#")

	ts.publish(t, token, "home/kitchen/humidity", 40)
	kitchen := ts.publish(t, token, "home/kitchen/temp", 21)
	ts.publish(t, token, "alerts", "parent")
	fire := ts.publish(t, token, "alerts/fire", "fire")

	m := s.nextMessage(t)
	assert.Equal(t, kitchen.MessageID, m.MessageID)
	assert.Equal(t, "home/kitchen/temp", m.Topic)
	assert.Equal(t, float64(21), m.Payload)

	// "alerts/#" needs a level below "alerts"
	m = s.nextMessage(t)
	assert.Equal(t, fire.MessageID, m.MessageID)
	assert.Equal(t, "fire", m.Payload)

	s.assertNoMessage(t, 100*time.Millisecond)
}

func TestStreamMessages_OverlappingFiltersDeliverOnce(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)
	s := ts.openStream(t, token, "a/#", "a/+", "+/b")

	pub := ts.publish(t, token, "a/b", "x")

	assert.Equal(t, pub.MessageID, s.nextMessage(t).MessageID)
	s.assertNoMessage(t, 100*time.Millisecond)
}

func TestStreamMessages_EventCarriesID(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)
	s := ts.openStream(t, token, "#")

	pub := ts.publish(t, token, "x", 1)

	line := s.nextLine(t, func(l string) bool { return strings.HasPrefix(l, "id: ") })
	assert.Equal(t, "id: "+pub.MessageID, line)
}

func TestStreamMessages_SessionSubscriptions(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)

	resp := ts.do(t, http.MethodPost, "/api/v1/subscriptions", token, SubscriptionRequest{Filters: []string{"orders/#"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	s := ts.openStream(t, token)
	pub := ts.publish(t, ts.token(t, "c2", false), "orders/42", map[string]any{"qty": 2})

	m := s.nextMessage(t)
	assert.Equal(t, pub.MessageID, m.MessageID)
	assert.Equal(t, map[string]any{"qty": float64(2)}, m.Payload)
}

func TestStreamMessages_EndsOnDisconnect(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)

	resp := ts.do(t, http.MethodPost, "/api/v1/subscriptions", token, SubscriptionRequest{Filters: []string{"a"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	s := ts.openStream(t, token)
	require.NoError(t, ts.Broker.Disconnect(t.Context(), "c1"))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream did not end after disconnect")
		}
	}
}

func TestStreamMessages_FilterSessionRemovedOnClose(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "c1", false)

	s := ts.openStream(t, token, "a/#")
	assert.Equal(t, []string{"a/#"}, ts.Broker.AllFilters(t.Context()))
	clients := ts.Broker.Clients(t.Context())
	require.Len(t, clients, 1)
	assert.True(t, strings.HasPrefix(clients[0].ID(), "c1#"))

	s.Close()

	assert.Eventually(t, func() bool {
		return len(ts.Broker.Clients(t.Context())) == 0 && len(ts.Broker.AllFilters(t.Context())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamMessages_Keepalive(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.KeepaliveInterval = 20 * time.Millisecond })
	s := ts.openStream(t, ts.token(t, "c1", false), "a")

	assert.Equal(t, ": ping", s.nextLine(t, func(l string) bool { return strings.HasPrefix(l, ":") }))
}

func TestStreamMessages_InvalidFilter(t *testing.T) {
	ts := newTestServer(t)
	s := ts.openStream(t, ts.token(t, "c1", false), "a/b#")

	assert.Equal(t, http.StatusBadRequest, s.resp.StatusCode)
	assert.Eventually(t, func() bool {
		return len(ts.Broker.Clients(t.Context())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
