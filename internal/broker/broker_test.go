package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/topicmesh/internal/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/internal/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	eventlogpkg "github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

func newStartedBroker(t *testing.T, config *Config) *Broker {
	t.Helper()
	if config == nil {
		config = NewConfig("test-node")
	}
	b, err := New(config)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func receive(t *testing.T, c broker.Client) *eventlogpkg.Record {
	t.Helper()
	select {
	case rec, ok := <-c.Messages():
		require.True(t, ok, "channel closed")
		return rec
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c broker.Client) {
	t.Helper()
	select {
	case rec := <-c.Messages():
		t.Fatalf("unexpected message on %s", rec.Topic)
	default:
	}
}

// fakeUpstream records forwarded messages
type fakeUpstream struct {
	mu        sync.Mutex
	address   string
	connected bool
	records   []*eventlogpkg.Record
	err       error
}

func (u *fakeUpstream) Address() string { return u.address }

func (u *fakeUpstream) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

func (u *fakeUpstream) Publish(_ context.Context, rec *eventlogpkg.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
	return u.err
}

func (u *fakeUpstream) received() []*eventlogpkg.Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*eventlogpkg.Record(nil), u.records...)
}

func TestNew(t *testing.T) {
	b, err := New(NewConfig("node-a"))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "node-a", b.NodeID())
	assert.NotNil(t, b.RoutingTable())
	assert.Empty(t, b.Clients(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(NewConfig(""))
	assert.ErrorIs(t, err, ErrEmptyNodeID)

	_, err = New(NewConfig("n").WithClientBufferSize(-1))
	assert.ErrorIs(t, err, ErrInvalidClientBufferSize)

	_, err = New(NewConfig("n").WithEventLogConfig(&eventlog.Config{MaxEventsPerTopic: -1}))
	assert.ErrorIs(t, err, eventlog.ErrInvalidRetention)
}

func TestBroker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b, err := New(NewConfig("node-a"))
	require.NoError(t, err)

	_, err = b.Publish(ctx, "c", "a/b", nil, nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Start(ctx))
	_, err = b.Publish(ctx, "c", "a/b", nil, nil)
	assert.NoError(t, err)

	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	_, err = b.Publish(ctx, "c", "a/b", nil, nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Start(ctx), ErrClosed)
	_, err = b.Connect(ctx, "c")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBroker_ConnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c1, err := b.Connect(ctx, "client-1")
	require.NoError(t, err)
	c2, err := b.Connect(ctx, "client-1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	_, err = b.Connect(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyClientID)

	assert.Len(t, b.Clients(ctx), 1)
}

func TestBroker_PublishDeliversToMatchingClients(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	sensors, err := b.Connect(ctx, "sensors")
	require.NoError(t, err)
	kitchen, err := b.Connect(ctx, "kitchen")
	require.NoError(t, err)

	require.NoError(t, b.Subscribe(ctx, "sensors", []string{"home/+/temperature", "home/#"}))
	require.NoError(t, b.Subscribe(ctx, "kitchen", []string{"home/kitchen/light"}))

	stored, err := b.Publish(ctx, "publisher", "home/bedroom/temperature", []byte("21.5"), map[string]string{"unit": "C"})
	require.NoError(t, err)
	assert.Equal(t, "home/bedroom/temperature", stored.Topic)
	assert.Equal(t, int64(0), stored.Offset)
	assert.Equal(t, "test-node", stored.Origin)
	assert.NotEmpty(t, stored.ID)

	rec := receive(t, sensors)
	assert.Equal(t, stored.ID, rec.ID)
	assert.Equal(t, []byte("21.5"), rec.Payload)
	assert.Equal(t, "C", rec.Headers["unit"])

	// two matching filters still deliver once
	assertNoMessage(t, sensors)
	assertNoMessage(t, kitchen)
}

func TestBroker_PublishCanonicalizesTopic(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"a/b"}))

	stored, err := b.Publish(ctx, "p", " a / b ", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "a/b", stored.Topic)
	assert.Equal(t, stored.ID, receive(t, c).ID)
}

func TestBroker_PublishRejectsInvalidTopics(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	_, err := b.Publish(ctx, "p", "a/+/c", nil, nil)
	assert.ErrorIs(t, err, topic.ErrWildcardInTopicName)

	_, err = b.Publish(ctx, "p", "a/#", nil, nil)
	assert.ErrorIs(t, err, topic.ErrWildcardInTopicName)

	_, err = b.Publish(ctx, "p", "  ", nil, nil)
	assert.ErrorIs(t, err, topic.ErrEmptyTopic)

	_, err = b.Publish(ctx, "p", "a/b+", nil, nil)
	assert.ErrorIs(t, err, topic.ErrMalformedFilter)
}

func TestBroker_SubscribeErrors(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	err := b.Subscribe(ctx, "ghost", []string{"a"})
	assert.ErrorIs(t, err, ErrUnknownClient)

	_, err = b.Connect(ctx, "c")
	require.NoError(t, err)

	err = b.Subscribe(ctx, "c", []string{"a/#b"})
	assert.ErrorIs(t, err, topic.ErrMalformedFilter)

	err = b.Subscribe(ctx, "c", nil)
	assert.ErrorIs(t, err, routingtable.ErrNoFilters)

	filters, err := b.ClientFilters(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestBroker_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"a/+", "b/#", "c"}))

	require.NoError(t, b.Unsubscribe(ctx, "c", []string{"a/+"}))
	filters, err := b.ClientFilters(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b/#", "c"}, filters)

	_, err = b.Publish(ctx, "p", "a/x", nil, nil)
	require.NoError(t, err)
	assertNoMessage(t, c)

	require.NoError(t, b.Unsubscribe(ctx, "c", nil))
	filters, err = b.ClientFilters(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, filters)
	assert.Empty(t, b.AllFilters(ctx))
}

func TestBroker_DisconnectDropsSubscriptions(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"a/#"}))
	_, err = b.Publish(ctx, "p", "a/b", nil, nil)
	require.NoError(t, err)

	require.NoError(t, b.Disconnect(ctx, "c"))
	assert.Empty(t, b.AllFilters(ctx))
	assert.Empty(t, b.Clients(ctx))

	// pending messages stay readable, then the channel is closed
	rec, ok := <-c.Messages()
	require.True(t, ok)
	assert.Equal(t, "a/b", rec.Topic)
	_, ok = <-c.Messages()
	assert.False(t, ok)

	assert.ErrorIs(t, b.Disconnect(ctx, "c"), ErrUnknownClient)
}

func TestBroker_FullClientBufferDropsForThatClientOnly(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, NewConfig("n").WithClientBufferSize(1))

	slow, err := b.Connect(ctx, "slow")
	require.NoError(t, err)
	fast, err := b.Connect(ctx, "fast")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "slow", []string{"t"}))
	require.NoError(t, b.Subscribe(ctx, "fast", []string{"t"}))

	_, err = b.Publish(ctx, "p", "t", []byte("1"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), receive(t, fast).Payload)

	_, err = b.Publish(ctx, "p", "t", []byte("2"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), receive(t, fast).Payload)

	assert.Equal(t, uint64(1), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, []byte("1"), receive(t, slow).Payload)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Delivered)
}

func TestBroker_PublishForwardsUpstream(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	up := &fakeUpstream{address: "upstream:1", connected: true}
	b.AttachUpstream(up)
	b.AttachUpstream(nil)

	stored, err := b.Publish(ctx, "p", "a/b", []byte("x"), nil)
	require.NoError(t, err)

	got := up.received()
	require.Len(t, got, 1)
	assert.Equal(t, stored.ID, got[0].ID)
}

func TestBroker_UpstreamErrorDoesNotFailPublish(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)
	b.AttachUpstream(&fakeUpstream{address: "down:1", err: errors.New("link down")})

	_, err := b.Publish(ctx, "p", "a", nil, nil)
	assert.NoError(t, err)
}

func TestBroker_DeliverIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)
	up := &fakeUpstream{address: "upstream:1", connected: true}
	b.AttachUpstream(up)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"remote/#"}))

	rec := eventlogpkg.NewRecord("remote/x", []byte("hi")).WithOrigin("other-node")
	require.NoError(t, b.Deliver(ctx, rec))

	got := receive(t, c)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "other-node", got.Origin)
	assert.Empty(t, up.received())

	stored, err := b.ReadTopic(ctx, "remote/x", 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)
}

func TestBroker_ForwardGoesUpstream(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)
	up := &fakeUpstream{address: "upstream:1", connected: true}
	b.AttachUpstream(up)

	rec := eventlogpkg.NewRecord("x", nil).WithOrigin("leaf")
	require.NoError(t, b.Forward(ctx, rec))
	require.Len(t, up.received(), 1)
}

func TestBroker_DuplicatesAreDropped(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"#"}))

	rec := eventlogpkg.NewRecord("loop", nil)
	require.NoError(t, b.Deliver(ctx, rec))
	require.NoError(t, b.Forward(ctx, rec))
	require.NoError(t, b.Deliver(ctx, rec))

	receive(t, c)
	assertNoMessage(t, c)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Duplicates)
	assert.Equal(t, uint64(1), stats.Published)

	assert.ErrorIs(t, b.Deliver(ctx, nil), ErrNilRecord)
}

func TestBroker_ReadTopic(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, NewConfig("n").WithEventLogConfig(&eventlog.Config{MaxEventsPerTopic: 3}))

	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, "p", "orders/new", []byte{byte(i)}, nil)
		require.NoError(t, err)
	}

	recs, err := b.ReadTopic(ctx, "orders/new", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(2), recs[0].Offset)

	recs, err = b.ReadTopic(ctx, "orders/new", 3, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte{3}, recs[0].Payload)

	_, err = b.ReadTopic(ctx, "orders/+", 0, 1)
	assert.ErrorIs(t, err, topic.ErrWildcardInTopicName)

	topics, err := b.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders/new"}, topics)
}

func TestBroker_Health(t *testing.T) {
	ctx := context.Background()
	b, err := New(NewConfig("n"))
	require.NoError(t, err)

	h, err := b.Health(ctx)
	require.NoError(t, err)
	assert.False(t, h.Healthy)

	require.NoError(t, b.Start(ctx))
	_, err = b.Connect(ctx, "c")
	require.NoError(t, err)

	up := &fakeUpstream{address: "u"}
	b.AttachUpstream(up)

	h, err = b.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.False(t, h.UpstreamsHealthy)
	assert.Equal(t, 1, h.ConnectedClients)
	assert.Equal(t, 0, h.ConnectedUpstreams)
	assert.Equal(t, "0 of 1 upstreams connected", h.Message)

	up.mu.Lock()
	up.connected = true
	up.mu.Unlock()

	h, err = b.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.UpstreamsHealthy)
	assert.Equal(t, 1, h.ConnectedUpstreams)

	require.NoError(t, b.Close())
	h, err = b.Health(ctx)
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, "broker is closed", h.Message)
}

func TestBroker_CloseClosesSessions(t *testing.T) {
	ctx := context.Background()
	b, err := New(NewConfig("n"))
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, b.Subscribe(ctx, "c", []string{"a"}), ErrClosed)
}

func TestBroker_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	b := newStartedBroker(t, NewConfig("n").WithRegisterer(reg))

	_, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"#"}))
	_, err = b.Publish(ctx, "p", "a", nil, nil)
	require.NoError(t, err)
	rec := eventlogpkg.NewRecord("a", nil)
	require.NoError(t, b.Deliver(ctx, rec))
	require.NoError(t, b.Deliver(ctx, rec))

	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Published.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Published.WithLabelValues("upstream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.Sessions))

	// routing metrics share the registry
	n, err := testutil.GatherAndCount(reg, "topicmesh_routing_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBroker_ConcurrentPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, NewConfig("n").WithClientBufferSize(10000))

	const clients = 8
	const messages = 200

	var wg sync.WaitGroup
	sessions := make([]broker.Client, clients)
	for i := range sessions {
		c, err := b.Connect(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		require.NoError(t, b.Subscribe(ctx, c.ID(), []string{"load/#"}))
		sessions[i] = c
	}

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				if _, err := b.Publish(ctx, "p", "load/x", nil, nil); err != nil {
					t.Errorf("publish failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, c := range sessions {
		assert.Len(t, c.Messages(), 4*messages)
	}
}

func TestBroker_FailedAppendIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	c, err := b.Connect(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(ctx, "c", []string{"a/+"}))

	rec := eventlogpkg.NewRecord("a/b", []byte("x"))
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, b.Deliver(cancelled, rec), context.Canceled)
	assertNoMessage(t, c)

	// the retry is stored and delivered
	require.NoError(t, b.Deliver(ctx, rec))
	assert.Equal(t, rec.ID, receive(t, c).ID)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Duplicates)
}

// listenerFunc calls onSubscribe for every subscription change
type listenerFunc struct {
	onSubscribe func(filters []string)
}

func (l listenerFunc) OnSubscribe(filters, _ []string) { l.onSubscribe(filters) }
func (l listenerFunc) OnUnsubscribe(_, _ []string)     {}

func TestBroker_SubscribeRacingDisconnect(t *testing.T) {
	ctx := context.Background()
	b := newStartedBroker(t, nil)

	_, err := b.Connect(ctx, "c")
	require.NoError(t, err)

	// drop the session after Subscribe looked it up but before it returns,
	// the way a concurrent Disconnect would
	b.RoutingTable().AddListener(&listenerFunc{onSubscribe: func(filters []string) {
		b.mu.Lock()
		delete(b.clients, "c")
		b.mu.Unlock()
	}})

	err = b.Subscribe(ctx, "c", []string{"late/#"})
	assert.ErrorIs(t, err, ErrUnknownClient)
	assert.Empty(t, b.AllFilters(ctx))
}
