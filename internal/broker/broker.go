package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/internal/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/internal/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	eventlogpkg "github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	routingtablepkg "github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

const (
	sourceLocal      = "local"
	sourceUpstream   = "upstream"
	sourceDownstream = "downstream"
)

var (
	// ErrClosed is returned when operating on a closed broker
	ErrClosed = errors.New("broker is closed")
	// ErrNotStarted is returned when routing messages before Start
	ErrNotStarted = errors.New("broker is not started")
	// ErrEmptyClientID is returned when a client ID is blank
	ErrEmptyClientID = errors.New("client ID cannot be empty")
	// ErrUnknownClient is returned for a client ID without a session
	ErrUnknownClient = errors.New("client is not connected")
	// ErrNilRecord is returned when a nil record is delivered
	ErrNilRecord = errors.New("record cannot be nil")
)

// Broker implements broker.Broker. It orchestrates the routing table, the
// message history, client sessions and upstream links.
type Broker struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger

	routingTable *routingtable.InMemoryRoutingTable[*eventlogpkg.Record]
	eventLog     *eventlog.InMemoryEventLog
	cache        *topic.Cache
	seen         *lru.Cache[string, struct{}]
	metrics      *Metrics

	// State management
	started bool
	closed  bool

	clients   map[string]*Session
	upstreams []broker.Upstream

	published  atomic.Uint64
	delivered  atomic.Uint64
	duplicates atomic.Uint64
}

// New creates a broker with the given configuration. It is not started.
func New(config *Config) (*Broker, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger.Named("broker").With(zap.String("node_id", config.NodeID))

	rtConfig := config.RoutingTableConfig
	if rtConfig == nil {
		rtConfig = routingtable.NewConfig().
			WithLogger(config.Logger).
			WithRegisterer(config.Registerer)
	}
	rt, err := routingtable.NewInMemoryRoutingTableWithConfig[*eventlogpkg.Record](rtConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing table: %w", err)
	}

	logConfig := config.EventLogConfig
	if logConfig == nil {
		logConfig = &eventlog.Config{}
	}
	history, err := eventlog.NewInMemoryEventLogWithConfig(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	seen, err := lru.New[string, struct{}](config.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	metrics, err := NewMetrics(rtConfig.Namespace, config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register broker metrics: %w", err)
	}

	cache := rtConfig.Cache
	if cache == nil {
		cache = topic.DefaultCache()
	}

	return &Broker{
		config:       config,
		logger:       logger,
		routingTable: rt,
		eventLog:     history,
		cache:        cache,
		seen:         seen,
		metrics:      metrics,
		clients:      make(map[string]*Session),
	}, nil
}

// Start starts accepting messages
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return nil // Already started, idempotent
	}
	b.started = true
	b.logger.Info("broker started")
	return nil
}

// Stop stops accepting messages. Sessions and subscriptions are kept.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil // Not started, idempotent
	}
	b.started = false
	b.logger.Info("broker stopped")
	return nil
}

// Close disconnects every client and releases the routing table and history.
// The broker cannot be restarted.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.started = false
	sessions := b.clients
	b.clients = make(map[string]*Session)
	b.upstreams = nil
	b.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	b.metrics.Sessions.Set(0)

	var errs []error
	if err := b.routingTable.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close routing table: %w", err))
	}
	if err := b.eventLog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event log: %w", err))
	}
	return errors.Join(errs...)
}

// NodeID returns this node's identifier
func (b *Broker) NodeID() string {
	return b.config.NodeID
}

// RoutingTable returns the routing table shared by clients and peers
func (b *Broker) RoutingTable() routingtablepkg.RoutingTable[*eventlogpkg.Record] {
	return b.routingTable
}

// Connect opens a session for clientID. Connecting an already connected
// client returns its existing session.
func (b *Broker) Connect(ctx context.Context, clientID string) (broker.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if s, ok := b.clients[clientID]; ok {
		return s, nil
	}

	s := NewSession(clientID, b.config.ClientBufferSize)
	b.clients[clientID] = s
	b.metrics.Sessions.Set(float64(len(b.clients)))
	b.logger.Debug("client connected", zap.String("client_id", clientID))
	return s, nil
}

// Disconnect drops the client's subscriptions and closes its channel
func (b *Broker) Disconnect(ctx context.Context, clientID string) error {
	b.mu.Lock()
	s, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
		b.metrics.Sessions.Set(float64(len(b.clients)))
	}
	closed := b.closed
	b.mu.Unlock()

	if !ok {
		if closed {
			return ErrClosed
		}
		return ErrUnknownClient
	}

	if err := b.routingTable.UnsubscribeAll(s); err != nil && !errors.Is(err, routingtable.ErrClosed) {
		return fmt.Errorf("failed to drop subscriptions for %s: %w", clientID, err)
	}
	s.close()
	b.logger.Debug("client disconnected",
		zap.String("client_id", clientID), zap.Uint64("dropped", s.Dropped()))
	return nil
}

// Publish validates topicName and routes a new record to local subscribers,
// downstream peers and every upstream. The stored record is returned.
func (b *Broker) Publish(ctx context.Context, clientID, topicName string, payload []byte, headers map[string]string) (*eventlogpkg.Record, error) {
	name, err := b.cache.Get(topicName)
	if err != nil {
		return nil, err
	}
	if err := name.ValidateName(); err != nil {
		return nil, err
	}

	record := eventlogpkg.NewRecordWithHeaders(name.Canonical(), payload, headers).
		WithOrigin(b.config.NodeID)

	stored, _, err := b.route(ctx, record, sourceLocal)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("message published",
		zap.String("client_id", clientID),
		zap.String("topic", stored.Topic),
		zap.String("message_id", stored.ID),
		zap.Int64("offset", stored.Offset))
	return stored, nil
}

// Deliver routes a record received from an upstream to local subscribers
// and downstream peers. It is never sent back upstream.
func (b *Broker) Deliver(ctx context.Context, record *eventlogpkg.Record) error {
	_, _, err := b.route(ctx, record, sourceUpstream)
	return err
}

// Forward routes a record received from a downstream peer to local
// subscribers, other downstream peers and every upstream.
func (b *Broker) Forward(ctx context.Context, record *eventlogpkg.Record) error {
	_, _, err := b.route(ctx, record, sourceDownstream)
	return err
}

// route stores record and dispatches it. Records whose ID was already routed
// are dropped and reported as duplicates.
func (b *Broker) route(ctx context.Context, record *eventlogpkg.Record, source string) (*eventlogpkg.Record, bool, error) {
	if record == nil {
		return nil, false, ErrNilRecord
	}
	if err := b.checkRunning(); err != nil {
		return nil, false, err
	}

	if dup, _ := b.seen.ContainsOrAdd(record.ID, struct{}{}); dup {
		b.duplicates.Add(1)
		b.metrics.Duplicates.Inc()
		b.logger.Debug("dropping duplicate message",
			zap.String("message_id", record.ID), zap.String("source", source))
		return nil, true, nil
	}

	// Persist locally before forwarding
	stored, err := b.eventLog.Append(ctx, record)
	if err != nil {
		// not routed, so a retry of the same record must get through
		b.seen.Remove(record.ID)
		return nil, false, fmt.Errorf("failed to persist message locally: %w", err)
	}

	n := b.routingTable.HandleMessage(stored.Topic, stored)
	b.published.Add(1)
	b.delivered.Add(uint64(n))
	b.metrics.Published.WithLabelValues(source).Inc()

	if source != sourceUpstream {
		for _, up := range b.upstreamLinks() {
			if err := up.Publish(ctx, stored); err != nil {
				b.logger.Warn("failed to forward message upstream",
					zap.String("upstream", up.Address()),
					zap.String("message_id", stored.ID),
					zap.Error(err))
			}
		}
	}
	return stored, false, nil
}

// Subscribe adds filters to a connected client
func (b *Broker) Subscribe(ctx context.Context, clientID string, filters []string) error {
	s, err := b.session(clientID)
	if err != nil {
		return err
	}
	if err := b.routingTable.Subscribe(filters, s); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", clientID, err)
	}
	if !b.isCurrent(clientID, s) {
		// Disconnect ran between the lookup and the subscribe and may have
		// dropped the session's filters before these were added
		if err := b.routingTable.UnsubscribeAll(s); err != nil && !errors.Is(err, routingtable.ErrClosed) {
			return fmt.Errorf("failed to drop subscriptions for %s: %w", clientID, err)
		}
		return ErrUnknownClient
	}
	b.logger.Debug("client subscribed",
		zap.String("client_id", clientID), zap.Strings("filters", filters))
	return nil
}

// Unsubscribe removes filters from a connected client. With no filters
// every subscription of the client is dropped.
func (b *Broker) Unsubscribe(ctx context.Context, clientID string, filters []string) error {
	s, err := b.session(clientID)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		err = b.routingTable.UnsubscribeAll(s)
	} else {
		err = b.routingTable.Unsubscribe(filters, s)
	}
	if err != nil {
		return fmt.Errorf("failed to unsubscribe %s: %w", clientID, err)
	}
	return nil
}

// ClientFilters returns the sorted filters held by a connected client
func (b *Broker) ClientFilters(ctx context.Context, clientID string) ([]string, error) {
	s, err := b.session(clientID)
	if err != nil {
		return nil, err
	}
	return b.routingTable.Filters(s), nil
}

// AllFilters returns the sorted union of filters held by clients and peers
func (b *Broker) AllFilters(ctx context.Context) []string {
	return b.routingTable.AllFilters()
}

// Clients returns the connected sessions ordered by client ID
func (b *Broker) Clients(ctx context.Context) []broker.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]broker.Client, 0, len(b.clients))
	for _, s := range b.clients {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ReadTopic reads up to limit stored records of topicName starting at offset.
// A zero limit reads nothing.
func (b *Broker) ReadTopic(ctx context.Context, topicName string, offset int64, limit int) ([]*eventlogpkg.Record, error) {
	name, err := b.cache.Get(topicName)
	if err != nil {
		return nil, err
	}
	if err := name.ValidateName(); err != nil {
		return nil, err
	}
	return b.eventLog.Read(ctx, name.Canonical(), offset, limit)
}

// Topics returns the topics with stored messages
func (b *Broker) Topics(ctx context.Context) ([]string, error) {
	return b.eventLog.Topics(ctx)
}

// AttachUpstream adds a link that receives local and downstream publishes
func (b *Broker) AttachUpstream(upstream broker.Upstream) {
	if upstream == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ups := make([]broker.Upstream, len(b.upstreams), len(b.upstreams)+1)
	copy(ups, b.upstreams)
	b.upstreams = append(ups, upstream)
}

// Stats returns a snapshot of broker counters
func (b *Broker) Stats(ctx context.Context) (broker.Stats, error) {
	history, err := b.eventLog.Statistics(ctx)
	if err != nil && !errors.Is(err, eventlog.ErrClosed) {
		return broker.Stats{}, fmt.Errorf("failed to read history statistics: %w", err)
	}

	b.mu.RLock()
	clients := len(b.clients)
	upstreams := len(b.upstreams)
	var dropped uint64
	for _, s := range b.clients {
		dropped += s.Dropped()
	}
	b.mu.RUnlock()

	return broker.Stats{
		NodeID:      b.config.NodeID,
		Clients:     clients,
		Subscribers: b.routingTable.SubscriberCount(),
		Filters:     b.routingTable.FilterCount(),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Duplicates:  b.duplicates.Load(),
		Dropped:     dropped,
		Upstreams:   upstreams,
		History:     history,
		TopicCache:  b.cache.Stats(),
	}, nil
}

// Health returns the overall health status of this node
func (b *Broker) Health(ctx context.Context) (broker.HealthStatus, error) {
	b.mu.RLock()
	closed := b.closed
	started := b.started
	clients := len(b.clients)
	ups := b.upstreams
	b.mu.RUnlock()

	connected := 0
	for _, up := range ups {
		if up.Connected() {
			connected++
		}
	}

	status := broker.HealthStatus{
		HistoryHealthy:      !closed,
		RoutingTableHealthy: !closed,
		UpstreamsHealthy:    connected == len(ups),
		ConnectedClients:    clients,
		ConnectedUpstreams:  connected,
	}
	status.Healthy = started && status.HistoryHealthy && status.RoutingTableHealthy

	switch {
	case closed:
		status.Message = "broker is closed"
	case !started:
		status.Message = "broker is not started"
	case !status.UpstreamsHealthy:
		status.Message = fmt.Sprintf("%d of %d upstreams connected", connected, len(ups))
	default:
		status.Message = "all components operational"
	}
	return status, nil
}

func (b *Broker) checkRunning() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	if !b.started {
		return ErrNotStarted
	}
	return nil
}

func (b *Broker) session(clientID string) (*Session, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	s, ok := b.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return s, nil
}

// isCurrent reports whether s is still the connected session of clientID
func (b *Broker) isCurrent(clientID string, s *Session) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clients[clientID] == s
}

func (b *Broker) upstreamLinks() []broker.Upstream {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.upstreams
}

// Verify that Broker implements the broker.Broker interface at compile time
var _ broker.Broker = (*Broker)(nil)
