package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/internal/broker"
	"github.com/rmacdonaldsmith/topicmesh/internal/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/internal/routingtable"
	eventlogpkg "github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP request handlers
type Handlers struct {
	broker  *broker.Broker
	jwtAuth *JWTAuth
	config  *Config
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(b *broker.Broker, jwtAuth *JWTAuth, config *Config) *Handlers {
	return &Handlers{
		broker:  b,
		jwtAuth: jwtAuth,
		config:  config,
		logger:  config.Logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	isAdmin := req.ClientID == AdminClientID
	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		h.logger.Error("failed to issue token", zap.String("client_id", req.ClientID), zap.Error(err))
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Message endpoints

// PublishMessage handles POST /api/v1/messages
func (h *Handlers) PublishMessage(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	var payload []byte
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		payload = req.Payload
	}

	record, err := h.broker.Publish(r.Context(), GetClientID(r), req.Topic, payload, req.Headers)
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}

	writeJSON(w, PublishResponse{
		MessageID: record.ID,
		Topic:     record.Topic,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
	}, http.StatusCreated)
}

// StreamMessages handles GET /api/v1/messages/stream.
//
// Without filter parameters it streams the caller's session, which carries
// the subscriptions made through /api/v1/subscriptions. With one or more
// filter parameters it opens a private session holding just those filters
// for the lifetime of the stream.
func (h *Handlers) StreamMessages(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	clientID := GetClientID(r)
	filters := r.URL.Query()["filter"]

	sessionID := clientID
	if len(filters) > 0 {
		sessionID = clientID + "#" + uuid.NewString()
	}

	session, err := h.broker.Connect(ctx, sessionID)
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	if len(filters) > 0 {
		defer func() {
			if err := h.broker.Disconnect(context.WithoutCancel(ctx), sessionID); err != nil && !errors.Is(err, broker.ErrClosed) {
				h.logger.Debug("failed to close stream session", zap.String("session", sessionID), zap.Error(err))
			}
		}()
		if err := h.broker.Subscribe(ctx, sessionID, filters); err != nil {
			h.writeBrokerError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, ": connected %s\n\n", sessionID); err != nil {
		return
	}
	flusher.Flush()

	h.streamWithKeepalive(ctx, w, flusher, session.Messages())
}

// streamWithKeepalive writes messages as they arrive and a keepalive
// comment whenever the stream has been idle for the keepalive interval
func (h *Handlers) streamWithKeepalive(ctx context.Context, w io.Writer, flusher http.Flusher, messages <-chan *eventlogpkg.Record) {
	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case record, ok := <-messages:
			if !ok {
				// session was disconnected
				return
			}
			if err := writeSSEMessage(w, NewMessage(record)); err != nil {
				return
			}
			flusher.Flush()
			ticker.Reset(h.config.KeepaliveInterval)
		}
	}
}

// Subscription endpoints

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	clientID := GetClientID(r)
	filters, err := h.broker.ClientFilters(r.Context(), clientID)
	if errors.Is(err, broker.ErrUnknownClient) {
		filters, err = []string{}, nil
	}
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, SubscriptionsResponse{ClientID: clientID, Filters: filters}, http.StatusOK)
}

// CreateSubscription handles POST /api/v1/subscriptions
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Filters) == 0 {
		writeError(w, "filters are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	clientID := GetClientID(r)
	if _, err := h.broker.Connect(ctx, clientID); err != nil {
		h.writeBrokerError(w, err)
		return
	}
	if err := h.broker.Subscribe(ctx, clientID, req.Filters); err != nil {
		h.writeBrokerError(w, err)
		return
	}

	filters, err := h.broker.ClientFilters(ctx, clientID)
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, SubscriptionsResponse{ClientID: clientID, Filters: filters}, http.StatusCreated)
}

// DeleteSubscriptions handles DELETE /api/v1/subscriptions?filter=...
// Without filter parameters every subscription of the client is removed.
func (h *Handlers) DeleteSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := GetClientID(r)

	if err := h.broker.Unsubscribe(ctx, clientID, r.URL.Query()["filter"]); err != nil {
		h.writeBrokerError(w, err)
		return
	}

	filters, err := h.broker.ClientFilters(ctx, clientID)
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, SubscriptionsResponse{ClientID: clientID, Filters: filters}, http.StatusOK)
}

// Topic endpoints

// ListTopics handles GET /api/v1/topics
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.broker.Topics(r.Context())
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, TopicsResponse{Topics: topics}, http.StatusOK)
}

// ReadTopicMessages handles GET /api/v1/topics/{topic}/messages?offset=&limit=
func (h *Handlers) ReadTopicMessages(w http.ResponseWriter, r *http.Request) {
	topicName := GetTopicFromPath(r)

	offset, err := parseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := parseQueryInt(r, "limit", DefaultReadLimit)
	if err != nil || limit <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	if limit > MaxReadLimit {
		limit = MaxReadLimit
	}

	records, err := h.broker.ReadTopic(r.Context(), topicName, offset, int(limit))
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}

	messages := make([]Message, len(records))
	for i, record := range records {
		messages[i] = NewMessage(record)
	}
	writeJSON(w, ReadMessagesResponse{
		Topic:       topicName,
		StartOffset: offset,
		Count:       len(messages),
		Messages:    messages,
	}, http.StatusOK)
}

// Admin endpoints

// AdminListClients handles GET /api/v1/admin/clients
func (h *Handlers) AdminListClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clients := h.broker.Clients(ctx)

	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		filters, err := h.broker.ClientFilters(ctx, c.ID())
		if err != nil {
			// disconnected since the listing
			continue
		}
		infos = append(infos, ClientInfo{
			ID:          c.ID(),
			ConnectedAt: c.ConnectedAt(),
			Filters:     filters,
			Dropped:     c.Dropped(),
		})
	}
	writeJSON(w, AdminClientsResponse{Clients: infos}, http.StatusOK)
}

// AdminListFilters handles GET /api/v1/admin/filters
func (h *Handlers) AdminListFilters(w http.ResponseWriter, r *http.Request) {
	filters := h.broker.AllFilters(r.Context())
	writeJSON(w, AdminFiltersResponse{Filters: filters, Count: len(filters)}, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.broker.Stats(r.Context())
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}
	writeJSON(w, stats, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.broker.Health(r.Context())
	if err != nil {
		h.writeBrokerError(w, err)
		return
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, status, code)
}

// Helper methods

// decodeJSON checks the content type and decodes the request body into v.
// It writes a 400 response and returns false on failure.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeBrokerError maps broker, routing and topic errors onto HTTP statuses
func (h *Handlers) writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, topic.ErrMalformedFilter),
		errors.Is(err, topic.ErrWildcardInTopicName),
		errors.Is(err, topic.ErrEmptyTopic),
		errors.Is(err, routingtable.ErrEmptyFilter),
		errors.Is(err, routingtable.ErrNoFilters),
		errors.Is(err, eventlog.ErrNegativeOffset),
		errors.Is(err, broker.ErrEmptyClientID):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, broker.ErrUnknownClient):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, broker.ErrNotStarted),
		errors.Is(err, broker.ErrClosed),
		errors.Is(err, routingtable.ErrClosed),
		errors.Is(err, eventlog.ErrClosed):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// the status is already sent, nothing useful to do on failure
	_ = json.NewEncoder(w).Encode(data)
}

// writeSSEMessage writes a message as a properly formatted SSE event
func writeSSEMessage(w io.Writer, message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", message.MessageID, data)
	return err
}

// validateJSON validates that the request has a JSON content type
func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	if strings.ContainsRune(req.ClientID, '#') {
		return errors.New("clientId cannot contain '#'")
	}
	return nil
}

func parseQueryInt(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
