package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Amund211/flashfetch/internal/app"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/ratelimiting"
	"github.com/Amund211/flashfetch/internal/reporting"
	"github.com/Amund211/flashfetch/internal/resource"
	"github.com/Amund211/flashfetch/internal/swr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	socketWriteTimeout   = 10 * time.Second
	socketPongTimeout    = 60 * time.Second
	socketPingInterval   = 50 * time.Second
	socketMaxMessageSize = 4096
	socketSendBuffer     = 64

	maxSubscriptionsPerConnection = 16
)

const (
	messageTypeSubscribe   = "subscribe"
	messageTypeUnsubscribe = "unsubscribe"
	messageTypeFocus       = "focus"
	messageTypeReconnect   = "reconnect"
	messageTypeMutate      = "mutate"
	messageTypeState       = "state"
	messageTypeError       = "error"
)

// A client message. ID names a subscription and defaults to its key.
// Subscribing an existing id to another key moves that subscription.
type socketClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Key  string `json:"key,omitempty"`
}

type socketStateMessage struct {
	Type      string              `json:"type"`
	ID        string              `json:"id"`
	Key       string              `json:"key"`
	Data      json.RawMessage     `json:"data"`
	IsLoading bool                `json:"isLoading"`
	IsError   bool                `json:"isError"`
	Error     *resource.ErrorInfo `json:"error"`
}

type socketErrorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Cause string `json:"cause"`
}

func stateToMessage(id string, state swr.State[json.RawMessage]) socketStateMessage {
	return socketStateMessage{
		Type:      messageTypeState,
		ID:        id,
		Key:       state.Key,
		Data:      state.Data,
		IsLoading: state.IsLoading,
		IsError:   state.IsError(),
		Error:     state.Err,
	}
}

// MakeSubscriptionHandler upgrades to a websocket where each connection acts
// as one consuming surface: it mounts a loader per subscription and forwards
// the client's focus and reconnect events to them.
func MakeSubscriptionHandler(
	rawCache *swr.Cache[json.RawMessage],
	swrConfig swr.Config,
	isSubscribableKey app.IsSubscribableKey,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	connectionLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(5),
		ratelimiting.BurstSize(50),
	)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     allowedOrigins.CheckOrigin,
	}

	ipLimiter := ratelimiting.NewTokenBucketRateLimiter(defaultLimits.refillPerSecond, defaultLimits.burstSize)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	// Sentry goes first so it wraps the hijackable writer of the server
	middleware := ComposeMiddlewares(
		sentryMiddleware,
		buildMetricsMiddleware("subscriptions"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		reporting.NewAddMetaMiddleware("subscriptions"),
		NewRateLimitMiddleware(ipRateLimiter, func(w http.ResponseWriter, r *http.Request) {
			writeErrorResponse(r.Context(), w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		connectionID := uuid.NewString()
		ctx = reporting.SetConnectionIDInContext(ctx, connectionID)
		ctx = logging.AddMetaToContext(ctx, slog.String("connectionId", connectionID))
		logger := logging.FromContext(ctx)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already responded with an error
			logger.InfoContext(ctx, "Failed to upgrade connection", "error", err)
			return
		}
		defer conn.Close()

		metrics.openConnections.Add(ctx, 1)
		defer metrics.openConnections.Add(ctx, -1)

		logger.InfoContext(ctx, "Subscription connection opened")

		// The request context outlives the hijacked connection
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		session := &subscriptionSession{
			ctx:               ctx,
			cancel:            cancel,
			cache:             rawCache,
			config:            swrConfig,
			isSubscribableKey: isSubscribableKey,
			triggers:          swr.NewTriggers(),
			send:              make(chan any, socketSendBuffer),
			subscriptions:     make(map[string]*subscription),
		}

		var writerDone sync.WaitGroup
		writerDone.Add(1)
		go func() {
			defer writerDone.Done()
			writeLoop(ctx, cancel, conn, session.send)
		}()

		conn.SetReadLimit(socketMaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
					logger.InfoContext(ctx, "Subscription connection closed unexpectedly", "error", err)
				}
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(socketPongTimeout))

			var message socketClientMessage
			if err := json.Unmarshal(data, &message); err != nil {
				metrics.socketMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", "<invalid>")))
				session.sendError("", "Invalid JSON message")
				continue
			}
			metrics.socketMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", message.Type)))

			if !connectionLimiter.Consume(ratelimiting.ConnectionKeyFunc(connectionID)) {
				logger.InfoContext(ctx, "Rate limit exceeded", "reason", "ratelimit exceeded", "messageType", message.Type)
				session.sendError(message.ID, "Rate limit exceeded")
				continue
			}

			session.handle(message)
		}

		cancel()
		session.close()
		writerDone.Wait()

		logger.InfoContext(ctx, "Subscription connection closed")
	})
}

func writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, send <-chan any) {
	// Unblocks the reader when the writer gives up
	defer conn.Close()
	defer cancel()

	ticker := time.NewTicker(socketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(socketWriteTimeout),
			)
			return
		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteJSON(message); err != nil {
				logging.FromContext(ctx).InfoContext(ctx, "Failed to write message", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteTimeout)); err != nil {
				logging.FromContext(ctx).InfoContext(ctx, "Failed to ping", "error", err)
				return
			}
		}
	}
}

type subscription struct {
	loader      *swr.Loader[json.RawMessage]
	unsubscribe func()
	unregister  func()
}

type subscriptionSession struct {
	ctx               context.Context
	cancel            context.CancelFunc
	cache             *swr.Cache[json.RawMessage]
	config            swr.Config
	isSubscribableKey app.IsSubscribableKey
	triggers          *swr.Triggers

	// Held while enqueueing so the initial state of a subscription can't be
	// sent after a newer one
	sendMu sync.Mutex
	send   chan any

	mu            sync.Mutex
	subscriptions map[string]*subscription
	closed        bool

	mutations sync.WaitGroup
}

// enqueue must be called with sendMu held
func (s *subscriptionSession) enqueue(message any) {
	select {
	case s.send <- message:
	default:
		logging.FromContext(s.ctx).WarnContext(s.ctx, "Subscriber is not keeping up. Closing connection")
		s.cancel()
	}
}

func (s *subscriptionSession) sendError(id string, cause string) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.enqueue(socketErrorMessage{Type: messageTypeError, ID: id, Cause: cause})
}

func (s *subscriptionSession) handle(message socketClientMessage) {
	ctx := s.ctx
	logger := logging.FromContext(ctx)

	id := message.ID
	if id == "" {
		id = message.Key
	}

	switch message.Type {
	case messageTypeSubscribe:
		s.subscribe(id, message.Key)
	case messageTypeUnsubscribe:
		if !s.unsubscribe(id) {
			s.sendError(id, "Not subscribed")
		}
	case messageTypeFocus:
		revalidated := s.triggers.Focus(ctx)
		logger.DebugContext(ctx, "Client focused", slog.Int("revalidated", revalidated))
	case messageTypeReconnect:
		revalidated := s.triggers.Reconnect(ctx)
		logger.DebugContext(ctx, "Client reconnected", slog.Int("revalidated", revalidated))
	case messageTypeMutate:
		s.mutate(id)
	default:
		s.sendError(id, fmt.Sprintf("Unknown message type: %.32s", message.Type))
	}
}

func (s *subscriptionSession) subscribe(id string, key string) {
	ctx := s.ctx

	if !s.isSubscribableKey(key) {
		logging.FromContext(ctx).InfoContext(ctx, "Rejected subscription", slog.String("key", key))
		s.sendError(id, fmt.Sprintf("Invalid key: %.64s", key))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if existing, ok := s.subscriptions[id]; ok {
		if _, changed := existing.loader.SetKey(ctx, key); !changed {
			// Already on key, resend what the client missed
			s.sendMu.Lock()
			s.enqueue(stateToMessage(id, existing.loader.State()))
			s.sendMu.Unlock()
		}
		return
	}

	if len(s.subscriptions) >= maxSubscriptionsPerConnection {
		s.sendError(id, "Too many subscriptions")
		return
	}

	loader := swr.New(ctx, s.cache, key, swr.WithConfig(s.config))

	s.sendMu.Lock()
	unsubscribe := loader.Subscribe(func(state swr.State[json.RawMessage]) {
		s.sendMu.Lock()
		defer s.sendMu.Unlock()
		s.enqueue(stateToMessage(id, state))
	})
	s.enqueue(stateToMessage(id, loader.State()))
	s.sendMu.Unlock()

	s.subscriptions[id] = &subscription{
		loader:      loader,
		unsubscribe: unsubscribe,
		unregister:  s.triggers.Register(loader),
	}

	logging.FromContext(ctx).InfoContext(ctx, "Subscribed", slog.String("id", id), slog.String("key", key))
}

func (s *subscriptionSession) unsubscribe(id string) bool {
	s.mu.Lock()
	sub, ok := s.subscriptions[id]
	delete(s.subscriptions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}

	sub.unregister()
	sub.unsubscribe()
	sub.loader.Close()
	return true
}

func (s *subscriptionSession) mutate(id string) {
	s.mu.Lock()
	sub, ok := s.subscriptions[id]
	if ok {
		s.mutations.Add(1)
	}
	s.mu.Unlock()

	if !ok {
		s.sendError(id, "Not subscribed")
		return
	}

	// The result reaches the client through the subscription
	go func() {
		defer s.mutations.Done()

		result := sub.loader.Mutate(s.ctx)
		if result.Superseded {
			logging.FromContext(s.ctx).DebugContext(s.ctx, "Mutation superseded", slog.String("id", id))
		}
	}()
}

func (s *subscriptionSession) close() {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.unsubscribe(id)
	}

	s.mutations.Wait()
}
