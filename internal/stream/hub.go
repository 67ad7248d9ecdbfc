// Package stream pushes sync status to connected UI clients over WebSocket,
// fanned out across processes through Redis when one is configured.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"backend-tripweave/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "sync:"
	channelSuffix  = ":status"
	channelPattern = channelPrefix + "*" + channelSuffix
	sendBuffer     = 64
)

type Hub struct {
	redis    *redis.Client
	origin   string
	log      *zap.Logger
	snapshot func(sessionID string) []byte

	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	SessionID string
	Send      chan []byte
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.log = logging.OrNop(l) }
}

// WithSnapshot primes every new client with the current state of its session.
func WithSnapshot(fn func(sessionID string) []byte) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// envelope tags relayed messages with the publishing hub so it can skip its
// own messages when they come back through Redis.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client, opts ...Option) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		log:     zap.NewNop(),
		clients: map[string]map[*Client]struct{}{},
	}
	for _, opt := range opts {
		opt(h)
	}

	if redisClient != nil {
		h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, sendBuffer),
	}
	if h.snapshot != nil {
		if initial := h.snapshot(sessionID); initial != nil {
			client.Send <- initial
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		if _, registered := sessionClients[client]; !registered {
			return
		}
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
		close(client.Send)
	}
}

// Broadcast delivers payload to local clients of the session and relays it to
// other hubs. Slow clients drop messages instead of blocking the caller.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis != nil {
		msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
		if err != nil {
			h.log.Error("encode stream envelope", zap.Error(err))
			return
		}
		if err := h.redis.Publish(context.Background(), redisChannel(sessionID), msg).Err(); err != nil {
			h.log.Warn("redis publish error", zap.String("session", sessionID), zap.Error(err))
		}
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(sessionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, payload)
	return nil
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// subscribeRedis confirms the pattern subscription before returning so that
// nothing published after NewHub is missed.
func (h *Hub) subscribeRedis() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn("redis subscribe error", zap.Error(err))
		_ = pubsub.Close()
		cancel()
		return
	}
	h.pubsub = pubsub
	h.cancel = cancel
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Debug("drop malformed stream message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.deliver(sessionIDFromChannel(msg.Channel), env.Payload)
		}
	}()
}

// Close stops relaying Redis messages. Local clients stay registered.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	h.cancel()
	err := h.pubsub.Close()
	<-h.done
	h.pubsub = nil
	return err
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) ||
		len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
