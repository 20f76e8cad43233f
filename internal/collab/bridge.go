package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const bridgeChannelPrefix = "collab:"

type envelope struct {
	Node    string          `json:"node"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge joins rooms with the same key across nodes over Redis pub/sub. It
// carries no ordering or delivery guarantee.
type Bridge struct {
	client *redis.Client
	node   string
	out    chan outbound
	logger *slog.Logger
	wg     sync.WaitGroup
}

type outbound struct {
	key     string
	payload []byte
}

func NewBridge(client *redis.Client, node string, logger *slog.Logger) *Bridge {
	return &Bridge{
		client: client,
		node:   node,
		out:    make(chan outbound, 256),
		logger: logger.With("component", "collab-bridge", "node", node),
	}
}

// Publish queues payload for other nodes. It drops the message when the queue is full.
func (b *Bridge) Publish(key string, payload []byte) {
	select {
	case b.out <- outbound{key: key, payload: payload}:
	default:
		b.logger.Warn("bridge queue full, dropping message", "room", key)
	}
}

// Start subscribes to every room channel and runs the publish and receive loops
// until ctx is cancelled. deliver is called for messages from other nodes.
func (b *Bridge) Start(ctx context.Context, deliver func(key string, payload []byte)) error {
	sub := b.client.PSubscribe(ctx, bridgeChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe collab bridge: %w", err)
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.publishLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		b.receiveLoop(ctx, sub.Channel(), deliver)
	}()
	return nil
}

// Wait blocks until both loops have returned.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.out:
			body, err := json.Marshal(envelope{Node: b.node, Payload: msg.payload})
			if err != nil {
				b.logger.Warn("encode bridge message", "room", msg.key, "error", err)
				continue
			}
			if err := b.client.Publish(ctx, bridgeChannelPrefix+msg.key, body).Err(); err != nil && ctx.Err() == nil {
				b.logger.Warn("publish bridge message", "room", msg.key, "error", err)
			}
		}
	}
}

func (b *Bridge) receiveLoop(ctx context.Context, ch <-chan *redis.Message, deliver func(string, []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("decode bridge message", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Node == b.node {
				continue
			}
			deliver(strings.TrimPrefix(msg.Channel, bridgeChannelPrefix), env.Payload)
		}
	}
}
