package collab

import (
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const DefaultShards = 32

// RoomKey is the address of a document's room on every node.
func RoomKey(docID string) string {
	return "draft:" + docID
}

// Publisher forwards relayed messages to other nodes.
type Publisher interface {
	Publish(key string, payload []byte)
}

type roomRef struct {
	room *Room
	refs int
}

type shard struct {
	mu    sync.Mutex
	rooms map[string]*roomRef
}

// Gateway resolves document ids to rooms. Rooms are created on first join and
// reclaimed when their last member is gone.
type Gateway struct {
	shards    []*shard
	publisher Publisher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

type GatewayOption func(*Gateway)

func WithShards(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.shards = make([]*shard, n)
		}
	}
}

func WithPublisher(p Publisher) GatewayOption {
	return func(g *Gateway) {
		g.publisher = p
	}
}

func NewGateway(logger *slog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		shards: make([]*shard, DefaultShards),
		logger: logger.With("component", "collab"),
	}
	for _, opt := range opts {
		opt(g)
	}
	for i := range g.shards {
		g.shards[i] = &shard{rooms: make(map[string]*roomRef)}
	}
	return g
}

func (g *Gateway) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return g.shards[h.Sum32()%uint32(len(g.shards))]
}

// Join registers conn in the room for docID, creating the room if needed.
func (g *Gateway) Join(docID string, conn Conn) *Member {
	key := RoomKey(docID)
	sh := g.shardFor(key)

	sh.mu.Lock()
	ref, ok := sh.rooms[key]
	if !ok {
		ref = &roomRef{}
		ref.room = newRoom(key, g.releaser(sh, key, ref), g.publishFunc(), g.logger)
		sh.rooms[key] = ref
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			ref.room.run()
		}()
	}
	ref.refs++
	sh.mu.Unlock()

	m := &Member{id: uuid.NewString(), conn: conn, room: ref.room}
	ref.room.enqueue(event{kind: eventJoin, member: m})
	return m
}

// releaser drops one reference. The last release unregisters the room under the
// shard lock, so a concurrent Join either sees the old room with a reference
// already taken or creates a fresh one.
func (g *Gateway) releaser(sh *shard, key string, ref *roomRef) func() bool {
	return func() bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		ref.refs--
		if ref.refs > 0 {
			return false
		}
		if sh.rooms[key] == ref {
			delete(sh.rooms, key)
		}
		return true
	}
}

func (g *Gateway) publishFunc() func(string, []byte) {
	if g.publisher == nil {
		return nil
	}
	return g.publisher.Publish
}

// Deliver hands a message that originated on another node to the local room.
// Nothing is delivered when no local peer is connected to key.
func (g *Gateway) Deliver(key string, payload []byte) {
	sh := g.shardFor(key)
	sh.mu.Lock()
	ref, ok := sh.rooms[key]
	sh.mu.Unlock()
	if !ok {
		return
	}
	ref.room.enqueue(event{kind: eventRemote, payload: payload})
}

// Rooms returns the number of live rooms.
func (g *Gateway) Rooms() int {
	n := 0
	for _, sh := range g.shards {
		sh.mu.Lock()
		n += len(sh.rooms)
		sh.mu.Unlock()
	}
	return n
}

// Close stops every room and closes its connections.
func (g *Gateway) Close() {
	for _, sh := range g.shards {
		sh.mu.Lock()
		for key, ref := range sh.rooms {
			close(ref.room.quit)
			delete(sh.rooms, key)
		}
		sh.mu.Unlock()
	}
	g.wg.Wait()
}
