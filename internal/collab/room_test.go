package collab

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/logging"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return ErrClosed
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func newTestGateway(t *testing.T, opts ...GatewayOption) *Gateway {
	t.Helper()
	g := NewGateway(logging.Discard(), opts...)
	t.Cleanup(g.Close)
	return g
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func TestRelayReachesOthersTaggedWithSender(t *testing.T) {
	g := newTestGateway(t)
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	ma := g.Join("doc-1", a)
	g.Join("doc-1", b)
	g.Join("doc-1", c)

	ma.Relay([]byte(`{"op":"insert","text":"வணக்கம்"}`))

	for _, peer := range []*fakeConn{b, c} {
		require.Eventually(t, func() bool { return len(peer.received()) == 1 }, waitFor, tick)
		msg := decode(t, peer.received()[0])
		assert.Equal(t, ma.ID(), msg["sender"])
		assert.Equal(t, "insert", msg["op"])
		assert.Equal(t, "வணக்கம்", msg["text"])
	}
	assert.Empty(t, a.received(), "sender must not receive its own message")
}

func TestRelayReplacesNonObjectPayloads(t *testing.T) {
	g := newTestGateway(t)
	a, b := &fakeConn{}, &fakeConn{}
	ma := g.Join("doc-1", a)
	g.Join("doc-1", b)

	for _, payload := range []string{`not json`, `[1,2]`, `"text"`, `null`, ``} {
		ma.Relay([]byte(payload))
	}

	require.Eventually(t, func() bool { return len(b.received()) == 5 }, waitFor, tick)
	for _, raw := range b.received() {
		assert.Equal(t, map[string]any{"sender": ma.ID()}, decode(t, raw))
	}
}

func TestRelayOverwritesClientSender(t *testing.T) {
	g := newTestGateway(t)
	a, b := &fakeConn{}, &fakeConn{}
	ma := g.Join("doc-1", a)
	g.Join("doc-1", b)

	ma.Relay([]byte(`{"sender":"spoofed"}`))

	require.Eventually(t, func() bool { return len(b.received()) == 1 }, waitFor, tick)
	assert.Equal(t, ma.ID(), decode(t, b.received()[0])["sender"])
}

func TestRoomsAreIsolated(t *testing.T) {
	g := newTestGateway(t)
	x1, x2, y1 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	mx := g.Join("doc-x", x1)
	g.Join("doc-x", x2)
	my := g.Join("doc-y", y1)

	mx.Relay([]byte(`{"n":1}`))
	my.Relay([]byte(`{"n":2}`))

	require.Eventually(t, func() bool { return len(x2.received()) == 1 }, waitFor, tick)
	assert.EqualValues(t, 1, decode(t, x2.received()[0])["n"])
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, y1.received())
	assert.Equal(t, 2, g.Rooms())
}

func TestFailedSendPrunesTargetOnly(t *testing.T) {
	g := newTestGateway(t)
	sender, broken, healthy := &fakeConn{}, &fakeConn{fail: true}, &fakeConn{}
	ms := g.Join("doc-1", sender)
	g.Join("doc-1", broken)
	g.Join("doc-1", healthy)

	ms.Relay([]byte(`{"n":1}`))
	require.Eventually(t, broken.isClosed, waitFor, tick)

	ms.Relay([]byte(`{"n":2}`))
	require.Eventually(t, func() bool { return len(healthy.received()) == 2 }, waitFor, tick)
	assert.False(t, sender.isClosed())
	assert.Empty(t, broken.received())
}

func TestPrunedMemberLeaveIsNoop(t *testing.T) {
	g := newTestGateway(t)
	sender, broken := &fakeConn{}, &fakeConn{fail: true}
	ms := g.Join("doc-1", sender)
	mb := g.Join("doc-1", broken)

	ms.Relay([]byte(`{}`))
	require.Eventually(t, broken.isClosed, waitFor, tick)

	mb.Leave()
	mb.Relay([]byte(`{"late":true}`))
	third := &fakeConn{}
	g.Join("doc-1", third)
	ms.Relay([]byte(`{"n":3}`))

	require.Eventually(t, func() bool { return len(third.received()) == 1 }, waitFor, tick)
	assert.Equal(t, 1, g.Rooms())
}

func TestPerSenderOrderIsPreserved(t *testing.T) {
	g := newTestGateway(t)
	a, b := &fakeConn{}, &fakeConn{}
	ma := g.Join("doc-1", a)
	g.Join("doc-1", b)

	const n = 200
	for i := 0; i < n; i++ {
		ma.Relay([]byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	require.Eventually(t, func() bool { return len(b.received()) == n }, waitFor, tick)
	for i, raw := range b.received() {
		assert.EqualValues(t, i, decode(t, raw)["seq"])
	}
}

func TestRoomIsReclaimedWhenEmpty(t *testing.T) {
	g := newTestGateway(t)
	a, b := &fakeConn{}, &fakeConn{}
	ma := g.Join("doc-1", a)
	mb := g.Join("doc-1", b)
	require.Equal(t, 1, g.Rooms())

	ma.Leave()
	mb.Leave()
	require.Eventually(t, func() bool { return g.Rooms() == 0 }, waitFor, tick)
	assert.True(t, a.isClosed())

	c, d := &fakeConn{}, &fakeConn{}
	mc := g.Join("doc-1", c)
	g.Join("doc-1", d)
	mc.Relay([]byte(`{"again":true}`))
	require.Eventually(t, func() bool { return len(d.received()) == 1 }, waitFor, tick)
}

func TestConcurrentJoinLeaveLeavesNoRooms(t *testing.T) {
	g := newTestGateway(t, WithShards(4))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m := g.Join(fmt.Sprintf("doc-%d", i%5), &fakeConn{})
				m.Relay([]byte(`{"x":1}`))
				m.Leave()
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return g.Rooms() == 0 }, waitFor, tick)
}

func TestRoomKeyAndShardAreStable(t *testing.T) {
	g := newTestGateway(t)
	assert.Equal(t, "draft:abc", RoomKey("abc"))
	assert.Same(t, g.shardFor(RoomKey("abc")), g.shardFor(RoomKey("abc")))
}

func TestCloseStopsRooms(t *testing.T) {
	g := NewGateway(logging.Discard())
	a := &fakeConn{}
	g.Join("doc-1", a)

	g.Close()
	assert.True(t, a.isClosed())
	assert.Equal(t, 0, g.Rooms())
}
