package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/logging"
)

type node struct {
	gateway *Gateway
	bridge  *Bridge
}

func startNode(t *testing.T, ctx context.Context, addr, name string) node {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	bridge := NewBridge(client, name, logging.Discard())
	gateway := newTestGateway(t, WithPublisher(bridge))
	require.NoError(t, bridge.Start(ctx, gateway.Deliver))
	return node{gateway: gateway, bridge: bridge}
}

func TestBridgeSpansNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	east := startNode(t, ctx, mr.Addr(), "east")
	west := startNode(t, ctx, mr.Addr(), "west")

	sender, localPeer := &fakeConn{}, &fakeConn{}
	remotePeer, otherDoc := &fakeConn{}, &fakeConn{}
	ms := east.gateway.Join("doc-1", sender)
	east.gateway.Join("doc-1", localPeer)
	west.gateway.Join("doc-1", remotePeer)
	west.gateway.Join("doc-2", otherDoc)

	ms.Relay([]byte(`{"op":"type","text":"a"}`))

	require.Eventually(t, func() bool { return len(remotePeer.received()) == 1 }, waitFor, tick)
	msg := decode(t, remotePeer.received()[0])
	assert.Equal(t, ms.ID(), msg["sender"])
	assert.Equal(t, "type", msg["op"])

	// The publishing node also hears its own message on the channel and must drop it.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, localPeer.received(), 1)
	assert.Empty(t, sender.received())
	assert.Empty(t, otherDoc.received())
}

func TestBridgeDropsMessagesForRoomsWithoutLocalPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	east := startNode(t, ctx, mr.Addr(), "east")
	west := startNode(t, ctx, mr.Addr(), "west")

	ms := east.gateway.Join("doc-1", &fakeConn{})
	ms.Relay([]byte(`{"n":1}`))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, west.gateway.Rooms())
}

func TestBridgeIgnoresGarbageOnChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	west := startNode(t, ctx, mr.Addr(), "west")
	peer := &fakeConn{}
	west.gateway.Join("doc-1", peer)
	time.Sleep(20 * time.Millisecond)

	mr.Publish(bridgeChannelPrefix+RoomKey("doc-1"), "not json")
	body, err := json.Marshal(envelope{Node: "east", Payload: json.RawMessage(`{"sender":"s-1","n":2}`)})
	require.NoError(t, err)
	mr.Publish(bridgeChannelPrefix+RoomKey("doc-1"), string(body))

	require.Eventually(t, func() bool { return len(peer.received()) == 1 }, waitFor, tick)
	assert.Equal(t, "s-1", decode(t, peer.received()[0])["sender"])
}

func TestBridgeStopsWithContext(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())

	n := startNode(t, ctx, mr.Addr(), "east")
	cancel()

	done := make(chan struct{})
	go func() {
		n.bridge.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge loops did not stop")
	}
}

func TestBridgePublishDropsWhenQueueFull(t *testing.T) {
	b := NewBridge(nil, "east", logging.Discard())
	for i := 0; i < cap(b.out)+10; i++ {
		b.Publish("draft:x", []byte(`{}`))
	}
	assert.Len(t, b.out, cap(b.out))
}
