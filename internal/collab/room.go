// Package collab relays live edits between the peers of one document.
//
// Every document id maps to at most one Room per process. A Room is a single
// goroutine that owns its membership set; joins, leaves and messages all travel
// through one FIFO channel, so membership changes never interleave with a relay.
package collab

import (
	"encoding/json"
	"errors"
	"log/slog"
)

var (
	ErrSlowConsumer = errors.New("collab: send queue full")
	ErrClosed       = errors.New("collab: connection closed")
)

// Conn is the room's view of a peer. Send must not block; an error removes the
// peer from the room.
type Conn interface {
	Send(msg []byte) error
	Close() error
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
	eventRemote
)

type event struct {
	kind    eventKind
	member  *Member
	payload []byte
}

// Member is one connection's registration in a room.
type Member struct {
	id   string
	conn Conn
	room *Room
}

// ID is the per-connection session id stamped on relayed messages as "sender".
func (m *Member) ID() string {
	return m.id
}

// Relay hands a frame received from this member to its room.
func (m *Member) Relay(payload []byte) {
	m.room.enqueue(event{kind: eventMessage, member: m, payload: payload})
}

// Leave removes the member. Calling it after the member was pruned is a no-op.
func (m *Member) Leave() {
	m.room.enqueue(event{kind: eventLeave, member: m})
}

type Room struct {
	key     string
	events  chan event
	quit    chan struct{}
	done    chan struct{}
	members map[*Member]struct{}

	// release is called for every removed member and reports whether the room
	// holds no more references and must stop.
	release func() bool
	publish func(key string, payload []byte)
	logger  *slog.Logger
}

func newRoom(key string, release func() bool, publish func(string, []byte), logger *slog.Logger) *Room {
	return &Room{
		key:     key,
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		members: make(map[*Member]struct{}),
		release: release,
		publish: publish,
		logger:  logger.With("room", key),
	}
}

func (r *Room) Key() string {
	return r.key
}

func (r *Room) enqueue(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			if r.handle(ev) {
				return
			}
		case <-r.quit:
			r.shutdown()
			return
		}
	}
}

// shutdown closes every member, including joins still waiting in the queue.
func (r *Room) shutdown() {
	for m := range r.members {
		_ = m.conn.Close()
	}
	r.members = nil
	for {
		select {
		case ev := <-r.events:
			if ev.kind == eventJoin {
				_ = ev.member.conn.Close()
			}
		default:
			return
		}
	}
}

// handle applies one event and reports whether the room has been reclaimed.
func (r *Room) handle(ev event) bool {
	switch ev.kind {
	case eventJoin:
		r.members[ev.member] = struct{}{}
		r.logger.Debug("member joined", "member", ev.member.id, "members", len(r.members))
	case eventLeave:
		if _, ok := r.members[ev.member]; ok {
			return r.remove(ev.member, "left")
		}
	case eventMessage:
		if _, ok := r.members[ev.member]; !ok {
			return false
		}
		out := stamp(ev.payload, ev.member.id)
		if r.publish != nil {
			r.publish(r.key, out)
		}
		return r.fanout(ev.member, out)
	case eventRemote:
		return r.fanout(nil, ev.payload)
	}
	return false
}

// fanout sends out to every member except from. Failed peers are collected and
// pruned after the loop.
func (r *Room) fanout(from *Member, out []byte) bool {
	var failed []*Member
	for m := range r.members {
		if m == from {
			continue
		}
		if err := m.conn.Send(out); err != nil {
			r.logger.Debug("send failed", "member", m.id, "error", err)
			failed = append(failed, m)
		}
	}
	stopped := false
	for _, m := range failed {
		if r.remove(m, "send failed") {
			stopped = true
		}
	}
	return stopped
}

func (r *Room) remove(m *Member, reason string) bool {
	delete(r.members, m)
	_ = m.conn.Close()
	r.logger.Debug("member removed", "member", m.id, "reason", reason, "members", len(r.members))
	return r.release()
}

// stamp parses payload as a JSON object and sets its "sender" field. Anything
// that is not an object is replaced by an empty one.
func stamp(payload []byte, sender string) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	id, _ := json.Marshal(sender)
	obj["sender"] = id
	out, err := json.Marshal(obj)
	if err != nil {
		return []byte(`{"sender":` + string(id) + `}`)
	}
	return out
}
