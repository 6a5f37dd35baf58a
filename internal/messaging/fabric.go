package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Vasu1712/scenyx-sync/internal/ws"
	"github.com/nats-io/nats.go"
)

const (
	// senderHeader carries the connection id a broadcast must skip.
	senderHeader = "Scenyx-Except"

	peerBufferSize = 256
)

var ErrUnknownConnection = errors.New("unknown connection")

// NatsFabric delivers frames through NATS subjects: one per connection and
// one per room. All of a connection's subscriptions feed a single channel so
// frames reach it in publish order.
type NatsFabric struct {
	conn *nats.Conn

	mu    sync.Mutex
	peers map[string]*natsPeer
}

type natsPeer struct {
	peer  ws.Peer
	msgs  chan *nats.Msg
	done  chan struct{}
	inbox *nats.Subscription
	rooms map[string]*nats.Subscription
}

// NewNatsFabric creates a fabric publishing and subscribing on conn.
func NewNatsFabric(conn *nats.Conn) *NatsFabric {
	return &NatsFabric{
		conn:  conn,
		peers: make(map[string]*natsPeer),
	}
}

func connSubject(connID string) string {
	return fmt.Sprintf("conn.%s", connID)
}

func roomSubject(room string) string {
	return fmt.Sprintf("room.%s", room)
}

// Register subscribes p to its direct subject and starts forwarding to it.
func (f *NatsFabric) Register(p ws.Peer) error {
	np := &natsPeer{
		peer:  p,
		msgs:  make(chan *nats.Msg, peerBufferSize),
		done:  make(chan struct{}),
		rooms: make(map[string]*nats.Subscription),
	}

	sub, err := f.conn.ChanSubscribe(connSubject(p.ID()), np.msgs)
	if err != nil {
		return fmt.Errorf("subscribing connection %s: %w", p.ID(), err)
	}
	np.inbox = sub

	f.mu.Lock()
	f.peers[p.ID()] = np
	f.mu.Unlock()

	go f.pump(np)
	return nil
}

func (f *NatsFabric) pump(np *natsPeer) {
	id := np.peer.ID()
	for {
		select {
		case <-np.done:
			return
		case msg := <-np.msgs:
			if msg.Header != nil && msg.Header.Get(senderHeader) == id {
				continue
			}
			if !np.peer.Deliver(msg.Data) {
				slog.Warn("dropping slow connection", "conn", id)
				f.Unregister(id)
				return
			}
		}
	}
}

// Unregister drops every subscription of a connection and closes it.
func (f *NatsFabric) Unregister(connID string) {
	f.mu.Lock()
	np, ok := f.peers[connID]
	if ok {
		delete(f.peers, connID)
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	_ = np.inbox.Unsubscribe()
	for _, sub := range np.rooms {
		_ = sub.Unsubscribe()
	}
	close(np.done)
	np.peer.Close()
}

// Join subscribes a registered connection to room.
func (f *NatsFabric) Join(room, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	np, ok := f.peers[connID]
	if !ok {
		return fmt.Errorf("joining %s: %w", connID, ErrUnknownConnection)
	}
	if _, ok := np.rooms[room]; ok {
		return nil
	}

	sub, err := f.conn.ChanSubscribe(roomSubject(room), np.msgs)
	if err != nil {
		return fmt.Errorf("subscribing %s to %s: %w", connID, room, err)
	}
	np.rooms[room] = sub
	return nil
}

// Leave unsubscribes a connection from room.
func (f *NatsFabric) Leave(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	np, ok := f.peers[connID]
	if !ok {
		return
	}
	if sub, ok := np.rooms[room]; ok {
		_ = sub.Unsubscribe()
		delete(np.rooms, room)
	}
}

// Send publishes data to a single connection.
func (f *NatsFabric) Send(connID string, data []byte) error {
	return f.conn.Publish(connSubject(connID), data)
}

// Broadcast publishes data to room, tagged so exceptConnID skips it.
func (f *NatsFabric) Broadcast(room, exceptConnID string, data []byte) error {
	msg := nats.NewMsg(roomSubject(room))
	msg.Data = data
	if exceptConnID != "" {
		msg.Header.Set(senderHeader, exceptConnID)
	}
	return f.conn.PublishMsg(msg)
}

// Close unregisters every connection. The NATS connection is left to its
// owner.
func (f *NatsFabric) Close() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.peers))
	for id := range f.peers {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Unregister(id)
	}
}
