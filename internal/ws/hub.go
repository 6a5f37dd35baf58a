package ws

import (
	"context"
	"errors"
	"log/slog"
)

var ErrHubClosed = errors.New("hub is closed")

// Peer is one connection's outbound side as seen by a fabric.
type Peer interface {
	ID() string
	// Deliver queues data without blocking and reports whether it fit.
	Deliver(data []byte) bool
	// Close stops delivery; the connection is torn down by its pumps.
	Close()
}

// Fabric is the broadcast layer the engine and the websocket handler share.
type Fabric interface {
	Register(p Peer) error
	Unregister(connID string)
	Join(room, connID string) error
	Leave(room, connID string)
	Send(connID string, data []byte) error
	Broadcast(room, exceptConnID string, data []byte) error
}

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opJoin
	opLeave
	opSend
	opBroadcast
)

type hubOp struct {
	kind   opKind
	peer   Peer
	connID string
	room   string
	data   []byte
}

// Hub is the in-process Fabric. Every operation goes through one channel
// drained by Start, so operations are applied in the order they were issued:
// a connection that joins a room and is then sent a frame sees that frame
// before any broadcast issued after it.
type Hub struct {
	ops  chan hubOp
	done chan struct{}

	// Owned by the Start goroutine.
	peers map[string]Peer
	rooms map[string]map[string]Peer // room -> connID -> peer
	joins map[string]map[string]struct{}
}

// NewHub creates a Hub. Start must be running before it is used.
func NewHub() *Hub {
	return &Hub{
		ops:   make(chan hubOp, 256),
		done:  make(chan struct{}),
		peers: make(map[string]Peer),
		rooms: make(map[string]map[string]Peer),
		joins: make(map[string]map[string]struct{}),
	}
}

// Start runs the hub until ctx is done, then closes every registered peer.
func (h *Hub) Start(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, p := range h.peers {
				p.Close()
			}
			return nil
		case op := <-h.ops:
			h.apply(op)
		}
	}
}

func (h *Hub) apply(op hubOp) {
	switch op.kind {
	case opRegister:
		h.peers[op.peer.ID()] = op.peer

	case opUnregister:
		h.drop(op.connID)

	case opJoin:
		p, ok := h.peers[op.connID]
		if !ok {
			return
		}
		if h.rooms[op.room] == nil {
			h.rooms[op.room] = make(map[string]Peer)
		}
		h.rooms[op.room][op.connID] = p
		if h.joins[op.connID] == nil {
			h.joins[op.connID] = make(map[string]struct{})
		}
		h.joins[op.connID][op.room] = struct{}{}

	case opLeave:
		h.leave(op.room, op.connID)

	case opSend:
		if p, ok := h.peers[op.connID]; ok {
			h.deliver(p, op.data)
		}

	case opBroadcast:
		for id, p := range h.rooms[op.room] {
			if id == op.connID {
				continue
			}
			h.deliver(p, op.data)
		}
	}
}

// deliver hands data to p, dropping p if its buffer is full.
func (h *Hub) deliver(p Peer, data []byte) {
	if p.Deliver(data) {
		return
	}
	slog.Warn("dropping slow connection", "conn", p.ID())
	h.drop(p.ID())
}

func (h *Hub) drop(connID string) {
	p, ok := h.peers[connID]
	if !ok {
		return
	}
	for room := range h.joins[connID] {
		h.leave(room, connID)
	}
	delete(h.peers, connID)
	p.Close()
}

func (h *Hub) leave(room, connID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.joins[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.joins, connID)
		}
	}
}

func (h *Hub) enqueue(op hubOp) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Register makes p addressable by its id.
func (h *Hub) Register(p Peer) error {
	return h.enqueue(hubOp{kind: opRegister, peer: p})
}

// Unregister removes a connection from every room and closes it.
func (h *Hub) Unregister(connID string) {
	_ = h.enqueue(hubOp{kind: opUnregister, connID: connID})
}

// Join adds a registered connection to room.
func (h *Hub) Join(room, connID string) error {
	return h.enqueue(hubOp{kind: opJoin, room: room, connID: connID})
}

// Leave removes a connection from room.
func (h *Hub) Leave(room, connID string) {
	_ = h.enqueue(hubOp{kind: opLeave, room: room, connID: connID})
}

// Send delivers data to a single connection.
func (h *Hub) Send(connID string, data []byte) error {
	return h.enqueue(hubOp{kind: opSend, connID: connID, data: data})
}

// Broadcast delivers data to every member of room except exceptConnID.
func (h *Hub) Broadcast(room, exceptConnID string, data []byte) error {
	return h.enqueue(hubOp{kind: opBroadcast, room: room, connID: exceptConnID, data: data})
}
