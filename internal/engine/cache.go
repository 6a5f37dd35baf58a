package engine

import (
	"encoding/json"
	"sync"

	"github.com/Vasu1712/scenyx-sync/internal/models"
)

// entry is the cache slot for one scenario id. Its lifetime is
// Loading -> Ready -> evicted; a failed load skips Ready.
//
// ready is closed exactly once, after state or err is set. Reading state or
// err after ready is closed needs no lock; everything else is guarded by mu,
// except joining which is guarded by Engine.mu.
type entry struct {
	id    int64
	ready chan struct{}

	mu           sync.Mutex
	state        *models.Scenario
	err          error
	pending      []pendingUpdate
	version      uint64 // bumped by every applied change
	savedVersion uint64 // version last persisted
	evicted      bool

	joining int
}

type pendingUpdate struct {
	connID  string
	action  models.Action
	name    string
	payload json.RawMessage
}

func newEntry(id int64) *entry {
	return &entry{
		id:    id,
		ready: make(chan struct{}),
	}
}

func (e *entry) isReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func (e *entry) dirty() bool {
	return e.version != e.savedVersion
}

// Cache maps scenario ids to their single live entry. It is not safe for
// concurrent use; Engine serializes access with its own lock.
type Cache struct {
	entries map[int64]*entry
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int64]*entry)}
}

func (c *Cache) get(id int64) *entry {
	return c.entries[id]
}

func (c *Cache) put(id int64, e *entry) {
	c.entries[id] = e
}

func (c *Cache) remove(id int64) {
	delete(c.entries, id)
}

// Len returns the number of cached scenarios, loading ones included.
func (c *Cache) Len() int {
	return len(c.entries)
}
