package engine

import (
	"slices"
	"sync"
)

// Registry tracks which scenario rooms each connection has joined and keeps
// an explicit occupancy count per scenario.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]map[int64]struct{} // connID -> joined scenario ids
	occupancy map[int64]int                 // scenario id -> joined connections
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]map[int64]struct{}),
		occupancy: make(map[int64]int),
	}
}

// Add records connID as a member of scenarioID's room. It returns false if
// the connection was already a member.
func (r *Registry) Add(connID string, scenarioID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.rooms[connID]
	if !ok {
		joined = make(map[int64]struct{})
		r.rooms[connID] = joined
	}
	if _, ok := joined[scenarioID]; ok {
		return false
	}

	joined[scenarioID] = struct{}{}
	r.occupancy[scenarioID]++
	return true
}

// Remove drops connID from scenarioID's room and returns the occupancy after
// the removal. ok is false if the connection was not a member.
func (r *Registry) Remove(connID string, scenarioID int64) (remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(connID, scenarioID)
}

// RemoveAll drops connID from every room it joined and returns, per scenario
// id, the occupancy left after the removal.
func (r *Registry) RemoveAll(connID string) map[int64]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := make(map[int64]int, len(r.rooms[connID]))
	for id := range r.rooms[connID] {
		n, _ := r.removeLocked(connID, id)
		remaining[id] = n
	}
	return remaining
}

func (r *Registry) removeLocked(connID string, scenarioID int64) (int, bool) {
	joined, ok := r.rooms[connID]
	if !ok {
		return r.occupancy[scenarioID], false
	}
	if _, ok := joined[scenarioID]; !ok {
		return r.occupancy[scenarioID], false
	}

	delete(joined, scenarioID)
	if len(joined) == 0 {
		delete(r.rooms, connID)
	}

	r.occupancy[scenarioID]--
	n := r.occupancy[scenarioID]
	if n <= 0 {
		delete(r.occupancy, scenarioID)
		n = 0
	}
	return n, true
}

// Rooms returns the scenario ids connID has joined, in ascending order.
func (r *Registry) Rooms(connID string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.rooms[connID]))
	for id := range r.rooms[connID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Occupancy returns how many connections have joined scenarioID's room.
func (r *Registry) Occupancy(scenarioID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.occupancy[scenarioID]
}

// Connections returns the number of connections in at least one room.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
