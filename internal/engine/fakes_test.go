package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
)

// fakeStore is an in-memory Store that counts calls and can hold loads and
// saves behind gates.
type fakeStore struct {
	mu        sync.Mutex
	scenarios map[int64]*models.Scenario
	loads     map[int64]int
	saves     []*models.Scenario

	loadGate chan struct{} // nil means loads return immediately
	saveGate chan struct{} // nil means saves return immediately
	loadErr  error
}

func newFakeStore(seed ...*models.Scenario) *fakeStore {
	s := &fakeStore{
		scenarios: make(map[int64]*models.Scenario),
		loads:     make(map[int64]int),
	}
	for _, sc := range seed {
		s.scenarios[sc.ID] = sc.Clone()
	}
	return s
}

func (s *fakeStore) LoadScenario(ctx context.Context, id int64) (*models.Scenario, error) {
	s.mu.Lock()
	s.loads[id]++
	gate := s.loadGate
	loadErr := s.loadErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if loadErr != nil {
		return nil, loadErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}
	return sc.Clone(), nil
}

func (s *fakeStore) SaveScenario(ctx context.Context, sc *models.Scenario) error {
	s.mu.Lock()
	gate := s.saveGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[sc.ID]; !ok {
		return fmt.Errorf("scenario %d: %w", sc.ID, storage.ErrScenarioNotFound)
	}
	s.scenarios[sc.ID] = sc.Clone()
	s.saves = append(s.saves, sc.Clone())
	return nil
}

func (s *fakeStore) loadCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[id]
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) stored(id int64) *models.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenarios[id].Clone()
}

// fakeFabric records every frame each connection would receive.
type fakeFabric struct {
	mu     sync.Mutex
	rooms  map[string]map[string]bool
	frames map[string][][]byte
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{
		rooms:  make(map[string]map[string]bool),
		frames: make(map[string][][]byte),
	}
}

func (f *fakeFabric) Join(room, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]bool)
	}
	f.rooms[room][connID] = true
	return nil
}

func (f *fakeFabric) Leave(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
}

func (f *fakeFabric) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[connID] = append(f.frames[connID], data)
	return nil
}

func (f *fakeFabric) Broadcast(room, exceptConnID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.rooms[room] {
		if id != exceptConnID {
			f.frames[id] = append(f.frames[id], data)
		}
	}
	return nil
}

func (f *fakeFabric) members(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms[room])
}

// received decodes every frame sent to connID.
func (f *fakeFabric) received(t *testing.T, connID string) []models.Envelope {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	envs := make([]models.Envelope, 0, len(f.frames[connID]))
	for _, frame := range f.frames[connID] {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("decoding frame %s: %v", frame, err)
		}
		envs = append(envs, env)
	}
	return envs
}

func decodeState(t *testing.T, env models.Envelope) *models.Scenario {
	t.Helper()

	if env.Event != models.EventScenarioState {
		t.Fatalf("expected %s event, got %s", models.EventScenarioState, env.Event)
	}
	var s models.Scenario
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	return &s
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *Engine) joiningCount(id int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.cache.get(id); ent != nil {
		return ent.joining
	}
	return 0
}

func (e *Engine) isFlushing(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.flushing[id]
	return ok
}

func (e *Engine) pendingCount(id int64) int {
	e.mu.Lock()
	ent := e.cache.get(id)
	e.mu.Unlock()
	if ent == nil {
		return 0
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return len(ent.pending)
}

func rawID(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func lobby() *models.Scenario {
	return &models.Scenario{
		ID:        42,
		Name:      "abc",
		Emitters:  []models.Emitter{{ID: 1, Position: models.Position{X: 1, Y: 1, Z: 2}}},
		Listeners: []models.Listener{},
	}
}
