package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
)

const (
	DefaultLoadTimeout  = 10 * time.Second
	DefaultFlushTimeout = 5 * time.Second

	loadFailedMessage = "Failed to load scenario"
)

var (
	// ErrNotLive is returned when an operation needs a scenario that no
	// connection is currently viewing.
	ErrNotLive = errors.New("scenario is not live")

	errNoScenario = errors.New("store returned no scenario")
)

// Store is the persistent scenario store the engine hydrates from and
// flushes to.
type Store interface {
	LoadScenario(ctx context.Context, id int64) (*models.Scenario, error)
	SaveScenario(ctx context.Context, s *models.Scenario) error
}

// Fabric delivers frames to connections and to named groups of connections.
type Fabric interface {
	Join(room, connID string) error
	Leave(room, connID string)
	Send(connID string, data []byte) error
	Broadcast(room, exceptConnID string, data []byte) error
}

// Stats is a point-in-time count of live scenarios and joined connections.
type Stats struct {
	Scenarios   int `json:"scenarios"`
	Connections int `json:"connections"`
}

// Engine owns the live copy of every scenario being viewed. It admits
// connections into scenario rooms, applies their edits and fans them out,
// and drops a scenario once its last viewer disconnects.
type Engine struct {
	store    Store
	fabric   Fabric
	registry *Registry

	// mu guards cache, flushing and every entry's joining count. It is only
	// held for map bookkeeping, never across I/O. When both are needed,
	// entry.mu is taken before mu.
	mu       sync.Mutex
	cache    *Cache
	flushing map[int64]chan struct{}

	loadTimeout  time.Duration
	flushTimeout time.Duration
	flushOnEvict bool
}

// NewEngine creates an Engine backed by store and delivering through fabric.
func NewEngine(store Store, fabric Fabric, opts ...EngineOpt) *Engine {
	e := &Engine{
		store:        store,
		fabric:       fabric,
		registry:     NewRegistry(),
		cache:        NewCache(),
		flushing:     make(map[int64]chan struct{}),
		loadTimeout:  DefaultLoadTimeout,
		flushTimeout: DefaultFlushTimeout,
		flushOnEvict: true,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// PendingJoin is a join that holds a scenario's cache entry but has not yet
// entered its room. Holding the entry keeps the scenario from being evicted
// and lets the connection's updates queue while it loads.
type PendingJoin struct {
	engine *Engine
	ent    *entry
	connID string
}

// Join admits connID into the room of the scenario named by rawID, loading
// the scenario first if nobody is viewing it. On success the connection
// receives the full state; on load failure it receives an error event and is
// not admitted. An rawID that is not a non-negative integer is ignored.
func (e *Engine) Join(ctx context.Context, connID string, rawID json.RawMessage) {
	if p, ok := e.Admit(ctx, connID, rawID); ok {
		p.Wait(ctx)
	}
}

// Admit is the non-blocking first half of Join. It creates the scenario's
// entry and starts its load if needed, so updates sent right after the join
// are queued instead of dropped. The caller must call Wait exactly once.
func (e *Engine) Admit(ctx context.Context, connID string, rawID json.RawMessage) (*PendingJoin, bool) {
	id, ok := ParseScenarioID(rawID)
	if !ok {
		slog.DebugContext(ctx, "ignoring join with malformed scenario id", "conn", connID, "raw", string(rawID))
		return nil, false
	}

	e.mu.Lock()
	ent := e.cache.get(id)
	created := ent == nil
	if created {
		ent = newEntry(id)
		e.cache.put(id, ent)
	}
	ent.joining++
	flushDone := e.flushing[id]
	e.mu.Unlock()

	if created {
		go e.hydrate(ent, flushDone)
	}

	return &PendingJoin{engine: e, ent: ent, connID: connID}, true
}

// Wait blocks until the scenario is loaded, then enters the room and pushes
// the state, or reports the load failure.
func (p *PendingJoin) Wait(ctx context.Context) {
	e, ent, connID, id := p.engine, p.ent, p.connID, p.ent.id

	select {
	case <-ent.ready:
	case <-ctx.Done():
		e.abandon(ent)
		return
	}

	if ent.err != nil {
		e.abandon(ent)
		e.sendError(ctx, connID, loadFailedMessage)
		return
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	e.mu.Lock()
	ent.joining--
	if ctx.Err() != nil {
		// The connection went away while waiting; its disconnect has
		// already run or will find nothing to remove.
		flush, evicted := e.evictLocked(ent)
		e.mu.Unlock()
		if evicted {
			go e.retire(ent, flush)
		}
		return
	}
	added := e.registry.Add(connID, id)
	e.mu.Unlock()

	room := models.RoomName(id)
	if added {
		if err := e.fabric.Join(room, connID); err != nil {
			slog.WarnContext(ctx, "joining broadcast group", "conn", connID, "room", room, "error", err)
		}
	}

	data, err := models.NewEnvelope(models.EventScenarioState, ent.state)
	if err != nil {
		slog.ErrorContext(ctx, "encoding scenario state", "scenario", id, "error", err)
		return
	}
	if err := e.fabric.Send(connID, data); err != nil {
		slog.WarnContext(ctx, "sending scenario state", "conn", connID, "scenario", id, "error", err)
		return
	}

	slog.InfoContext(ctx, "connection joined scenario", "conn", connID, "room", room, "occupancy", e.registry.Occupancy(id))
}

// Update applies one edit to a live scenario and relays it to every other
// connection in the room. Updates for scenarios that are not cached are
// dropped; updates that arrive while the scenario is still loading are
// queued and replayed once it is ready.
func (e *Engine) Update(ctx context.Context, connID string, req models.UpdateRequest) {
	e.mu.Lock()
	ent := e.cache.get(req.ScenarioID)
	e.mu.Unlock()

	if ent == nil {
		slog.DebugContext(ctx, "dropping update for scenario that is not live", "conn", connID, "scenario", req.ScenarioID, "action", req.Action)
		return
	}

	action, err := models.ParseAction(req.Action, req.Payload)
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed update", "conn", connID, "scenario", req.ScenarioID, "action", req.Action, "error", err)
		return
	}

	p := pendingUpdate{
		connID:  connID,
		action:  action,
		name:    req.Action,
		payload: req.Payload,
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	switch {
	case ent.evicted || ent.err != nil:
		slog.DebugContext(ctx, "dropping update for retired scenario", "conn", connID, "scenario", req.ScenarioID)
	case ent.state == nil:
		ent.pending = append(ent.pending, p)
	default:
		e.applyLocked(ctx, ent, p)
	}
}

// applyLocked mutates the entry's state and relays the edit. Must hold ent.mu,
// which keeps per-scenario apply order equal to delivery order.
func (e *Engine) applyLocked(ctx context.Context, ent *entry, p pendingUpdate) {
	if _, unknown := p.action.(models.UnknownAction); unknown {
		slog.DebugContext(ctx, "relaying unknown action without applying it", "scenario", ent.id, "action", p.name)
	}
	if p.action.Apply(ent.state) {
		ent.version++
	}

	data, err := models.NewEnvelope(models.EventScenarioUpdate, models.UpdateBroadcast{
		Action:  p.name,
		Payload: p.payload,
	})
	if err != nil {
		slog.ErrorContext(ctx, "encoding scenario update", "scenario", ent.id, "error", err)
		return
	}

	room := models.RoomName(ent.id)
	if err := e.fabric.Broadcast(room, p.connID, data); err != nil {
		slog.WarnContext(ctx, "broadcasting scenario update", "room", room, "error", err)
	}
}

// Disconnect removes connID from every scenario room it joined and evicts
// any scenario left without viewers.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	type retiring struct {
		ent   *entry
		flush chan struct{}
	}
	var (
		left    []int64
		retired []retiring
	)

	e.mu.Lock()
	for id, remaining := range e.registry.RemoveAll(connID) {
		left = append(left, id)
		if remaining > 0 {
			continue
		}
		ent := e.cache.get(id)
		if ent == nil {
			continue
		}
		if flush, ok := e.evictLocked(ent); ok {
			retired = append(retired, retiring{ent: ent, flush: flush})
		}
	}
	e.mu.Unlock()

	slices.Sort(left)
	for _, id := range left {
		e.fabric.Leave(models.RoomName(id), connID)
	}
	for _, r := range retired {
		e.retire(r.ent, r.flush)
	}

	if len(left) > 0 {
		slog.InfoContext(ctx, "connection left scenarios", "conn", connID, "scenarios", left, "evicted", len(retired))
	}
}

// Save persists the live state of a scenario through the store.
func (e *Engine) Save(ctx context.Context, id int64) error {
	e.mu.Lock()
	ent := e.cache.get(id)
	e.mu.Unlock()
	if ent == nil {
		return ErrNotLive
	}

	ent.mu.Lock()
	if ent.state == nil || ent.evicted {
		ent.mu.Unlock()
		return ErrNotLive
	}
	snapshot := ent.state.Clone()
	version := ent.version
	ent.mu.Unlock()

	if err := e.store.SaveScenario(ctx, snapshot); err != nil {
		return fmt.Errorf("saving scenario %d: %w", id, err)
	}

	ent.mu.Lock()
	if version > ent.savedVersion {
		ent.savedVersion = version
	}
	ent.mu.Unlock()

	slog.InfoContext(ctx, "scenario saved", "scenario", id)
	return nil
}

// Snapshot returns a copy of the live state of a scenario.
func (e *Engine) Snapshot(id int64) (*models.Scenario, bool) {
	e.mu.Lock()
	ent := e.cache.get(id)
	e.mu.Unlock()
	if ent == nil {
		return nil, false
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.state == nil || ent.evicted {
		return nil, false
	}
	return ent.state.Clone(), true
}

// Live reports whether the engine holds the scenario in any form: loading,
// cached, or evicted with its flush still running. Such a scenario may yet
// be written back to the store.
func (e *Engine) Live(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.get(id) != nil || e.flushing[id] != nil
}

// Stats reports how many scenarios are cached and how many connections
// are in at least one room.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Scenarios:   e.cache.Len(),
		Connections: e.registry.Connections(),
	}
}

// Viewers returns how many connections are in the scenario's room.
func (e *Engine) Viewers(id int64) int {
	return e.registry.Occupancy(id)
}

// hydrate loads a scenario into a freshly created entry. It waits for any
// flush of the same id still in flight so it never reads pre-flush data.
func (e *Engine) hydrate(ent *entry, flushDone <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), e.loadTimeout)
	defer cancel()

	state, err := e.load(ctx, ent.id, flushDone)
	if err != nil {
		e.mu.Lock()
		if e.cache.get(ent.id) == ent {
			e.cache.remove(ent.id)
		}
		e.mu.Unlock()

		ent.mu.Lock()
		dropped := len(ent.pending)
		ent.err = err
		ent.pending = nil
		close(ent.ready)
		ent.mu.Unlock()

		slog.WarnContext(ctx, "failed to load scenario", "scenario", ent.id, "dropped_updates", dropped, "error", err)
		return
	}

	state.ID = ent.id

	ent.mu.Lock()
	ent.state = state
	for _, p := range ent.pending {
		e.applyLocked(ctx, ent, p)
	}
	replayed := len(ent.pending)
	ent.pending = nil
	close(ent.ready)
	ent.mu.Unlock()

	slog.InfoContext(ctx, "scenario hydrated", "scenario", ent.id, "devices", state.DeviceCount(), "replayed_updates", replayed)

	// Every joiner may have given up while the load was running.
	e.mu.Lock()
	flush, evicted := e.evictLocked(ent)
	e.mu.Unlock()
	if evicted {
		e.retire(ent, flush)
	}
}

type loadResult struct {
	state *models.Scenario
	err   error
}

func (e *Engine) load(ctx context.Context, id int64, flushDone <-chan struct{}) (*models.Scenario, error) {
	if flushDone != nil {
		select {
		case <-flushDone:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for flush of scenario %d: %w", id, ctx.Err())
		}
	}

	// The store may ignore ctx; never let it hold the entry in Loading.
	results := make(chan loadResult, 1)
	go func() {
		s, err := e.store.LoadScenario(ctx, id)
		results <- loadResult{state: s, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("loading scenario %d: %w", id, r.err)
		}
		if r.state == nil {
			return nil, fmt.Errorf("loading scenario %d: %w", id, errNoScenario)
		}
		return r.state, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("loading scenario %d: %w", id, ctx.Err())
	}
}

// abandon releases a joiner's hold on an entry without joining its room.
func (e *Engine) abandon(ent *entry) {
	e.mu.Lock()
	ent.joining--
	flush, evicted := e.evictLocked(ent)
	e.mu.Unlock()

	if evicted {
		e.retire(ent, flush)
	}
}

// evictLocked removes ent from the cache if it is ready, still current and
// held by nobody. When flushing is enabled it also registers the flush that
// retire must complete. Must hold e.mu.
func (e *Engine) evictLocked(ent *entry) (chan struct{}, bool) {
	if e.cache.get(ent.id) != ent || ent.joining > 0 || !ent.isReady() {
		return nil, false
	}
	if e.registry.Occupancy(ent.id) > 0 {
		return nil, false
	}

	e.cache.remove(ent.id)

	if !e.flushOnEvict {
		return nil, true
	}
	flush := make(chan struct{})
	e.flushing[ent.id] = flush
	return flush, true
}

// retire finishes an eviction: the entry stops accepting updates and, if
// it holds unsaved edits and flushing is on, its state is saved.
func (e *Engine) retire(ent *entry, flush chan struct{}) {
	ent.mu.Lock()
	ent.evicted = true
	dirty := ent.dirty()
	var snapshot *models.Scenario
	if dirty && flush != nil {
		snapshot = ent.state.Clone()
	}
	ent.mu.Unlock()

	if flush == nil {
		if dirty {
			slog.Warn("discarding unsaved scenario edits", "scenario", ent.id)
		}
		slog.Info("dropped scenario state", "scenario", ent.id)
		return
	}

	defer func() {
		e.mu.Lock()
		if e.flushing[ent.id] == flush {
			delete(e.flushing, ent.id)
		}
		e.mu.Unlock()
		close(flush)
	}()

	if snapshot == nil {
		slog.Info("dropped scenario state", "scenario", ent.id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.flushTimeout)
	defer cancel()

	if err := e.store.SaveScenario(ctx, snapshot); err != nil {
		slog.WarnContext(ctx, "flushing evicted scenario", "scenario", ent.id, "error", err)
		return
	}
	slog.InfoContext(ctx, "flushed evicted scenario", "scenario", ent.id)
}

func (e *Engine) sendError(ctx context.Context, connID string, msg string) {
	data, err := models.NewEnvelope(models.EventError, msg)
	if err != nil {
		slog.ErrorContext(ctx, "encoding error event", "error", err)
		return
	}
	if err := e.fabric.Send(connID, data); err != nil {
		slog.WarnContext(ctx, "sending error event", "conn", connID, "error", err)
	}
}
