package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
)

// ScenarioStore keeps scenarios in memory. It is the development and test
// stand-in for the Postgres store.
type ScenarioStore struct {
	mu        sync.RWMutex                     // Guards scenarios and nextID
	scenarios map[int64]*models.ScenarioRecord // Scenario id -> stored copy
	nextID    int64                            // Id handed to the next created scenario

	now func() time.Time
}

// NewScenarioStore creates a store holding the given scenarios.
func NewScenarioStore(seed ...*models.Scenario) *ScenarioStore {
	s := &ScenarioStore{
		scenarios: make(map[int64]*models.ScenarioRecord, len(seed)),
		nextID:    1,
		now:       time.Now,
	}

	created := s.now().UTC()
	for _, sc := range seed {
		s.scenarios[sc.ID] = &models.ScenarioRecord{
			Scenario:  *sc.Clone(),
			CreatedAt: created,
			UpdatedAt: created,
		}
		s.nextID = max(s.nextID, sc.ID+1)
	}
	return s
}

// NewScenarioStoreFromFile creates a store seeded from a JSON array of
// scenarios.
func NewScenarioStoreFromFile(path string) (*ScenarioStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %q: %w", path, err)
	}

	var seed []*models.Scenario
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %q: %w", path, err)
	}

	slog.Info("seeded memory scenario store", "path", path, "scenarios", len(seed))
	return NewScenarioStore(seed...), nil
}

// DefaultSeed returns the sample scenarios the memory store starts with when
// no seed file is configured.
func DefaultSeed() []*models.Scenario {
	names := []string{"abc", "abcd", "abcde", "abcdef"}

	seed := make([]*models.Scenario, 0, len(names))
	for i, name := range names {
		seed = append(seed, &models.Scenario{
			ID:   int64(i + 1),
			Name: name,
			Emitters: []models.Emitter{
				{ID: 1, Position: models.Position{X: 1, Y: 1, Z: 2}},
			},
			Listeners: []models.Listener{
				{ID: 1, Position: models.Position{X: 1, Y: 1, Z: 1}},
			},
		})
	}
	return seed
}

// LoadScenario returns a copy of the stored scenario.
func (s *ScenarioStore) LoadScenario(ctx context.Context, id int64) (*models.Scenario, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}
	return rec.Scenario.Clone(), nil
}

// SaveScenario replaces the stored copy of an existing scenario.
func (s *ScenarioStore) SaveScenario(ctx context.Context, sc *models.Scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scenarios[sc.ID]
	if !ok {
		return fmt.Errorf("scenario %d: %w", sc.ID, storage.ErrScenarioNotFound)
	}
	rec.Scenario = *sc.Clone()
	rec.UpdatedAt = s.now().UTC()
	return nil
}

// CreateScenario stores a copy of sc under the next free id.
func (s *ScenarioStore) CreateScenario(ctx context.Context, sc *models.Scenario) (*models.ScenarioRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := &models.ScenarioRecord{
		Scenario:  *sc.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.ID = s.nextID
	s.nextID++
	s.scenarios[rec.ID] = rec

	slog.InfoContext(ctx, "scenario created", "scenario", rec.ID, "name", rec.Name)
	return rec.Clone(), nil
}

// GetScenario returns a copy of the stored scenario with its metadata.
func (s *ScenarioStore) GetScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}
	return rec.Clone(), nil
}

// ListScenarios returns copies of every scenario passing filter, by id.
func (s *ScenarioStore) ListScenarios(ctx context.Context, filter models.ScenarioFilter) ([]*models.ScenarioRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := []*models.ScenarioRecord{}
	for _, rec := range s.scenarios {
		if filter.Matches(rec) {
			recs = append(recs, rec.Clone())
		}
	}
	slices.SortFunc(recs, func(a, b *models.ScenarioRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return recs, nil
}

// DeleteScenario removes a scenario and returns what was stored.
func (s *ScenarioStore) DeleteScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}
	delete(s.scenarios, id)

	slog.InfoContext(ctx, "scenario deleted", "scenario", id)
	return rec, nil
}
