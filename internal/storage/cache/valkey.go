package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	"github.com/valkey-io/valkey-go"
)

const DefaultTTL = 5 * time.Minute

// CachedStore is a read-through snapshot cache in front of another store.
// Loads are served from valkey when possible; saves go to the backing store
// and then refresh the cached snapshot. Valkey failures on loads degrade to
// the backing store and are only logged. Catalog calls pass through, and
// deletes drop the cached snapshot.
type CachedStore struct {
	client  valkey.Client
	backing storage.Backend
	ttl     time.Duration
}

// NewClient connects to a valkey server.
func NewClient(addr, password string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", addr, err)
	}
	return client, nil
}

// NewCachedStore wraps backing with a valkey snapshot cache.
func NewCachedStore(client valkey.Client, backing storage.Backend, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedStore{
		client:  client,
		backing: backing,
		ttl:     ttl,
	}
}

func (s *CachedStore) ttlSeconds() int64 {
	return max(int64(s.ttl/time.Second), 1)
}

func snapshotKey(id int64) string {
	return fmt.Sprintf("scenario:%d:snapshot", id)
}

// LoadScenario returns the cached snapshot or loads and caches it.
func (s *CachedStore) LoadScenario(ctx context.Context, id int64) (*models.Scenario, error) {
	key := snapshotKey(id)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	switch {
	case err == nil:
		var sc models.Scenario
		jsonErr := json.Unmarshal(data, &sc)
		if jsonErr == nil {
			return &sc, nil
		}
		slog.WarnContext(ctx, "discarding corrupt scenario snapshot", "key", key, "error", jsonErr)
	case valkey.IsValkeyNil(err):
		// miss
	default:
		slog.WarnContext(ctx, "reading scenario snapshot", "key", key, "error", err)
	}

	sc, err := s.backing.LoadScenario(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.writeSnapshot(ctx, sc); err != nil {
		slog.WarnContext(ctx, "writing scenario snapshot", "key", key, "error", err)
	}

	return sc, nil
}

// SaveScenario writes through to the backing store and replaces the cached
// snapshot with the saved state. If the snapshot cannot be replaced it is
// dropped instead, and if that fails too the error is returned: the backing
// store holds the save but loads may still see the old snapshot until it
// expires.
func (s *CachedStore) SaveScenario(ctx context.Context, sc *models.Scenario) error {
	if err := s.backing.SaveScenario(ctx, sc); err != nil {
		return err
	}

	setErr := s.writeSnapshot(ctx, sc)
	if setErr == nil {
		return nil
	}
	slog.WarnContext(ctx, "replacing scenario snapshot", "key", snapshotKey(sc.ID), "error", setErr)

	if err := s.invalidate(ctx, sc.ID); err != nil {
		return fmt.Errorf("scenario %d saved but its cached snapshot is stale: %w", sc.ID, errors.Join(setErr, err))
	}
	return nil
}

// CreateScenario creates the scenario in the backing store. Fresh ids have
// nothing cached.
func (s *CachedStore) CreateScenario(ctx context.Context, sc *models.Scenario) (*models.ScenarioRecord, error) {
	return s.backing.CreateScenario(ctx, sc)
}

// GetScenario reads from the backing store, which alone has the timestamps.
func (s *CachedStore) GetScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	return s.backing.GetScenario(ctx, id)
}

// ListScenarios lists from the backing store.
func (s *CachedStore) ListScenarios(ctx context.Context, filter models.ScenarioFilter) ([]*models.ScenarioRecord, error) {
	return s.backing.ListScenarios(ctx, filter)
}

// DeleteScenario deletes from the backing store and drops the cached
// snapshot.
func (s *CachedStore) DeleteScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	rec, err := s.backing.DeleteScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, id); err != nil {
		slog.WarnContext(ctx, "invalidating scenario snapshot", "key", snapshotKey(id), "error", err)
	}
	return rec, nil
}

func (s *CachedStore) writeSnapshot(ctx context.Context, sc *models.Scenario) error {
	encoded, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding scenario %d snapshot: %w", sc.ID, err)
	}
	cmd := s.client.B().Set().Key(snapshotKey(sc.ID)).Value(valkey.BinaryString(encoded)).ExSeconds(s.ttlSeconds()).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *CachedStore) invalidate(ctx context.Context, id int64) error {
	return s.client.Do(ctx, s.client.B().Del().Key(snapshotKey(id)).Build()).Error()
}
