package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	"github.com/Vasu1712/scenyx-sync/internal/storage/memory"
	"github.com/pixil98/go-testutil"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func lobby() *models.Scenario {
	return &models.Scenario{
		ID:        42,
		Name:      "abc",
		Emitters:  []models.Emitter{{ID: 1, Position: models.Position{X: 1, Y: 1, Z: 2}}},
		Listeners: []models.Listener{},
	}
}

func encode(t *testing.T, sc *models.Scenario) string {
	t.Helper()
	data, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("encoding scenario: %v", err)
	}
	return string(data)
}

func TestCachedStore_LoadHit(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	cached := lobby()
	cached.Name = "from cache"
	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "scenario:42:snapshot")).
		Return(mock.Result(mock.ValkeyString(encode(t, cached))))

	s := NewCachedStore(client, memory.NewScenarioStore(lobby()), time.Minute)

	got, err := s.LoadScenario(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "scenario", got, cached)
}

func TestCachedStore_LoadMiss(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	gomock.InOrder(
		client.EXPECT().
			Do(gomock.Any(), mock.Match("GET", "scenario:42:snapshot")).
			Return(mock.Result(mock.ValkeyNil())),
		client.EXPECT().
			Do(gomock.Any(), mock.Match("SET", "scenario:42:snapshot", encode(t, lobby()), "EX", "60")).
			Return(mock.Result(mock.ValkeyString("OK"))),
	)

	s := NewCachedStore(client, memory.NewScenarioStore(lobby()), time.Minute)

	got, err := s.LoadScenario(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "scenario", got, lobby())
}

func TestCachedStore_LoadDegradesOnValkeyError(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "scenario:42:snapshot")).
		Return(mock.ErrorResult(errors.New("connection refused")))
	client.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "scenario:42:snapshot", encode(t, lobby()), "EX", "1")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	// Sub-second TTLs round up to one second.
	s := NewCachedStore(client, memory.NewScenarioStore(lobby()), 100*time.Millisecond)

	got, err := s.LoadScenario(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "scenario", got, lobby())
}

func TestCachedStore_LoadCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "scenario:42:snapshot")).
		Return(mock.Result(mock.ValkeyString("{not json")))
	client.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "scenario:42:snapshot", encode(t, lobby()), "EX", "60")).
		Return(mock.Result(mock.ValkeyString("OK")))

	s := NewCachedStore(client, memory.NewScenarioStore(lobby()), time.Minute)

	got, err := s.LoadScenario(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "scenario", got, lobby())
}

func TestCachedStore_LoadNotFound(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "scenario:7:snapshot")).
		Return(mock.Result(mock.ValkeyNil()))

	s := NewCachedStore(client, memory.NewScenarioStore(), time.Minute)

	_, err := s.LoadScenario(ctx, 7)
	if !errors.Is(err, storage.ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}

func TestCachedStore_SaveRefreshesSnapshot(t *testing.T) {
	saved := lobby()
	saved.Name = "xyz"

	tests := map[string]struct {
		setErr error
		delErr error
		expErr string
	}{
		"snapshot replaced": {},
		"replace fails, snapshot dropped": {
			setErr: errors.New("connection reset"),
		},
		"replace and drop fail": {
			setErr: errors.New("connection reset"),
			delErr: errors.New("connection refused"),
			expErr: "cached snapshot is stale",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ctrl := gomock.NewController(t)
			client := mock.NewClient(ctrl)

			set := client.EXPECT().
				Do(gomock.Any(), mock.Match("SET", "scenario:42:snapshot", encode(t, saved), "EX", "60"))
			if tt.setErr == nil {
				set.Return(mock.Result(mock.ValkeyString("OK")))
			} else {
				set.Return(mock.ErrorResult(tt.setErr))
				del := client.EXPECT().
					Do(gomock.Any(), mock.Match("DEL", "scenario:42:snapshot")).
					After(set)
				if tt.delErr == nil {
					del.Return(mock.Result(mock.ValkeyInt64(1)))
				} else {
					del.Return(mock.ErrorResult(tt.delErr))
				}
			}

			backing := memory.NewScenarioStore(lobby())
			s := NewCachedStore(client, backing, time.Minute)

			err := s.SaveScenario(ctx, saved)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// The backing store holds the save either way.
			stored, err := backing.LoadScenario(ctx, 42)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "stored name", stored.Name, "xyz")
		})
	}
}

func TestCachedStore_SaveFailureSkipsInvalidation(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	s := NewCachedStore(client, memory.NewScenarioStore(), time.Minute)

	err := s.SaveScenario(ctx, lobby())
	if !errors.Is(err, storage.ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}

func TestCachedStore_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "scenario:42:snapshot")).
		Return(mock.ErrorResult(errors.New("connection refused")))

	s := NewCachedStore(client, memory.NewScenarioStore(lobby()), time.Minute)

	rec, err := s.DeleteScenario(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "deleted", rec.Name, "abc")

	// Catalog reads never touch valkey.
	recs, err := s.ListScenarios(ctx, models.ScenarioFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "remaining", len(recs), 0)

	_, err = s.GetScenario(ctx, 42)
	if !errors.Is(err, storage.ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}
