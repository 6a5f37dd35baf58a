package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	"github.com/pixil98/go-testutil"
)

func TestScenarioStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewScenarioStore(DefaultSeed()...)

	sc, err := s.LoadScenario(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "name", sc.Name, "abc")

	sc.Name = "changed"
	sc.Emitters = nil

	again, err := s.LoadScenario(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "stored", again, DefaultSeed()[0])
}

func TestScenarioStore_Save(t *testing.T) {
	ctx := context.Background()
	s := NewScenarioStore(DefaultSeed()...)

	sc, _ := s.LoadScenario(ctx, 2)
	sc.Name = "renamed"
	sc.Listeners = append(sc.Listeners, models.Listener{ID: 2})

	if err := s.SaveScenario(ctx, sc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.LoadScenario(ctx, 2)
	testutil.AssertEqual(t, "saved", got, sc)
}

func TestScenarioStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewScenarioStore()

	_, err := s.LoadScenario(ctx, 9)
	if !errors.Is(err, storage.ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}

	err = s.SaveScenario(ctx, &models.Scenario{ID: 9})
	if !errors.Is(err, storage.ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound, got %v", err)
	}
}

func TestScenarioStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScenarioStore(DefaultSeed()...)
	_, err := s.LoadScenario(ctx, 1)
	testutil.AssertErrorContains(t, err, "context canceled")
}

func TestNewScenarioStoreFromFile(t *testing.T) {
	tests := map[string]struct {
		contents string
		expErr   string
		expName  string
	}{
		"valid seed": {
			contents: `[{"id":42,"name":"Lobby","emitters":[{"id":1,"position":{"x":1,"y":1,"z":2},"audioFileUri":null}],"listeners":[]}]`,
			expName:  "Lobby",
		},
		"malformed seed": {
			contents: `{"id":42`,
			expErr:   "parsing seed file",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.json")
			if err := os.WriteFile(path, []byte(tt.contents), 0o600); err != nil {
				t.Fatalf("writing seed: %v", err)
			}

			s, err := NewScenarioStoreFromFile(path)
			if tt.expErr != "" {
				testutil.AssertErrorContains(t, err, tt.expErr)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sc, err := s.LoadScenario(context.Background(), 42)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "name", sc.Name, tt.expName)
			testutil.AssertEqual(t, "emitters", len(sc.Emitters), 1)
		})
	}
}

func TestNewScenarioStoreFromFile_Missing(t *testing.T) {
	_, err := NewScenarioStoreFromFile(filepath.Join(t.TempDir(), "absent.json"))
	testutil.AssertErrorContains(t, err, "reading seed file")
}
