package storage

import (
	"context"
	"errors"

	"github.com/Vasu1712/scenyx-sync/internal/models"
)

// ErrScenarioNotFound is returned by every store when the id does not exist.
var ErrScenarioNotFound = errors.New("scenario not found")

// ScenarioStore is the durable home of scenarios. LoadScenario returns a copy
// the caller may mutate freely.
type ScenarioStore interface {
	LoadScenario(ctx context.Context, id int64) (*models.Scenario, error)
	SaveScenario(ctx context.Context, s *models.Scenario) error
}

// Catalog creates, lists and removes stored scenarios. CreateScenario ignores
// the id of s and assigns a fresh one.
type Catalog interface {
	CreateScenario(ctx context.Context, s *models.Scenario) (*models.ScenarioRecord, error)
	GetScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error)
	ListScenarios(ctx context.Context, filter models.ScenarioFilter) ([]*models.ScenarioRecord, error)
	DeleteScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error)
}

// Backend is a store that serves both the sync engine and the catalog.
type Backend interface {
	ScenarioStore
	Catalog
}
