package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	_ "github.com/lib/pq" // PostgreSQL driver
)

//go:embed schema.sql
var schema string

// ScenarioStore implements storage.ScenarioStore on PostgreSQL.
type ScenarioStore struct {
	db *sql.DB
}

// NewScenarioStore opens and pings a PostgreSQL connection pool.
func NewScenarioStore(ctx context.Context, dataSourceName string) (*ScenarioStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(25)                 // Max number of open connections to the database
	db.SetMaxIdleConns(10)                 // Max number of idle connections in the pool
	db.SetConnMaxLifetime(5 * time.Minute) // Max lifetime for a connection

	slog.InfoContext(ctx, "connected to postgres scenario store")

	return &ScenarioStore{db: db}, nil
}

// EnsureSchema creates the scenario tables if they do not exist.
func (s *ScenarioStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *ScenarioStore) Close() error {
	return s.db.Close()
}

// CreateScenario inserts a scenario with its emitters and listeners and
// returns it with its assigned id.
func (s *ScenarioStore) CreateScenario(ctx context.Context, sc *models.Scenario) (rec *models.ScenarioRecord, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackOnError(ctx, tx, &err)

	rec = &models.ScenarioRecord{Scenario: *sc.Clone()}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO scenarios (name) VALUES ($1) RETURNING id, created_at, updated_at`, sc.Name).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating scenario: %w", err)
	}

	if err = insertDevices(ctx, tx, &rec.Scenario); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing scenario %d: %w", rec.ID, err)
	}

	slog.InfoContext(ctx, "scenario created", "scenario", rec.ID, "name", rec.Name)
	return rec, nil
}

// LoadScenario reads a scenario with its emitters and listeners in list order.
func (s *ScenarioStore) LoadScenario(ctx context.Context, id int64) (*models.Scenario, error) {
	rec, err := s.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.Scenario, nil
}

// GetScenario reads a scenario along with its catalog timestamps.
func (s *ScenarioStore) GetScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	rec := &models.ScenarioRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM scenarios WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading scenario %d: %w", id, err)
	}

	if err := s.loadDevices(ctx, &rec.Scenario); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListScenarios returns every scenario passing filter, ordered by id.
func (s *ScenarioStore) ListScenarios(ctx context.Context, filter models.ScenarioFilter) ([]*models.ScenarioRecord, error) {
	query, args := listQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	defer rows.Close()

	recs := []*models.ScenarioRecord{}
	for rows.Next() {
		rec := &models.ScenarioRecord{}
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning scenario: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenarios: %w", err)
	}

	for _, rec := range recs {
		if err := s.loadDevices(ctx, &rec.Scenario); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// listQuery builds the listing query for filter with numbered placeholders.
func listQuery(filter models.ScenarioFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Name != "" {
		add("s.name ILIKE $%d", "%"+likeEscaper.Replace(filter.Name)+"%")
	}
	if filter.CreatedAfter != nil {
		add("s.created_at >= $%d", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		add("s.created_at <= $%d", *filter.CreatedBefore)
	}
	if filter.UpdatedAfter != nil {
		add("s.updated_at >= $%d", *filter.UpdatedAfter)
	}
	if filter.UpdatedBefore != nil {
		add("s.updated_at <= $%d", *filter.UpdatedBefore)
	}
	if filter.MinDevices != nil {
		add(deviceCount+" >= $%d", *filter.MinDevices)
	}
	if filter.MaxDevices != nil {
		add(deviceCount+" <= $%d", *filter.MaxDevices)
	}

	query := `SELECT s.id, s.name, s.created_at, s.updated_at FROM scenarios s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY s.id", args
}

const deviceCount = `((SELECT COUNT(*) FROM emitters e WHERE e.scenario_id = s.id) +
	(SELECT COUNT(*) FROM listeners l WHERE l.scenario_id = s.id))`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteScenario removes a scenario and its devices and returns what was
// stored.
func (s *ScenarioStore) DeleteScenario(ctx context.Context, id int64) (*models.ScenarioRecord, error) {
	rec, err := s.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting scenario %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("deleting scenario %d: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("scenario %d: %w", id, storage.ErrScenarioNotFound)
	}

	slog.InfoContext(ctx, "scenario deleted", "scenario", id)
	return rec, nil
}

func (s *ScenarioStore) loadDevices(ctx context.Context, sc *models.Scenario) error {
	var err error
	sc.Emitters, err = s.loadEmitters(ctx, sc.ID)
	if err != nil {
		return err
	}
	sc.Listeners, err = s.loadListeners(ctx, sc.ID)
	return err
}

func (s *ScenarioStore) loadEmitters(ctx context.Context, id int64) ([]models.Emitter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, x, y, z, audio_file_uri FROM emitters WHERE scenario_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("reading emitters of scenario %d: %w", id, err)
	}
	defer rows.Close()

	emitters := []models.Emitter{}
	for rows.Next() {
		var (
			e   models.Emitter
			uri sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Position.X, &e.Position.Y, &e.Position.Z, &uri); err != nil {
			return nil, fmt.Errorf("scanning emitter of scenario %d: %w", id, err)
		}
		if uri.Valid {
			e.AudioFileURI = &uri.String
		}
		emitters = append(emitters, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating emitters of scenario %d: %w", id, err)
	}
	return emitters, nil
}

func (s *ScenarioStore) loadListeners(ctx context.Context, id int64) ([]models.Listener, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, x, y, z FROM listeners WHERE scenario_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("reading listeners of scenario %d: %w", id, err)
	}
	defer rows.Close()

	listeners := []models.Listener{}
	for rows.Next() {
		var l models.Listener
		if err := rows.Scan(&l.ID, &l.Position.X, &l.Position.Y, &l.Position.Z); err != nil {
			return nil, fmt.Errorf("scanning listener of scenario %d: %w", id, err)
		}
		listeners = append(listeners, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listeners of scenario %d: %w", id, err)
	}
	return listeners, nil
}

// SaveScenario replaces the stored name, emitters and listeners of an
// existing scenario in one transaction.
func (s *ScenarioStore) SaveScenario(ctx context.Context, sc *models.Scenario) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackOnError(ctx, tx, &err)

	res, err := tx.ExecContext(ctx, `UPDATE scenarios SET name = $1, updated_at = now() WHERE id = $2`, sc.Name, sc.ID)
	if err != nil {
		return fmt.Errorf("updating scenario %d: %w", sc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating scenario %d: %w", sc.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("scenario %d: %w", sc.ID, storage.ErrScenarioNotFound)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM emitters WHERE scenario_id = $1`, sc.ID); err != nil {
		return fmt.Errorf("clearing emitters of scenario %d: %w", sc.ID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM listeners WHERE scenario_id = $1`, sc.ID); err != nil {
		return fmt.Errorf("clearing listeners of scenario %d: %w", sc.ID, err)
	}
	if err = insertDevices(ctx, tx, sc); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing scenario %d: %w", sc.ID, err)
	}
	return nil
}

// insertDevices writes the emitters and listeners of sc, keyed by list order.
func insertDevices(ctx context.Context, tx *sql.Tx, sc *models.Scenario) error {
	for i, e := range sc.Emitters {
		var uri sql.NullString
		if e.AudioFileURI != nil {
			uri = sql.NullString{String: *e.AudioFileURI, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO emitters (scenario_id, ord, id, x, y, z, audio_file_uri) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sc.ID, i, e.ID, e.Position.X, e.Position.Y, e.Position.Z, uri)
		if err != nil {
			return fmt.Errorf("inserting emitter %d of scenario %d: %w", e.ID, sc.ID, err)
		}
	}
	for i, l := range sc.Listeners {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO listeners (scenario_id, ord, id, x, y, z) VALUES ($1, $2, $3, $4, $5, $6)`,
			sc.ID, i, l.ID, l.Position.X, l.Position.Y, l.Position.Z)
		if err != nil {
			return fmt.Errorf("inserting listener %d of scenario %d: %w", l.ID, sc.ID, err)
		}
	}
	return nil
}

// rollbackOnError rolls tx back when *err is set on return.
func rollbackOnError(ctx context.Context, tx *sql.Tx, err *error) {
	if *err == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		slog.WarnContext(ctx, "rolling back transaction", "error", rbErr)
	}
}
