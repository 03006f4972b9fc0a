// Package scenario implements simple automation for registered breezers:
// time-triggered schedules and sensor-threshold rules, persisted in the
// same sqlite database as the device registry.
package scenario

import (
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/tion-home/tionctl/pkg/tion"
)

// ErrNotFound is returned when a scenario id is not in the store.
var ErrNotFound = errors.New("scenario not found")

// TriggerKind selects what fires a scenario.
type TriggerKind string

const (
	// TriggerTime fires on a cron schedule.
	TriggerTime TriggerKind = "time"
	// TriggerSensor fires when a sensor reading crosses a threshold.
	TriggerSensor TriggerKind = "sensor"
)

// Metric names a sensor value a rule can test.
type Metric string

const (
	MetricCO2      Metric = "co2"
	MetricInTemp   Metric = "in_temp"
	MetricOutTemp  Metric = "out_temp"
	MetricHumidity Metric = "humidity"
)

// Value extracts the metric from a reading.
func (m Metric) Value(r tion.Reading) (int, error) {
	switch m {
	case MetricCO2:
		return r.CO2, nil
	case MetricInTemp:
		return r.InTemp, nil
	case MetricOutTemp:
		return r.OutTemp, nil
	case MetricHumidity:
		return r.Humidity, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", string(m))
	}
}

// Condition compares a metric against a threshold.
type Condition struct {
	Metric    Metric
	Above     bool // true: fire when value > threshold, false: when value < threshold
	Threshold int
}

// Matches reports whether the reading satisfies the condition.
func (c Condition) Matches(r tion.Reading) (bool, error) {
	v, err := c.Metric.Value(r)
	if err != nil {
		return false, err
	}
	if c.Above {
		return v > c.Threshold, nil
	}
	return v < c.Threshold, nil
}

// Action is what a scenario does to its device when triggered.
type Action struct {
	SetSpeed *int
	SetMode  *tion.Mode
}

// Scenario is one stored automation rule.
type Scenario struct {
	ID       string
	Name     string
	DeviceID string
	Trigger  TriggerKind
	CronSpec string    // TriggerTime only
	Cond     Condition // TriggerSensor only
	Action   Action
	Enabled  bool
	LastRun  time.Time
	Created  time.Time
}

// Store persists scenarios in sqlite.
type Store struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// OpenStore opens (creating if needed) the scenario table in the given database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store %s: %w", path, err)
	}
	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scenarios (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			device_id    TEXT NOT NULL,
			trigger      TEXT NOT NULL,
			cron_spec    TEXT DEFAULT '',
			metric       TEXT DEFAULT '',
			above        BOOLEAN DEFAULT 0,
			threshold    INTEGER DEFAULT 0,
			set_speed    INTEGER,
			set_mode     INTEGER,
			enabled      BOOLEAN DEFAULT 1,
			last_run     TIMESTAMP,
			created_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize scenario schema: %w", err)
	}
	return nil
}

// Add validates and stores a new scenario, assigning its id.
func (s *Store) Add(sc Scenario) (Scenario, error) {
	if err := validate(sc); err != nil {
		return Scenario{}, err
	}
	sc.ID = ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	sc.Enabled = true

	var speed, mode sql.NullInt64
	if sc.Action.SetSpeed != nil {
		speed = sql.NullInt64{Int64: int64(*sc.Action.SetSpeed), Valid: true}
	}
	if sc.Action.SetMode != nil {
		mode = sql.NullInt64{Int64: int64(*sc.Action.SetMode), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO scenarios (id, name, device_id, trigger, cron_spec, metric, above, threshold, set_speed, set_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.DeviceID, string(sc.Trigger), sc.CronSpec,
		string(sc.Cond.Metric), sc.Cond.Above, sc.Cond.Threshold, speed, mode)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to store scenario %q: %w", sc.Name, err)
	}
	return s.Get(sc.ID)
}

func validate(sc Scenario) error {
	switch sc.Trigger {
	case TriggerTime:
		if sc.CronSpec == "" {
			return errors.New("time scenario needs a cron spec")
		}
	case TriggerSensor:
		if _, err := sc.Cond.Metric.Value(tion.Reading{}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown trigger %q", string(sc.Trigger))
	}
	if sc.Action.SetSpeed == nil && sc.Action.SetMode == nil {
		return errors.New("scenario needs at least one action")
	}
	if sc.DeviceID == "" {
		return errors.New("scenario needs a device")
	}
	return nil
}

// Get returns a single scenario by id.
func (s *Store) Get(id string) (Scenario, error) {
	row := s.db.QueryRow(scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	return scanScenario(row)
}

// List returns scenarios, enabled ones only unless all is set.
func (s *Store) List(all bool) ([]Scenario, error) {
	query := scenarioColumns + ` FROM scenarios`
	if !all {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_date`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

// SetEnabled toggles a scenario without deleting it.
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.exec(id, `UPDATE scenarios SET enabled = ? WHERE id = ?`, enabled, id)
}

// Delete removes a scenario permanently.
func (s *Store) Delete(id string) error {
	return s.exec(id, `DELETE FROM scenarios WHERE id = ?`, id)
}

// MarkRun records the execution time.
func (s *Store) MarkRun(id string, at time.Time) error {
	return s.exec(id, `UPDATE scenarios SET last_run = ? WHERE id = ?`, at.UTC(), id)
}

func (s *Store) exec(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scenario %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

const scenarioColumns = `
	SELECT id, name, device_id, trigger, cron_spec, metric, above, threshold,
	       set_speed, set_mode, enabled, last_run, created_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (Scenario, error) {
	var sc Scenario
	var trigger, metric string
	var speed, mode sql.NullInt64
	var lastRun sql.NullTime
	err := row.Scan(&sc.ID, &sc.Name, &sc.DeviceID, &trigger, &sc.CronSpec,
		&metric, &sc.Cond.Above, &sc.Cond.Threshold, &speed, &mode,
		&sc.Enabled, &lastRun, &sc.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return Scenario{}, ErrNotFound
	}
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario row: %w", err)
	}
	sc.Trigger = TriggerKind(trigger)
	sc.Cond.Metric = Metric(metric)
	if speed.Valid {
		v := int(speed.Int64)
		sc.Action.SetSpeed = &v
	}
	if mode.Valid {
		m := tion.Mode(mode.Int64)
		sc.Action.SetMode = &m
	}
	if lastRun.Valid {
		sc.LastRun = lastRun.Time
	}
	return sc, nil
}
