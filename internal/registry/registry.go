// Package registry persists known breezers in a local sqlite database:
// address, label, family, room assignment and pairing state.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tion-home/tionctl/pkg/tion"
)

// ErrNotFound is returned when a device id is not registered.
var ErrNotFound = errors.New("device not found")

// DeviceInfo is one registered breezer. The MAC address doubles as the id.
type DeviceInfo struct {
	ID      string
	Name    string
	Model   tion.Model
	Address string
	Active  bool
	Paired  bool
	Room    string
	Updated time.Time
}

// Registry is the sqlite-backed device store.
type Registry struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the registry database.
func Open(path string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	r := &Registry{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			model        TEXT NOT NULL,
			mac_address  TEXT UNIQUE NOT NULL,
			is_active    BOOLEAN DEFAULT 1,
			is_paired    BOOLEAN DEFAULT 0,
			room         TEXT DEFAULT '',
			updated_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	_, err = r.db.Exec(`
		CREATE TABLE IF NOT EXISTS device_groups (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			device_ids TEXT NOT NULL,
			is_active  BOOLEAN DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize group schema: %w", err)
	}
	return nil
}

// Register inserts or updates a device. The name defaults to a cleaned-up
// form of the advertised name ("Tion_Breezer_S3_1234" becomes "S3 1234").
func (r *Registry) Register(address, advertisedName, name string) (DeviceInfo, error) {
	model := tion.DetectModel(advertisedName)
	if name == "" {
		name = friendlyName(advertisedName, address)
	}

	_, err := r.db.Exec(`
		INSERT INTO devices (id, name, model, mac_address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mac_address) DO UPDATE SET
			name = excluded.name,
			model = excluded.model,
			updated_date = CURRENT_TIMESTAMP,
			is_active = 1`,
		address, name, string(model), address)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to register device %s: %w", address, err)
	}

	r.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    name,
		"model":   model,
	}).Info("Registered device")

	return r.Get(address)
}

// Get returns a single device by id.
func (r *Registry) Get(id string) (DeviceInfo, error) {
	row := r.db.QueryRow(`
		SELECT id, name, model, mac_address, is_active, is_paired, room, updated_date
		FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

// List returns registered devices, active ones only unless all is set.
func (r *Registry) List(all bool) ([]DeviceInfo, error) {
	query := `
		SELECT id, name, model, mac_address, is_active, is_paired, room, updated_date
		FROM devices`
	if !all {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceInfo
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SetPaired records pairing state.
func (r *Registry) SetPaired(id string, paired bool) error {
	return r.update(id, `UPDATE devices SET is_paired = ?, updated_date = CURRENT_TIMESTAMP WHERE id = ?`, paired, id)
}

// SetRoom assigns a device to a room.
func (r *Registry) SetRoom(id, room string) error {
	return r.update(id, `UPDATE devices SET room = ?, updated_date = CURRENT_TIMESTAMP WHERE id = ?`, room, id)
}

// Rename changes the device label.
func (r *Registry) Rename(id, name string) error {
	return r.update(id, `UPDATE devices SET name = ?, updated_date = CURRENT_TIMESTAMP WHERE id = ?`, name, id)
}

// Remove marks a device inactive. The row stays for history.
func (r *Registry) Remove(id string) error {
	return r.update(id, `UPDATE devices SET is_active = 0, is_paired = 0, updated_date = CURRENT_TIMESTAMP WHERE id = ?`, id)
}

func (r *Registry) update(id, query string, args ...any) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (DeviceInfo, error) {
	var d DeviceInfo
	var model string
	err := row.Scan(&d.ID, &d.Name, &model, &d.Address, &d.Active, &d.Paired, &d.Room, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceInfo{}, ErrNotFound
	}
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to read device row: %w", err)
	}
	d.Model = tion.Model(model)
	return d, nil
}

// friendlyName derives a human label from the advertised firmware name.
func friendlyName(advertisedName, address string) string {
	name := strings.TrimPrefix(advertisedName, "Tion_Breezer_")
	name = strings.TrimPrefix(name, "tion_")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return address
	}
	return name
}
