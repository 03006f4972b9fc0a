package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrGroupNotFound is returned when a group id is not registered.
var ErrGroupNotFound = errors.New("group not found")

// Group bundles devices so one command can address several breezers at once
// ("bedrooms", "whole flat").
type Group struct {
	ID        int64
	Name      string
	DeviceIDs []string
	Active    bool
	Created   time.Time
}

// CreateGroup creates a named group over the given device ids. Every member
// must be a registered device.
func (r *Registry) CreateGroup(name string, deviceIDs []string) (Group, error) {
	if name == "" {
		return Group{}, fmt.Errorf("group name is required")
	}
	if len(deviceIDs) == 0 {
		return Group{}, fmt.Errorf("group needs at least one device")
	}
	for _, id := range deviceIDs {
		if _, err := r.Get(id); err != nil {
			return Group{}, fmt.Errorf("group member %s: %w", id, err)
		}
	}

	members, err := json.Marshal(deviceIDs)
	if err != nil {
		return Group{}, err
	}
	res, err := r.db.Exec(`INSERT INTO device_groups (name, device_ids) VALUES (?, ?)`, name, string(members))
	if err != nil {
		return Group{}, fmt.Errorf("failed to create group %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Group{}, err
	}

	r.logger.WithField("group", name).WithField("devices", len(deviceIDs)).Info("Created device group")
	return r.GetGroup(id)
}

// GetGroup returns a single group by id.
func (r *Registry) GetGroup(id int64) (Group, error) {
	row := r.db.QueryRow(`
		SELECT id, name, device_ids, is_active, created_at
		FROM device_groups WHERE id = ?`, id)
	return scanGroup(row)
}

// Groups returns device groups, active ones only unless all is set.
func (r *Registry) Groups(all bool) ([]Group, error) {
	query := `SELECT id, name, device_ids, is_active, created_at FROM device_groups`
	if !all {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// RenameGroup changes the group label.
func (r *Registry) RenameGroup(id int64, name string) error {
	return r.updateGroup(id, `UPDATE device_groups SET name = ? WHERE id = ?`, name, id)
}

// SetGroupDevices replaces the group's member list.
func (r *Registry) SetGroupDevices(id int64, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return fmt.Errorf("group needs at least one device")
	}
	for _, did := range deviceIDs {
		if _, err := r.Get(did); err != nil {
			return fmt.Errorf("group member %s: %w", did, err)
		}
	}
	members, err := json.Marshal(deviceIDs)
	if err != nil {
		return err
	}
	return r.updateGroup(id, `UPDATE device_groups SET device_ids = ? WHERE id = ?`, string(members), id)
}

// RemoveGroup marks a group inactive. The row stays for history.
func (r *Registry) RemoveGroup(id int64) error {
	return r.updateGroup(id, `UPDATE device_groups SET is_active = 0 WHERE id = ?`, id)
}

func (r *Registry) updateGroup(id int64, query string, args ...any) error {
	res, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update group %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", id, ErrGroupNotFound)
	}
	return nil
}

func scanGroup(row rowScanner) (Group, error) {
	var g Group
	var members string
	err := row.Scan(&g.ID, &g.Name, &members, &g.Active, &g.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	if err != nil {
		return Group{}, fmt.Errorf("failed to read group row: %w", err)
	}
	if err := json.Unmarshal([]byte(members), &g.DeviceIDs); err != nil {
		return Group{}, fmt.Errorf("group %d has a corrupt member list: %w", g.ID, err)
	}
	return g, nil
}
