// Package store provides the SQLite-backed persistence layer: active
// notification definitions survive restarts so lights can replay their
// display state after a daemon restart, and virtual light on/off state is
// kept for power-restore behavior.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Active notifications - one row per (light, key), replayed on startup
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			light TEXT NOT NULL,
			key TEXT NOT NULL,
			attributes TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (light, key)
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_light ON notifications(light);
	`)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	// Virtual light state - last on/off and color per light
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS light_state (
			light TEXT PRIMARY KEY,
			is_on INTEGER NOT NULL,
			params TEXT,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create light_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Notification is one persisted notification definition.
type Notification struct {
	Light      string
	Key        string
	Attributes map[string]any
}

// NotificationStore persists active notification definitions.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore creates a store on an open database.
func NewNotificationStore(db *DB) *NotificationStore {
	return &NotificationStore{db: db.DB}
}

// Save inserts or updates a notification definition.
func (s *NotificationStore) Save(light, key string, attributes map[string]any) error {
	data, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	now := time.Now().UTC().Unix()

	_, err = s.db.Exec(`
		INSERT INTO notifications (light, key, attributes, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(light, key) DO UPDATE SET
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`, light, key, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

// Delete removes a notification definition. Deleting a missing row is not
// an error.
func (s *NotificationStore) Delete(light, key string) error {
	_, err := s.db.Exec(`DELETE FROM notifications WHERE light = ? AND key = ?`, light, key)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// LoadForLight returns all persisted notifications for one light, oldest
// first so replay preserves the original arrival order.
func (s *NotificationStore) LoadForLight(light string) ([]Notification, error) {
	rows, err := s.db.Query(`
		SELECT key, attributes FROM notifications
		WHERE light = ?
		ORDER BY updated_at ASC
	`, light)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var attrsJSON string
		if err := rows.Scan(&n.Key, &attrsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Light = light
		if err := json.Unmarshal([]byte(attrsJSON), &n.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes for %q: %w", n.Key, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Clear removes all notifications, for all lights when light is empty.
func (s *NotificationStore) Clear(light string) error {
	var err error
	if light == "" {
		_, err = s.db.Exec(`DELETE FROM notifications`)
	} else {
		_, err = s.db.Exec(`DELETE FROM notifications WHERE light = ?`, light)
	}
	if err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	return nil
}

// LightState is the persisted virtual on/off state of one light.
type LightState struct {
	Light  string
	IsOn   bool
	Params map[string]any
}

// LightStateStore persists virtual light on/off state across restarts.
type LightStateStore struct {
	db *sql.DB
}

// NewLightStateStore creates a store on an open database.
func NewLightStateStore(db *DB) *LightStateStore {
	return &LightStateStore{db: db.DB}
}

// Save records the virtual state of a light.
func (s *LightStateStore) Save(light string, isOn bool, params map[string]any) error {
	var paramsJSON *string
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		str := string(data)
		paramsJSON = &str
	}
	now := time.Now().UTC().Unix()

	on := 0
	if isOn {
		on = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO light_state (light, is_on, params, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(light) DO UPDATE SET
			is_on = excluded.is_on,
			params = excluded.params,
			updated_at = excluded.updated_at
	`, light, on, paramsJSON, now)
	if err != nil {
		return fmt.Errorf("failed to save light state: %w", err)
	}
	return nil
}

// Load returns the persisted state of a light, or ok=false if none exists.
func (s *LightStateStore) Load(light string) (LightState, bool, error) {
	var st LightState
	var on int
	var paramsJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT is_on, params FROM light_state WHERE light = ?
	`, light).Scan(&on, &paramsJSON)
	if err == sql.ErrNoRows {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("failed to load light state: %w", err)
	}

	st.Light = light
	st.IsOn = on != 0
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &st.Params); err != nil {
			return st, false, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	return st, true, nil
}
