package backend

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/xplor-dev/xplor/internal/protocol"
)

// ErrThemeNotFound reports a lookup of an unknown theme id.
var ErrThemeNotFound = errors.New("theme not found")

// ThemeStore persists named color schemes in SQLite.
type ThemeStore struct {
	conn *sql.DB
}

// OpenThemeStore opens or creates the theme database.
func OpenThemeStore(dbPath string) (*ThemeStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode allows simultaneous readers and writers; synchronous NORMAL
	// is safe against app crashes and faster than FULL.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, err
	}

	query := `
	CREATE TABLE IF NOT EXISTS themes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		colors TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, err
	}

	return &ThemeStore{conn: db}, nil
}

// List returns every stored theme in creation order.
func (s *ThemeStore) List() ([]protocol.Theme, error) {
	rows, err := s.conn.Query("SELECT id, name, colors FROM themes ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var themes []protocol.Theme
	for rows.Next() {
		var t protocol.Theme
		var colors string
		if err := rows.Scan(&t.ID, &t.Name, &colors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(colors), &t.Colors); err != nil {
			return nil, err
		}
		themes = append(themes, t)
	}
	return themes, rows.Err()
}

// Get returns one theme by id.
func (s *ThemeStore) Get(id string) (protocol.Theme, error) {
	var t protocol.Theme
	var colors string
	err := s.conn.QueryRow("SELECT id, name, colors FROM themes WHERE id = ?", id).Scan(&t.ID, &t.Name, &colors)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Theme{}, ErrThemeNotFound
	}
	if err != nil {
		return protocol.Theme{}, err
	}
	if err := json.Unmarshal([]byte(colors), &t.Colors); err != nil {
		return protocol.Theme{}, err
	}
	return t, nil
}

// Save upserts a theme.
func (s *ThemeStore) Save(t protocol.Theme) error {
	colors, err := json.Marshal(t.Colors)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec("INSERT OR REPLACE INTO themes (id, name, colors) VALUES (?, ?, ?)",
		t.ID, t.Name, string(colors))
	return err
}

// Delete removes a theme. Deleting an unknown id is not an error.
func (s *ThemeStore) Delete(id string) error {
	_, err := s.conn.Exec("DELETE FROM themes WHERE id = ?", id)
	return err
}

// Close closes the database.
func (s *ThemeStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
