package directory

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens the directory database at path, creating the schema if needed.
func Open(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows readers to proceed while a session writes.
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait and retry instead of failing with SQLITE_BUSY under contention.
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		username      TEXT PRIMARY KEY,
		password_hash BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS online_peers (
		username TEXT PRIMARY KEY REFERENCES accounts(username),
		ip       TEXT NOT NULL,
		port     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS room_peers (
		room_id TEXT NOT NULL REFERENCES rooms(room_id) ON DELETE CASCADE,
		port    INTEGER NOT NULL,
		PRIMARY KEY (room_id, port)
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) AccountExists(username string) (bool, error) {
	var one int
	err := s.conn.QueryRow("SELECT 1 FROM accounts WHERE username = ?", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisterAccount creates an account with a bcrypt hash of the password.
func (s *SQLiteStore) RegisterAccount(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Rely on the primary key so concurrent JOINs for the same username
	// cannot both succeed.
	_, err = s.conn.Exec("INSERT INTO accounts (username, password_hash) VALUES (?, ?)", username, hash)
	if err != nil {
		exists, existsErr := s.AccountExists(username)
		if existsErr == nil && exists {
			return fmt.Errorf("%w: %s", ErrAccountExists, username)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) VerifyPassword(username, password string) (bool, error) {
	var hash []byte
	err := s.conn.QueryRow("SELECT password_hash FROM accounts WHERE username = ?", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	if err != nil {
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) IsOnline(username string) (bool, error) {
	var one int
	err := s.conn.QueryRow("SELECT 1 FROM online_peers WHERE username = ?", username).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetOnline(username, ip string, port int) error {
	_, err := s.conn.Exec(
		"INSERT OR REPLACE INTO online_peers (username, ip, port) VALUES (?, ?, ?)",
		username, ip, port)
	return err
}

func (s *SQLiteStore) SetOffline(username string) error {
	_, err := s.conn.Exec("DELETE FROM online_peers WHERE username = ?", username)
	return err
}

func (s *SQLiteStore) ClearOnline() error {
	_, err := s.conn.Exec("DELETE FROM online_peers")
	return err
}

func (s *SQLiteStore) PeerAddr(username string) (string, int, error) {
	var ip string
	var port int
	err := s.conn.QueryRow("SELECT ip, port FROM online_peers WHERE username = ?", username).Scan(&ip, &port)
	if err == sql.ErrNoRows {
		return "", 0, fmt.Errorf("%w: %s", ErrNotOnline, username)
	}
	if err != nil {
		return "", 0, err
	}
	return ip, port, nil
}

func (s *SQLiteStore) ListOnline() ([]OnlineEntry, error) {
	rows, err := s.conn.Query("SELECT username, ip, port FROM online_peers ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OnlineEntry
	for rows.Next() {
		var e OnlineEntry
		if err := rows.Scan(&e.Username, &e.IP, &e.Port); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) RoomExists(roomID string) (bool, error) {
	var one int
	err := s.conn.QueryRow("SELECT 1 FROM rooms WHERE room_id = ?", roomID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) CreateRoom(roomID string) error {
	_, err := s.conn.Exec("INSERT INTO rooms (room_id) VALUES (?)", roomID)
	if err != nil {
		exists, existsErr := s.RoomExists(roomID)
		if existsErr == nil && exists {
			return fmt.Errorf("%w: %s", ErrRoomExists, roomID)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) RoomPeers(roomID string) ([]int, error) {
	exists, err := s.RoomExists(roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	rows, err := s.conn.Query("SELECT port FROM room_peers WHERE room_id = ? ORDER BY port", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ports := make([]int, 0, 4)
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}
	return ports, rows.Err()
}

// SetRoomPeers replaces the room's peer set in one transaction. The primary
// key on (room_id, port) keeps the set free of duplicates.
func (s *SQLiteStore) SetRoomPeers(roomID string, ports []int) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM room_peers WHERE room_id = ?", roomID); err != nil {
		return err
	}
	for _, port := range ports {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO room_peers (room_id, port) VALUES (?, ?)",
			roomID, port); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) RemoveRoomPeer(roomID string, port int) error {
	_, err := s.conn.Exec("DELETE FROM room_peers WHERE room_id = ? AND port = ?", roomID, port)
	return err
}
