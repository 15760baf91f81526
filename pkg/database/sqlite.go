package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens the SQLite database at path and initializes the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; WAL lets readers proceed alongside it.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		safe_name TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT 'XX',
		privileges INTEGER NOT NULL DEFAULT 1,
		silence_end INTEGER NOT NULL DEFAULT 0,
		silence_reason TEXT NOT NULL DEFAULT '',
		restricted INTEGER NOT NULL DEFAULT 0,
		restrict_reason TEXT NOT NULL DEFAULT '',
		banned INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS stats (
		user_id INTEGER NOT NULL,
		mode INTEGER NOT NULL,
		ranked_score INTEGER NOT NULL DEFAULT 0,
		total_score INTEGER NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		playcount INTEGER NOT NULL DEFAULT 0,
		rank INTEGER NOT NULL DEFAULT 0,
		performance INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, mode),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		user_id INTEGER NOT NULL,
		friend_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, friend_id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS channels (
		name TEXT PRIMARY KEY,
		topic TEXT NOT NULL DEFAULT '',
		read_priv INTEGER NOT NULL DEFAULT 1,
		write_priv INTEGER NOT NULL DEFAULT 1,
		auto_join INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		target TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		finalized_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS match_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		logged_at INTEGER NOT NULL,
		FOREIGN KEY (match_id) REFERENCES matches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_log_target ON chat_log(target);
	CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SeedDefaultChannels inserts the given channels if the channel table is
// empty (first startup).
func (db *DB) SeedDefaultChannels(rows []ChannelRow) error {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, row := range rows {
		_, err := db.conn.Exec(
			"INSERT INTO channels (name, topic, read_priv, write_priv, auto_join) VALUES (?, ?, ?, ?, ?)",
			row.Name, row.Topic, row.ReadPriv, row.WritePriv, boolToInt(row.AutoJoin))
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateUser inserts an account. Used by provisioning and tests; the realtime
// core itself never registers users.
func (db *DB) CreateUser(name, passwordHash, country string, privileges int32) (int32, error) {
	res, err := db.conn.Exec(
		"INSERT INTO users (name, safe_name, password_hash, country, privileges) VALUES (?, ?, ?, ?, ?)",
		name, SafeName(name), passwordHash, country, privileges)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := db.conn.Exec("INSERT INTO stats (user_id, mode) VALUES (?, 0), (?, 1), (?, 2), (?, 3)", id, id, id, id); err != nil {
		return 0, err
	}
	return int32(id), nil
}

// SafeName folds a display name into the canonical lookup key: lowercase,
// spaces as underscores.
func SafeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

const userColumns = `id, name, safe_name, password_hash, country, privileges,
	silence_end, restricted, banned, active, last_seen`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var silenceEnd, lastSeen int64
	var restricted, banned, active int
	err := row.Scan(&u.ID, &u.Name, &u.SafeName, &u.PasswordHash, &u.Country,
		&u.Privileges, &silenceEnd, &restricted, &banned, &active, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.SilenceEnd = time.Unix(silenceEnd, 0)
	u.LastSeen = time.Unix(lastSeen, 0)
	u.Restricted = restricted != 0
	u.Banned = banned != 0
	u.Active = active != 0
	return &u, nil
}

func (db *DB) FetchUserByName(safeName string) (*User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE safe_name = ?", safeName)
	return scanUser(row)
}

func (db *DB) FetchUserByID(id int32) (*User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (db *DB) UpdateLastSeen(id int32, at time.Time) error {
	_, err := db.conn.Exec("UPDATE users SET last_seen = ? WHERE id = ?", at.Unix(), id)
	return err
}

func (db *DB) UpdateSilence(id int32, until time.Time, reason string) error {
	_, err := db.conn.Exec(
		"UPDATE users SET silence_end = ?, silence_reason = ? WHERE id = ?",
		until.Unix(), reason, id)
	return err
}

func (db *DB) UpdateRestriction(id int32, restricted bool, reason string) error {
	_, err := db.conn.Exec(
		"UPDATE users SET restricted = ?, restrict_reason = ? WHERE id = ?",
		boolToInt(restricted), reason, id)
	return err
}

func (db *DB) FetchStats(id int32, mode uint8) (*StatsRow, error) {
	var s StatsRow
	err := db.conn.QueryRow(
		"SELECT user_id, mode, ranked_score, total_score, accuracy, playcount, rank, performance FROM stats WHERE user_id = ? AND mode = ?",
		id, mode).Scan(&s.UserID, &s.Mode, &s.RankedScore, &s.TotalScore,
		&s.Accuracy, &s.Playcount, &s.Rank, &s.Performance)
	if err == sql.ErrNoRows {
		return &StatsRow{UserID: id, Mode: mode}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) FetchFriends(id int32) ([]int32, error) {
	rows, err := db.conn.Query("SELECT friend_id FROM relationships WHERE user_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []int32
	for rows.Next() {
		var friend int32
		if err := rows.Scan(&friend); err != nil {
			return nil, err
		}
		friends = append(friends, friend)
	}
	return friends, rows.Err()
}

func (db *DB) AddFriend(id, friend int32) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO relationships (user_id, friend_id) VALUES (?, ?)", id, friend)
	return err
}

func (db *DB) RemoveFriend(id, friend int32) error {
	_, err := db.conn.Exec(
		"DELETE FROM relationships WHERE user_id = ? AND friend_id = ?", id, friend)
	return err
}

func (db *DB) FetchChannels() ([]ChannelRow, error) {
	rows, err := db.conn.Query("SELECT name, topic, read_priv, write_priv, auto_join FROM channels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []ChannelRow
	for rows.Next() {
		var row ChannelRow
		var autoJoin int
		if err := rows.Scan(&row.Name, &row.Topic, &row.ReadPriv, &row.WritePriv, &autoJoin); err != nil {
			return nil, err
		}
		row.AutoJoin = autoJoin != 0
		channels = append(channels, row)
	}
	return channels, rows.Err()
}

func (db *DB) LogMessage(senderID int32, sender, target, content string, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_log (sender_id, sender, target, content, sent_at) VALUES (?, ?, ?, ?, ?)",
		senderID, sender, target, content, at.Unix())
	return err
}

func (db *DB) CreateMatchRecord(name string, at time.Time) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO matches (name, created_at) VALUES (?, ?)", name, at.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) FinalizeMatchRecord(id int64, at time.Time) error {
	res, err := db.conn.Exec(
		"UPDATE matches SET finalized_at = ? WHERE id = ?", at.Unix(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMatchNotFound
	}
	return nil
}

func (db *DB) DeleteMatchRecord(id int64) error {
	_, err := db.conn.Exec("DELETE FROM matches WHERE id = ?", id)
	return err
}

func (db *DB) LogMatchEvent(matchID int64, userID int32, event string, at time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO match_events (match_id, user_id, event, logged_at) VALUES (?, ?, ?, ?)",
		matchID, userID, event, at.Unix())
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
