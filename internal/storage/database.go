package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/user/gitlabbot/internal/render"
)

// Database wraps the sqlx.DB connection and persists the subscription store.
type Database struct {
	*sqlx.DB
}

// schema defines the database tables. Subscribers and tracked events live in
// separate tables so chat ids and event kinds never share a key space.
const schema = `
CREATE TABLE IF NOT EXISTS verified_chats (
    chat_id INTEGER PRIMARY KEY,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
    token TEXT NOT NULL,
    chat_id INTEGER NOT NULL,
    verbosity INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (token, chat_id)
);

CREATE TABLE IF NOT EXISTS tracked_events (
    token TEXT NOT NULL,
    kind TEXT NOT NULL,
    external_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (token, kind, external_id)
);

CREATE TABLE IF NOT EXISTS tracked_handles (
    token TEXT NOT NULL,
    kind TEXT NOT NULL,
    external_id INTEGER NOT NULL,
    chat_id INTEGER NOT NULL,
    message_id INTEGER NOT NULL,
    PRIMARY KEY (token, kind, external_id, chat_id)
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_chat_id ON subscriptions(chat_id);
`

// NewDatabase creates a new database connection and initializes the schema.
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases
	// shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}

// Load reads the whole persisted state.
func (d *Database) Load() (*Snapshot, error) {
	snap := &Snapshot{Sources: make(map[string]*SourceSnapshot)}

	var verified []verifiedRow
	if err := d.Select(&verified, `SELECT chat_id FROM verified_chats ORDER BY created_at, chat_id`); err != nil {
		return nil, fmt.Errorf("failed to load verified chats: %w", err)
	}
	for _, row := range verified {
		snap.Verified = append(snap.Verified, row.ChatID)
	}

	var subs []subscriptionRow
	if err := d.Select(&subs, `SELECT token, chat_id, verbosity FROM subscriptions`); err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	for _, row := range subs {
		snap.source(row.Token).Subscribers[row.ChatID] = render.Verbosity(row.Verbosity)
	}

	var tracked []trackedRow
	if err := d.Select(&tracked, `SELECT token, kind, external_id, status FROM tracked_events`); err != nil {
		return nil, fmt.Errorf("failed to load tracked events: %w", err)
	}
	for _, row := range tracked {
		snap.source(row.Token).tracked(TrackKind(row.Kind), row.ExternalID).Status = row.Status
	}

	var handles []handleRow
	if err := d.Select(&handles, `SELECT token, kind, external_id, chat_id, message_id FROM tracked_handles`); err != nil {
		return nil, fmt.Errorf("failed to load tracked handles: %w", err)
	}
	for _, row := range handles {
		ev := snap.source(row.Token).tracked(TrackKind(row.Kind), row.ExternalID)
		ev.Handles[row.ChatID] = row.MessageID
	}

	return snap, nil
}

// AddVerifiedChat records a verified chat.
func (d *Database) AddVerifiedChat(chatID int64) error {
	_, err := d.Exec(`INSERT OR IGNORE INTO verified_chats (chat_id) VALUES (?)`, chatID)
	return err
}

// SaveSubscription creates or updates a subscription.
func (d *Database) SaveSubscription(token string, chatID int64, v render.Verbosity) error {
	query := `
		INSERT INTO subscriptions (token, chat_id, verbosity)
		VALUES (?, ?, ?)
		ON CONFLICT(token, chat_id) DO UPDATE SET
			verbosity = excluded.verbosity
	`
	_, err := d.Exec(query, token, chatID, int(v))
	return err
}

// DeleteSubscription removes a subscription.
func (d *Database) DeleteSubscription(token string, chatID int64) error {
	_, err := d.Exec(`DELETE FROM subscriptions WHERE token = ? AND chat_id = ?`, token, chatID)
	return err
}

// SaveTracked creates or updates the status of a tracked event.
func (d *Database) SaveTracked(token string, kind TrackKind, id int64, status string) error {
	query := `
		INSERT INTO tracked_events (token, kind, external_id, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token, kind, external_id) DO UPDATE SET
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := d.Exec(query, token, string(kind), id, status)
	return err
}

// SaveHandle records the message sent to chatID for a tracked event.
func (d *Database) SaveHandle(token string, kind TrackKind, id int64, chatID int64, messageID int) error {
	query := `
		INSERT INTO tracked_handles (token, kind, external_id, chat_id, message_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token, kind, external_id, chat_id) DO UPDATE SET
			message_id = excluded.message_id
	`
	_, err := d.Exec(query, token, string(kind), id, chatID, messageID)
	return err
}

// Import writes a snapshot in a single transaction.
func (d *Database) Import(snap *Snapshot) (err error) {
	tx, err := d.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, chatID := range snap.Verified {
		if _, err = tx.Exec(`INSERT OR IGNORE INTO verified_chats (chat_id) VALUES (?)`, chatID); err != nil {
			return fmt.Errorf("failed to import verified chat %d: %w", chatID, err)
		}
	}

	for token, src := range snap.Sources {
		for chatID, v := range src.Subscribers {
			if _, err = tx.Exec(`INSERT OR REPLACE INTO subscriptions (token, chat_id, verbosity) VALUES (?, ?, ?)`,
				token, chatID, int(v)); err != nil {
				return fmt.Errorf("failed to import subscription: %w", err)
			}
		}
		for kind, events := range src.Tracked {
			for id, ev := range events {
				if _, err = tx.Exec(`INSERT OR REPLACE INTO tracked_events (token, kind, external_id, status) VALUES (?, ?, ?, ?)`,
					token, string(kind), id, ev.Status); err != nil {
					return fmt.Errorf("failed to import tracked event: %w", err)
				}
				for chatID, msgID := range ev.Handles {
					if _, err = tx.Exec(`INSERT OR REPLACE INTO tracked_handles (token, kind, external_id, chat_id, message_id) VALUES (?, ?, ?, ?, ?)`,
						token, string(kind), id, chatID, msgID); err != nil {
						return fmt.Errorf("failed to import tracked handle: %w", err)
					}
				}
			}
		}
	}

	return tx.Commit()
}
