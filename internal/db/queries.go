package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/esnunes/tcgen/internal/models"
)

type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Local storage

// GetItem returns the value stored under key. ok is false when the key is absent.
func (q *Queries) GetItem(key string) (value string, ok bool, err error) {
	err = q.db.QueryRow(`SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting item %q: %w", key, err)
	}
	return value, true, nil
}

func (q *Queries) SetItem(key, value string) error {
	_, err := q.db.Exec(
		`INSERT INTO local_storage (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting item %q: %w", key, err)
	}
	return nil
}

func (q *Queries) RemoveItem(key string) error {
	if _, err := q.db.Exec(`DELETE FROM local_storage WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing item %q: %w", key, err)
	}
	return nil
}

func (q *Queries) ListKeys() ([]string, error) {
	rows, err := q.db.Query(`SELECT key FROM local_storage ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Notifications

func (q *Queries) CreateNotification(kind models.NotificationKind, message string) (*models.StoredNotification, error) {
	res, err := q.db.Exec(
		`INSERT INTO notifications (kind, message) VALUES (?, ?)`,
		string(kind), message,
	)
	if err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}
	id, _ := res.LastInsertId()

	n := &models.StoredNotification{}
	var createdAt, k string
	err = q.db.QueryRow(
		`SELECT id, kind, message, created_at FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &k, &n.Message, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	n.Kind = models.NotificationKind(k)
	n.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return n, nil
}

func (q *Queries) ListNotifications(limit int) ([]models.StoredNotification, error) {
	rows, err := q.db.Query(
		`SELECT id, kind, message, created_at
		 FROM notifications ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var results []models.StoredNotification
	for rows.Next() {
		var n models.StoredNotification
		var createdAt, k string
		if err := rows.Scan(&n.ID, &k, &n.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Kind = models.NotificationKind(k)
		n.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		results = append(results, n)
	}
	return results, rows.Err()
}
