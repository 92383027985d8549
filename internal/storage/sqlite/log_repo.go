package sqlite

import (
	"context"
	"time"

	"github.com/open-apime/relay/internal/storage/model"
)

type logRepo struct {
	db *DB
}

func NewLogRepository(db *DB) *logRepo {
	return &logRepo{db: db}
}

func (r *logRepo) Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	result, err := r.db.Conn.ExecContext(ctx, `
		INSERT INTO log_entries (timestamp, category, instance_id, level, message)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Category, entry.InstanceID, entry.Level, entry.Message)
	if err != nil {
		return model.LogEntry{}, err
	}

	entry.ID, _ = result.LastInsertId()
	return entry, nil
}

// Recent devolve as entradas mais novas primeiro.
func (r *logRepo) Recent(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT id, timestamp, category, instance_id, level, message
		FROM log_entries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		var ts string
		if err := rows.Scan(&entry.ID, &ts, &entry.Category, &entry.InstanceID, &entry.Level, &entry.Message); err != nil {
			return nil, err
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *logRepo) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM log_entries WHERE instance_id = ?`, instanceID)
	return err
}
