package postgres

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

	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO log_entries (timestamp, category, instance_id, level, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, entry.Timestamp, entry.Category, entry.InstanceID, entry.Level, entry.Message).Scan(&entry.ID)
	if err != nil {
		return model.LogEntry{}, err
	}
	return entry, nil
}

func (r *logRepo) Recent(ctx context.Context, limit int) ([]model.LogEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, timestamp, category, instance_id, level, message
		FROM log_entries
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Category, &entry.InstanceID, &entry.Level, &entry.Message); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *logRepo) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM log_entries WHERE instance_id = $1`, instanceID)
	return err
}
