// Package audit provides access to the device_logs table: the append-only
// history of actions taken on each owner's devices.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
)

// Page size limits for owner-wide listings.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Filter controls which log entries List returns.
type Filter struct {
	OwnerID   string        // required
	Action    device.Action // optional: created, turn_on, turn_off, updated, deleted
	DeviceRef string        // optional: one device's history
	Limit     int           // default 50, max 200
	Offset    int           // pagination offset
}

// ListResult contains the paginated log entries.
type ListResult struct {
	Logs   []device.LogEntry `json:"logs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Repository defines the interface for device log operations.
// It satisfies device.LogStore.
type Repository interface {
	Append(ctx context.Context, entry *device.LogEntry) error
	ListForDevice(ctx context.Context, deviceRef, ownerID string, limit int) ([]device.LogEntry, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository reads and writes device logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new device log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a new log entry. The ID and Timestamp are generated if empty.
// Rows are never updated afterwards.
func (r *SQLiteRepository) Append(ctx context.Context, entry *device.LogEntry) error {
	if entry.ID == "" {
		entry.ID = "log-" + uuid.NewString()[:12]
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_logs (id, device_ref, owner_id, action, old_status, new_status, device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceRef, entry.OwnerID, string(entry.Action),
		nullableStatus(entry.OldStatus), nullableStatus(entry.NewStatus),
		nullableString(entry.DeviceName),
		database.FormatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting device log: %w", err)
	}

	return nil
}

// ListForDevice returns up to limit entries for one device, newest first.
func (r *SQLiteRepository) ListForDevice(ctx context.Context, deviceRef, ownerID string, limit int) ([]device.LogEntry, error) {
	result, err := r.List(ctx, Filter{OwnerID: ownerID, DeviceRef: deviceRef, Limit: limit})
	if err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// List returns log entries matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	conditions := []string{"owner_id = ?"}
	args := []any{filter.OwnerID}

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.DeviceRef != "" {
		conditions = append(conditions, "device_ref = ?")
		args = append(args, filter.DeviceRef)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := "SELECT COUNT(*) FROM device_logs " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting device logs: %w", err)
	}

	// rowid breaks ties between entries written in the same instant.
	query := "SELECT id, device_ref, owner_id, action, old_status, new_status, device_name, created_at FROM device_logs " +
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device logs: %w", err)
	}
	defer rows.Close()

	logs := []device.LogEntry{}
	for rows.Next() {
		var entry device.LogEntry
		var action, createdAt string
		var oldStatus, newStatus sql.NullInt64
		var deviceName sql.NullString

		if err := rows.Scan(&entry.ID, &entry.DeviceRef, &entry.OwnerID, &action,
			&oldStatus, &newStatus, &deviceName, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device log: %w", err)
		}

		entry.Action = device.Action(action)
		entry.OldStatus = statusFromNull(oldStatus)
		entry.NewStatus = statusFromNull(newStatus)
		if deviceName.Valid {
			entry.DeviceName = deviceName.String
		}
		if entry.Timestamp, err = database.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing device log timestamp: %w", err)
		}

		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableStatus(s *device.Status) any {
	if s == nil {
		return nil
	}
	return int(*s)
}

func statusFromNull(n sql.NullInt64) *device.Status {
	if !n.Valid {
		return nil
	}
	s := device.Status(n.Int64)
	return &s
}
