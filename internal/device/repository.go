package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/iot-console-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Repository methods are not owner-aware beyond the queries that take an
// owner id; ownership checks belong to Store.
type Repository interface {
	// GetByID retrieves a device by its store id.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByOwner retrieves an owner's devices, newest created first.
	ListByOwner(ctx context.Context, ownerID string) ([]Device, error)

	// ListByLocation retrieves an owner's devices at a location, ordered by name.
	ListByLocation(ctx context.Context, ownerID, location string) ([]Device, error)

	// ListByType retrieves an owner's devices of one type, ordered by name.
	ListByType(ctx context.Context, ownerID string, t DeviceType) ([]Device, error)

	// Search matches name, location or device_id case-insensitively, ordered by name.
	Search(ctx context.Context, ownerID, query string) ([]Device, error)

	// DeviceIDExists reports whether the owner already uses deviceID.
	DeviceIDExists(ctx context.Context, ownerID, deviceID string) (bool, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the owner already has the same device_id.
	Create(ctx context.Context, device *Device) error

	// Update writes name, type, location and qr_code.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// SetStatus writes the power state and returns the updated row.
	SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Device, error)

	// SetStatusAndHeartbeat writes the power state and refreshes the
	// heartbeat in one statement, then returns the updated row.
	SetStatusAndHeartbeat(ctx context.Context, id string, status Status, at time.Time) (*Device, error)

	// SetOnline writes the is_online flag.
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error

	// TouchHeartbeat sets is_online=true and moves last_heartbeat forward
	// to at. An older at leaves the stored heartbeat alone.
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error

	// Delete removes a device row owned by ownerID.
	// Returns ErrDeviceNotFound if no such row exists.
	Delete(ctx context.Context, id, ownerID string) error

	// MarkOffline flips is_online=false on online devices whose heartbeat is
	// older than cutoff and returns the rows it changed.
	MarkOffline(ctx context.Context, cutoff, at time.Time) ([]Device, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
		SELECT id, owner_id, device_id, name, type, location, status, is_online,
			last_heartbeat, qr_code, created_at, updated_at
		FROM devices`

// GetByID retrieves a device by its store id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceColumns+` WHERE id = ?`, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// ListByOwner retrieves an owner's devices, newest created first.
// rowid breaks ties between rows created in the same instant.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]Device, error) {
	return r.queryDevices(ctx,
		selectDeviceColumns+` WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`,
		ownerID)
}

// ListByLocation retrieves an owner's devices at a location.
func (r *SQLiteRepository) ListByLocation(ctx context.Context, ownerID, location string) ([]Device, error) {
	return r.queryDevices(ctx,
		selectDeviceColumns+` WHERE owner_id = ? AND location = ? ORDER BY name`,
		ownerID, location)
}

// ListByType retrieves an owner's devices of one type.
func (r *SQLiteRepository) ListByType(ctx context.Context, ownerID string, t DeviceType) ([]Device, error) {
	return r.queryDevices(ctx,
		selectDeviceColumns+` WHERE owner_id = ? AND type = ? ORDER BY name`,
		ownerID, string(t))
}

// Search matches query as a substring of name, location or device_id.
// SQLite LIKE is case-insensitive for ASCII.
func (r *SQLiteRepository) Search(ctx context.Context, ownerID, query string) ([]Device, error) {
	pattern := "%" + escapeLike(query) + "%"
	return r.queryDevices(ctx,
		selectDeviceColumns+` WHERE owner_id = ?
			AND (name LIKE ? ESCAPE '\' OR location LIKE ? ESCAPE '\' OR device_id LIKE ? ESCAPE '\')
		ORDER BY name`,
		ownerID, pattern, pattern, pattern)
}

// DeviceIDExists reports whether the owner already uses deviceID.
func (r *SQLiteRepository) DeviceIDExists(ctx context.Context, ownerID, deviceID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE owner_id = ? AND device_id = ?",
		ownerID, deviceID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking device_id exists: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = device.CreatedAt
	}
	if device.LastHeartbeat.IsZero() {
		device.LastHeartbeat = device.CreatedAt
	}

	query := `
		INSERT INTO devices (
			id, owner_id, device_id, name, type, location, status, is_online,
			last_heartbeat, qr_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.OwnerID,
		device.DeviceID,
		device.Name,
		string(device.Type),
		device.Location,
		int(device.Status),
		boolToInt(device.IsOnline),
		database.FormatTime(device.LastHeartbeat),
		nullableString(device.QRCode),
		database.FormatTime(device.CreatedAt),
		database.FormatTime(device.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update writes the editable fields of a device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, type = ?, location = ?, qr_code = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		string(device.Type),
		device.Location,
		nullableString(device.QRCode),
		database.FormatTime(device.UpdatedAt),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(result)
}

// SetStatus writes the power state and returns the updated row.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Device, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, updated_at = ? WHERE id = ?",
		int(status), database.FormatTime(at), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device status: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetStatusAndHeartbeat writes status, marks the device online and
// refreshes its heartbeat. Either every column changes or none does.
func (r *SQLiteRepository) SetStatusAndHeartbeat(ctx context.Context, id string, status Status, at time.Time) (*Device, error) {
	ts := database.FormatTime(at)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET status = ?, is_online = 1, last_heartbeat = MAX(last_heartbeat, ?), updated_at = ?
		 WHERE id = ?`,
		int(status), ts, ts, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device status and heartbeat: %w", err)
	}
	if err := requireOneRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetOnline writes the is_online flag.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET is_online = ?, updated_at = ? WHERE id = ?",
		boolToInt(online), database.FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating device online flag: %w", err)
	}
	return requireOneRow(result)
}

// TouchHeartbeat records a heartbeat at the given instant. The stored
// heartbeat never moves backwards; a late or skewed at still marks the
// device online.
func (r *SQLiteRepository) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_heartbeat = MAX(last_heartbeat, ?), is_online = 1 WHERE id = ?",
		database.FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating device heartbeat: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a device row owned by ownerID.
func (r *SQLiteRepository) Delete(ctx context.Context, id, ownerID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM devices WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// MarkOffline flips is_online=false for online devices with stale heartbeats.
func (r *SQLiteRepository) MarkOffline(ctx context.Context, cutoff, at time.Time) ([]Device, error) {
	return r.queryDevices(ctx, `
		UPDATE devices SET is_online = 0, updated_at = ?
		WHERE is_online = 1 AND last_heartbeat < ?
		RETURNING id, owner_id, device_id, name, type, location, status, is_online,
			last_heartbeat, qr_code, created_at, updated_at`,
		database.FormatTime(at), database.FormatTime(cutoff),
	)
}

// queryDevices executes a query and returns a slice of devices.
// An empty result is a non-nil empty slice.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType string
	var status, isOnline int
	var lastHeartbeat, createdAt, updatedAt string
	var qrCode sql.NullString

	err := scanner.Scan(
		&d.ID, &d.OwnerID, &d.DeviceID, &d.Name, &deviceType, &d.Location,
		&status, &isOnline, &lastHeartbeat, &qrCode, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Status = Status(status)
	d.IsOnline = isOnline != 0
	if qrCode.Valid {
		d.QRCode = &qrCode.String
	}

	if d.LastHeartbeat, err = database.ParseTime(lastHeartbeat); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &d, nil
}

// requireOneRow maps a zero-row write to ErrDeviceNotFound.
func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
