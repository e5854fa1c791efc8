package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// Log limits for FetchLogs.
const (
	DefaultLogLimit = 20
	MaxLogLimit     = 200
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LogStore persists the append-only device action log.
type LogStore interface {
	// Append writes one entry. ID and Timestamp are filled when empty.
	Append(ctx context.Context, entry *LogEntry) error

	// ListForDevice returns an owner's entries for deviceRef, newest first.
	ListForDevice(ctx context.Context, deviceRef, ownerID string, limit int) ([]LogEntry, error)
}

// Store is the device store client used by the synchronization layer and
// the HTTP API. It wraps a Repository and a LogStore, enforces ownership,
// maps failures onto the error kinds, and publishes a change notification
// after every successful mutation.
//
// All public methods are safe for concurrent use.
type Store struct {
	repo       Repository
	logs       LogStore
	notifier   realtime.Notifier
	thresholds Thresholds
	logger     Logger
	now        func() time.Time
	mu         sync.RWMutex
}

// NewStore creates a device store over repo and logs.
func NewStore(repo Repository, logs LogStore) *Store {
	return &Store{
		repo:       repo,
		logs:       logs,
		thresholds: DefaultThresholds(),
		logger:     noopLogger{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetNotifier sets where change notifications are published.
// A nil notifier disables publishing.
func (s *Store) SetNotifier(n realtime.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetThresholds sets the liveness thresholds used by MarkOfflineDevices.
func (s *Store) SetThresholds(th Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = th
}

// Thresholds returns the liveness thresholds in use.
func (s *Store) Thresholds() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

func (s *Store) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// ListDevices returns every device owned by ownerID, newest created first.
func (s *Store) ListDevices(ctx context.Context, ownerID string) ([]Device, error) {
	devices, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.wrap("list devices", "", err)
	}
	return devices, nil
}

// GetDevice returns one device, enforcing ownership.
func (s *Store) GetDevice(ctx context.Context, id, ownerID string) (*Device, error) {
	return s.owned(ctx, "get device", id, ownerID)
}

// DevicesByLocation returns an owner's devices at location, ordered by name.
func (s *Store) DevicesByLocation(ctx context.Context, ownerID, location string) ([]Device, error) {
	devices, err := s.repo.ListByLocation(ctx, ownerID, location)
	if err != nil {
		return nil, s.wrap("list devices by location", "", err)
	}
	return devices, nil
}

// DevicesByType returns an owner's devices of type t, ordered by name.
func (s *Store) DevicesByType(ctx context.Context, ownerID string, t DeviceType) ([]Device, error) {
	devices, err := s.repo.ListByType(ctx, ownerID, t)
	if err != nil {
		return nil, s.wrap("list devices by type", "", err)
	}
	return devices, nil
}

// SearchDevices returns an owner's devices whose name, location or device_id
// contains query, ignoring case. An empty query returns every device by name.
func (s *Store) SearchDevices(ctx context.Context, ownerID, query string) ([]Device, error) {
	devices, err := s.repo.Search(ctx, ownerID, strings.TrimSpace(query))
	if err != nil {
		return nil, s.wrap("search devices", "", err)
	}
	return devices, nil
}

// CreateDevice registers a new device for ownerID.
//
// The new device starts off, online, with a heartbeat of now. A "created"
// log entry is appended; a failure to write it is logged and ignored.
//
// Parameters:
//   - ctx: Context for cancellation
//   - in: User-supplied fields
//   - ownerID: Authenticated owner
//
// Returns:
//   - *Device: The stored row
//   - error: *ValidationError, *DuplicateDeviceIDError or *NetworkError
func (s *Store) CreateDevice(ctx context.Context, in CreateInput, ownerID string) (*Device, error) {
	in = normalizeInput(in)
	if err := ValidateInput(in); err != nil {
		return nil, err
	}

	exists, err := s.repo.DeviceIDExists(ctx, ownerID, in.DeviceID)
	if err != nil {
		return nil, s.wrap("create device", "", err)
	}
	if exists {
		return nil, &DuplicateDeviceIDError{DeviceID: in.DeviceID}
	}

	now := s.now()
	d := &Device{
		ID:            NewStoreID(),
		OwnerID:       ownerID,
		DeviceID:      in.DeviceID,
		Name:          in.Name,
		Type:          in.Type,
		Location:      in.Location,
		Status:        StatusOff,
		IsOnline:      true,
		LastHeartbeat: now,
		QRCode:        in.QRCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The pre-check above races with concurrent creates; the UNIQUE
	// constraint is the final arbiter.
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			return nil, &DuplicateDeviceIDError{DeviceID: in.DeviceID}
		}
		return nil, s.wrap("create device", "", err)
	}

	s.appendLog(ctx, &LogEntry{
		DeviceRef:  d.ID,
		OwnerID:    ownerID,
		Action:     ActionCreated,
		NewStatus:  statusPtr(StatusOff),
		DeviceName: d.Name,
		Timestamp:  now,
	})
	s.notify(ctx, realtime.KindInsert, d)

	s.log().Info("device created", "id", d.ID, "device_id", d.DeviceID, "owner_id", ownerID)
	return d, nil
}

// ToggleStatus writes the opposite of current and returns the updated row.
// It does not append a log entry; callers record the transition through LogAction.
func (s *Store) ToggleStatus(ctx context.Context, id, ownerID string, current Status) (*Device, error) {
	if _, err := s.owned(ctx, "toggle status", id, ownerID); err != nil {
		return nil, err
	}

	d, err := s.repo.SetStatus(ctx, id, current.Flip(), s.now())
	if err != nil {
		return nil, s.wrap("toggle status", id, err)
	}
	s.notify(ctx, realtime.KindUpdate, d)
	return d, nil
}

// ToggleWithHeartbeat writes the opposite of current and refreshes the
// heartbeat in a single write, so a failure leaves both untouched. Like
// ToggleStatus it does not append a log entry.
func (s *Store) ToggleWithHeartbeat(ctx context.Context, id, ownerID string, current Status) (*Device, error) {
	if _, err := s.owned(ctx, "toggle status", id, ownerID); err != nil {
		return nil, err
	}

	d, err := s.repo.SetStatusAndHeartbeat(ctx, id, current.Flip(), s.now())
	if err != nil {
		return nil, s.wrap("toggle status", id, err)
	}
	s.notify(ctx, realtime.KindUpdate, d)
	return d, nil
}

// SetOnlineStatus writes the is_online flag of a device.
func (s *Store) SetOnlineStatus(ctx context.Context, id, ownerID string, online bool) error {
	d, err := s.owned(ctx, "set online status", id, ownerID)
	if err != nil {
		return err
	}

	if err := s.repo.SetOnline(ctx, id, online, s.now()); err != nil {
		return s.wrap("set online status", id, err)
	}
	s.notify(ctx, realtime.KindUpdate, d)
	return nil
}

// UpdateDevice applies patch to a device and appends an "updated" log entry.
func (s *Store) UpdateDevice(ctx context.Context, id, ownerID string, patch Patch) (*Device, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	d, err := s.owned(ctx, "update device", id, ownerID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return d, nil
	}

	if patch.Name != nil {
		d.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Type != nil {
		d.Type = *patch.Type
	}
	if patch.Location != nil {
		d.Location = strings.TrimSpace(*patch.Location)
	}
	if patch.QRCode != nil {
		qr := *patch.QRCode
		d.QRCode = &qr
	}
	d.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, s.wrap("update device", id, err)
	}

	s.appendLog(ctx, &LogEntry{
		DeviceRef:  d.ID,
		OwnerID:    ownerID,
		Action:     ActionUpdated,
		DeviceName: d.Name,
		Timestamp:  d.UpdatedAt,
	})
	s.notify(ctx, realtime.KindUpdate, d)
	return d, nil
}

// DeleteDevice removes a device. The "deleted" log entry is written first so
// it carries the device name; the log outlives the row.
func (s *Store) DeleteDevice(ctx context.Context, id, ownerID string) error {
	d, err := s.owned(ctx, "delete device", id, ownerID)
	if err != nil {
		return err
	}

	s.appendLog(ctx, &LogEntry{
		DeviceRef:  d.ID,
		OwnerID:    ownerID,
		Action:     ActionDeleted,
		OldStatus:  statusPtr(d.Status),
		DeviceName: d.Name,
		Timestamp:  s.now(),
	})

	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return s.wrap("delete device", id, err)
	}
	s.notify(ctx, realtime.KindDelete, d)

	s.log().Info("device deleted", "id", id, "device_id", d.DeviceID, "owner_id", ownerID)
	return nil
}

// FetchLogs returns up to limit log entries for a device, newest first.
// limit <= 0 means DefaultLogLimit; larger values are capped at MaxLogLimit.
// Logs of a deleted device remain readable by its former owner.
func (s *Store) FetchLogs(ctx context.Context, deviceRef, ownerID string, limit int) ([]LogEntry, error) {
	if _, err := s.owned(ctx, "fetch logs", deviceRef, ownerID); err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}

	entries, err := s.logs.ListForDevice(ctx, deviceRef, ownerID, limit)
	if err != nil {
		return nil, s.wrap("fetch logs", deviceRef, err)
	}
	return entries, nil
}

// LogAction appends an entry to the device log.
func (s *Store) LogAction(ctx context.Context, entry *LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		return s.wrap("log action", entry.DeviceRef, err)
	}
	return nil
}

// MarkOfflineDevices flips every online device whose heartbeat is older than
// the offline threshold to offline, across all owners, and returns the count.
func (s *Store) MarkOfflineDevices(ctx context.Context) (int, error) {
	now := s.now()
	changed, err := s.repo.MarkOffline(ctx, now.Add(-s.Thresholds().OfflineAfter), now)
	if err != nil {
		return 0, s.wrap("mark offline devices", "", err)
	}
	for i := range changed {
		s.notify(ctx, realtime.KindUpdate, &changed[i])
	}
	if len(changed) > 0 {
		s.log().Info("devices marked offline", "count", len(changed))
	}
	return len(changed), nil
}

// UpdateDeviceHeartbeat records a heartbeat for a device and returns its time.
func (s *Store) UpdateDeviceHeartbeat(ctx context.Context, deviceRef, ownerID string) (time.Time, error) {
	d, err := s.owned(ctx, "update heartbeat", deviceRef, ownerID)
	if err != nil {
		return time.Time{}, err
	}

	at := s.now()
	if err := s.repo.TouchHeartbeat(ctx, deviceRef, at); err != nil {
		return time.Time{}, s.wrap("update heartbeat", deviceRef, err)
	}
	s.notify(ctx, realtime.KindUpdate, d)
	return at, nil
}

// owned loads a device and checks it belongs to ownerID.
func (s *Store) owned(ctx context.Context, op, id, ownerID string) (*Device, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(op, id, err)
	}
	if d.OwnerID != ownerID {
		return nil, &PermissionError{DeviceRef: id, OwnerID: ownerID}
	}
	return d, nil
}

// wrap maps a repository failure onto the error kinds.
// Context cancellation passes through untouched.
func (s *Store) wrap(op, ref string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrDeviceNotFound):
		return &NotFoundError{DeviceRef: ref}
	case errors.Is(err, ErrDeviceExists):
		return &DuplicateDeviceIDError{}
	default:
		return &NetworkError{Op: op, Err: err}
	}
}

// appendLog writes a log entry, logging and swallowing failures.
func (s *Store) appendLog(ctx context.Context, entry *LogEntry) {
	if err := s.logs.Append(ctx, entry); err != nil {
		s.log().Warn("device log write failed",
			"device_ref", entry.DeviceRef,
			"action", entry.Action,
			"error", err,
		)
	}
}

// notify publishes a change, logging and swallowing failures.
func (s *Store) notify(ctx context.Context, kind realtime.ChangeKind, d *Device) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n == nil {
		return
	}

	change := realtime.Change{
		OwnerID:   d.OwnerID,
		Kind:      kind,
		DeviceRef: d.ID,
		At:        s.now(),
	}
	if err := n.Notify(ctx, change); err != nil {
		s.log().Warn("change notification failed",
			"owner_id", d.OwnerID,
			"device_ref", d.ID,
			"kind", kind,
			"error", err,
		)
	}
}
