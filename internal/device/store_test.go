package device

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/iot-console-core/internal/realtime"
)

// memoryLogStore is an in-memory LogStore with error injection.
type memoryLogStore struct {
	mu        sync.Mutex
	entries   []LogEntry
	appendErr error
	listErr   error
}

func (m *memoryLogStore) Append(_ context.Context, e *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	if e.ID == "" {
		e.ID = NewStoreID()
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memoryLogStore) ListForDevice(_ context.Context, ref, owner string, limit int) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []LogEntry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].DeviceRef == ref && m.entries[i].OwnerID == owner {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memoryLogStore) actions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Action, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// recordingNotifier captures every change it is asked to publish.
type recordingNotifier struct {
	mu      sync.Mutex
	changes []realtime.Change
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, c realtime.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return r.err
}

func (r *recordingNotifier) kinds() []realtime.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.ChangeKind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

type storeFixture struct {
	store    *Store
	repo     *SQLiteRepository
	logs     *memoryLogStore
	notifier *recordingNotifier
	now      time.Time
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	f := &storeFixture{
		repo:     NewSQLiteRepository(setupTestDB(t)),
		logs:     &memoryLogStore{},
		notifier: &recordingNotifier{},
		now:      testEpoch,
	}
	f.store = NewStore(f.repo, f.logs)
	f.store.SetNotifier(f.notifier)
	f.store.now = func() time.Time { return f.now }
	return f
}

func (f *storeFixture) create(t *testing.T, owner, deviceID string) *Device {
	t.Helper()
	in := validInput()
	in.DeviceID = deviceID
	d, err := f.store.CreateDevice(t.Context(), in, owner)
	if err != nil {
		t.Fatalf("CreateDevice(%s) error = %v", deviceID, err)
	}
	return d
}

func TestStore_CreateDevice(t *testing.T) {
	f := newStoreFixture(t)

	d := f.create(t, "user-a", "LIGHT_001")

	if d.Status != StatusOff || !d.IsOnline || !d.LastHeartbeat.Equal(testEpoch) {
		t.Errorf("new device state = %+v", d)
	}
	if d.OwnerID != "user-a" {
		t.Errorf("OwnerID = %q, want user-a", d.OwnerID)
	}

	got := f.logs.actions()
	if len(got) != 1 || got[0] != ActionCreated {
		t.Fatalf("log actions = %v, want [created]", got)
	}
	entry := f.logs.entries[0]
	if entry.OldStatus != nil || entry.NewStatus == nil || *entry.NewStatus != StatusOff {
		t.Errorf("created log statuses = %v -> %v, want nil -> 0", entry.OldStatus, entry.NewStatus)
	}
	if entry.DeviceName != d.Name {
		t.Errorf("DeviceName = %q, want %q", entry.DeviceName, d.Name)
	}

	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != realtime.KindInsert {
		t.Errorf("notifications = %v, want [insert]", kinds)
	}
}

func TestStore_CreateDevice_Duplicate(t *testing.T) {
	f := newStoreFixture(t)
	f.create(t, "user-a", "LIGHT_001")

	_, err := f.store.CreateDevice(t.Context(), validInput(), "user-a")

	var dup *DuplicateDeviceIDError
	if !errors.As(err, &dup) || dup.DeviceID != "LIGHT_001" {
		t.Fatalf("CreateDevice() error = %v, want DuplicateDeviceIDError", err)
	}
	if Kind(err) != KindDuplicate {
		t.Errorf("Kind() = %s, want duplicate", Kind(err))
	}
	if n := len(f.logs.actions()); n != 1 {
		t.Errorf("log entries = %d, want 1", n)
	}
}

// racyRepository hides existing rows from the duplicate pre-check so the
// UNIQUE constraint has to catch the collision.
type racyRepository struct {
	*SQLiteRepository
}

func (racyRepository) DeviceIDExists(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestStore_CreateDevice_ConstraintClosesRace(t *testing.T) {
	f := newStoreFixture(t)
	f.create(t, "user-a", "LIGHT_001")

	racy := NewStore(racyRepository{f.repo}, f.logs)
	_, err := racy.CreateDevice(t.Context(), validInput(), "user-a")

	var dup *DuplicateDeviceIDError
	if !errors.As(err, &dup) {
		t.Fatalf("CreateDevice() error = %v, want DuplicateDeviceIDError", err)
	}
}

func TestStore_CreateDevice_Invalid(t *testing.T) {
	f := newStoreFixture(t)

	_, err := f.store.CreateDevice(t.Context(), CreateInput{DeviceID: "x"}, "user-a")

	if Kind(err) != KindValidation {
		t.Fatalf("Kind() = %s, want validation (err=%v)", Kind(err), err)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Error("invalid create should not notify")
	}
}

func TestStore_CreateDevice_LogFailureSwallowed(t *testing.T) {
	f := newStoreFixture(t)
	f.logs.appendErr = errors.New("disk full")

	if _, err := f.store.CreateDevice(t.Context(), validInput(), "user-a"); err != nil {
		t.Fatalf("CreateDevice() error = %v, want nil despite log failure", err)
	}
}

func TestStore_CreateDevice_NotifierFailureSwallowed(t *testing.T) {
	f := newStoreFixture(t)
	f.notifier.err = errors.New("broker down")

	if _, err := f.store.CreateDevice(t.Context(), validInput(), "user-a"); err != nil {
		t.Fatalf("CreateDevice() error = %v, want nil despite notifier failure", err)
	}
}

func TestStore_ListDevices_OwnerScoped(t *testing.T) {
	f := newStoreFixture(t)
	f.create(t, "user-a", "A_001")
	f.now = f.now.Add(time.Second)
	f.create(t, "user-a", "A_002")
	f.create(t, "user-b", "B_001")

	got, err := f.store.ListDevices(t.Context(), "user-a")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(got) != 2 || got[0].DeviceID != "A_002" || got[1].DeviceID != "A_001" {
		t.Errorf("ListDevices() = %v, want A_002, A_001", got)
	}
}

func TestStore_ToggleStatus(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	f.now = f.now.Add(time.Minute)

	got, err := f.store.ToggleStatus(t.Context(), d.ID, "user-a", StatusOff)
	if err != nil {
		t.Fatalf("ToggleStatus() error = %v", err)
	}
	if got.Status != StatusOn || !got.UpdatedAt.Equal(f.now) {
		t.Errorf("ToggleStatus() = status %d updated %v", got.Status, got.UpdatedAt)
	}

	// ToggleStatus writes the flip of the status it was given.
	got, err = f.store.ToggleStatus(t.Context(), d.ID, "user-a", StatusOn)
	if err != nil {
		t.Fatalf("second ToggleStatus() error = %v", err)
	}
	if got.Status != StatusOff {
		t.Errorf("second ToggleStatus() status = %d, want 0", got.Status)
	}
	if n := len(f.logs.actions()); n != 1 {
		t.Errorf("ToggleStatus wrote %d log entries, want only the created one", n)
	}
}

func TestStore_ToggleWithHeartbeat(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	if err := f.store.SetOnlineStatus(t.Context(), d.ID, "user-a", false); err != nil {
		t.Fatalf("SetOnlineStatus() error = %v", err)
	}
	logged := len(f.logs.actions())
	f.now = f.now.Add(10 * time.Minute)

	got, err := f.store.ToggleWithHeartbeat(t.Context(), d.ID, "user-a", StatusOff)
	if err != nil {
		t.Fatalf("ToggleWithHeartbeat() error = %v", err)
	}
	if got.Status != StatusOn || !got.IsOnline || !got.LastHeartbeat.Equal(f.now) || !got.UpdatedAt.Equal(f.now) {
		t.Errorf("ToggleWithHeartbeat() = %+v", got)
	}
	if n := len(f.logs.actions()); n != logged {
		t.Errorf("ToggleWithHeartbeat wrote %d log entries, want none", n-logged)
	}

	if _, err := f.store.ToggleWithHeartbeat(t.Context(), d.ID, "user-b", StatusOn); !errors.Is(err, ErrNotOwner) {
		t.Errorf("ToggleWithHeartbeat(other owner) error = %v, want permission error", err)
	}
	stored, _ := f.store.GetDevice(t.Context(), d.ID, "user-a")
	if stored.Status != StatusOn {
		t.Errorf("status after rejected toggle = %d, want 1", stored.Status)
	}
}

func TestStore_Ownership(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	name := "Stolen"

	ops := map[string]func() error{
		"get": func() error { _, err := f.store.GetDevice(t.Context(), d.ID, "user-b"); return err },
		"toggle": func() error {
			_, err := f.store.ToggleStatus(t.Context(), d.ID, "user-b", StatusOff)
			return err
		},
		"toggle with heartbeat": func() error {
			_, err := f.store.ToggleWithHeartbeat(t.Context(), d.ID, "user-b", StatusOff)
			return err
		},
		"online": func() error { return f.store.SetOnlineStatus(t.Context(), d.ID, "user-b", false) },
		"update": func() error {
			_, err := f.store.UpdateDevice(t.Context(), d.ID, "user-b", Patch{Name: &name})
			return err
		},
		"delete":    func() error { return f.store.DeleteDevice(t.Context(), d.ID, "user-b") },
		"heartbeat": func() error { _, err := f.store.UpdateDeviceHeartbeat(t.Context(), d.ID, "user-b"); return err },
		"logs":      func() error { _, err := f.store.FetchLogs(t.Context(), d.ID, "user-b", 0); return err },
	}

	names := make([]string, 0, len(ops))
	for n := range ops {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t.Run(n, func(t *testing.T) {
			err := ops[n]()
			var pe *PermissionError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want PermissionError", err)
			}
			if Kind(err) != KindPermission {
				t.Errorf("Kind() = %s, want permission", Kind(err))
			}
		})
	}

	// The device is untouched.
	got, err := f.store.GetDevice(t.Context(), d.ID, "user-a")
	if err != nil || got.Name != d.Name {
		t.Errorf("device after foreign writes = %+v, %v", got, err)
	}
}

func TestStore_NotFound(t *testing.T) {
	f := newStoreFixture(t)

	_, err := f.store.ToggleStatus(t.Context(), "dev-missing", "user-a", StatusOff)

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.DeviceRef != "dev-missing" {
		t.Fatalf("ToggleStatus(missing) error = %v, want NotFoundError", err)
	}
	if Kind(err) != KindNotFound {
		t.Errorf("Kind() = %s, want not_found", Kind(err))
	}
}

func TestStore_UpdateDevice(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	name, loc := "  Desk Lamp ", "Study"
	f.now = f.now.Add(time.Hour)

	got, err := f.store.UpdateDevice(t.Context(), d.ID, "user-a", Patch{Name: &name, Location: &loc})
	if err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	if got.Name != "Desk Lamp" || got.Location != "Study" || !got.UpdatedAt.Equal(f.now) {
		t.Errorf("UpdateDevice() = %+v", got)
	}

	actions := f.logs.actions()
	if actions[len(actions)-1] != ActionUpdated {
		t.Errorf("last log action = %s, want updated", actions[len(actions)-1])
	}
}

func TestStore_UpdateDevice_InvalidPatch(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	bad := DeviceType("toaster")

	_, err := f.store.UpdateDevice(t.Context(), d.ID, "user-a", Patch{Type: &bad})
	if Kind(err) != KindValidation {
		t.Errorf("Kind() = %s, want validation", Kind(err))
	}
}

func TestStore_DeleteDevice_LogKeepsName(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")

	if err := f.store.DeleteDevice(t.Context(), d.ID, "user-a"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	if _, err := f.store.GetDevice(t.Context(), d.ID, "user-a"); Kind(err) != KindNotFound {
		t.Errorf("GetDevice after delete Kind() = %s, want not_found", Kind(err))
	}

	logs, err := f.store.FetchLogs(t.Context(), d.ID, "user-a", 0)
	if err != nil {
		t.Fatalf("FetchLogs() after delete error = %v", err)
	}
	if len(logs) != 2 || logs[0].Action != ActionDeleted || logs[0].DeviceName != d.Name {
		t.Errorf("logs = %+v, want deleted entry first carrying the name", logs)
	}

	kinds := f.notifier.kinds()
	if kinds[len(kinds)-1] != realtime.KindDelete {
		t.Errorf("last notification = %s, want delete", kinds[len(kinds)-1])
	}
}

func TestStore_FetchLogs_Limits(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	for i := range 250 {
		status := Status(i % 2)
		if err := f.store.LogAction(t.Context(), &LogEntry{
			DeviceRef: d.ID, OwnerID: "user-a", Action: ToggleAction(status), NewStatus: &status,
		}); err != nil {
			t.Fatalf("LogAction() error = %v", err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: DefaultLogLimit},
		{limit: -5, want: DefaultLogLimit},
		{limit: 7, want: 7},
		{limit: 1000, want: MaxLogLimit},
	}
	for _, tt := range tests {
		logs, err := f.store.FetchLogs(t.Context(), d.ID, "user-a", tt.limit)
		if err != nil {
			t.Fatalf("FetchLogs(%d) error = %v", tt.limit, err)
		}
		if len(logs) != tt.want {
			t.Errorf("FetchLogs(%d) returned %d entries, want %d", tt.limit, len(logs), tt.want)
		}
	}
}

func TestStore_FetchLogs_StoreFailure(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	f.logs.listErr = errors.New("connection reset")

	_, err := f.store.FetchLogs(t.Context(), d.ID, "user-a", 0)
	if Kind(err) != KindNetwork {
		t.Errorf("Kind() = %s, want network (err=%v)", Kind(err), err)
	}
}

func TestStore_MarkOfflineDevices(t *testing.T) {
	f := newStoreFixture(t)
	stale := f.create(t, "user-a", "A_001")
	f.now = f.now.Add(100 * time.Second)
	fresh := f.create(t, "user-b", "B_001")
	f.now = f.now.Add(30 * time.Second) // stale is 130s old, fresh 30s

	n, err := f.store.MarkOfflineDevices(t.Context())
	if err != nil {
		t.Fatalf("MarkOfflineDevices() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("MarkOfflineDevices() = %d, want 1", n)
	}

	got, _ := f.store.GetDevice(t.Context(), stale.ID, "user-a")
	if got.IsOnline {
		t.Error("stale device still online")
	}
	got, _ = f.store.GetDevice(t.Context(), fresh.ID, "user-b")
	if !got.IsOnline {
		t.Error("fresh device marked offline")
	}

	last := f.notifier.changes[len(f.notifier.changes)-1]
	if last.OwnerID != "user-a" || last.DeviceRef != stale.ID || last.Kind != realtime.KindUpdate {
		t.Errorf("sweep notification = %+v", last)
	}
}

func TestStore_UpdateDeviceHeartbeat(t *testing.T) {
	f := newStoreFixture(t)
	d := f.create(t, "user-a", "A_001")
	if err := f.store.SetOnlineStatus(t.Context(), d.ID, "user-a", false); err != nil {
		t.Fatalf("SetOnlineStatus() error = %v", err)
	}
	f.now = f.now.Add(10 * time.Minute)

	at, err := f.store.UpdateDeviceHeartbeat(t.Context(), d.ID, "user-a")
	if err != nil {
		t.Fatalf("UpdateDeviceHeartbeat() error = %v", err)
	}
	if !at.Equal(f.now) {
		t.Errorf("heartbeat time = %v, want %v", at, f.now)
	}

	got, _ := f.store.GetDevice(t.Context(), d.ID, "user-a")
	if !got.IsOnline || !got.LastHeartbeat.Equal(f.now) {
		t.Errorf("after heartbeat: online %v at %v", got.IsOnline, got.LastHeartbeat)
	}
}

func TestStore_SearchAndFilters(t *testing.T) {
	f := newStoreFixture(t)
	f.create(t, "user-a", "KIT_001")

	found, err := f.store.SearchDevices(t.Context(), "user-a", "  kit ")
	if err != nil || len(found) != 1 {
		t.Errorf("SearchDevices() = %v, %v", found, err)
	}
	byLoc, err := f.store.DevicesByLocation(t.Context(), "user-a", "Kitchen")
	if err != nil || len(byLoc) != 1 {
		t.Errorf("DevicesByLocation() = %v, %v", byLoc, err)
	}
	byType, err := f.store.DevicesByType(t.Context(), "user-a", TypeFan)
	if err != nil || len(byType) != 0 {
		t.Errorf("DevicesByType(fan) = %v, %v", byType, err)
	}
}

func TestKindAndUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, ""},
		{&NetworkError{Op: "list", Err: errors.New("boom")}, KindNetwork},
		{&PermissionError{DeviceRef: "d", OwnerID: "o"}, KindPermission},
		{&DuplicateDeviceIDError{DeviceID: "X"}, KindDuplicate},
		{&ValidationError{Fields: []FieldError{{Field: "name", Message: "Device name is required"}}}, KindValidation},
		{&NotFoundError{DeviceRef: "d"}, KindNotFound},
		{errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.kind {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.kind)
		}
		if tt.err != nil && UserMessage(tt.err) == "" {
			t.Errorf("UserMessage(%v) is empty", tt.err)
		}
	}

	ve := &ValidationError{Fields: []FieldError{{Field: "name", Message: "Device name is required"}}}
	if got := UserMessage(ve); got != "Device name is required" {
		t.Errorf("UserMessage(validation) = %q", got)
	}
}
