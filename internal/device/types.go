package device

import "time"

// Device is one owner's registered IoT device.
// This matches the devices table in migrations/20261019091500_devices.up.sql.
type Device struct {
	// Identity
	ID       string `json:"id"`        // store-assigned, stable
	OwnerID  string `json:"owner_id"`  // user who registered the device
	DeviceID string `json:"device_id"` // user-visible id, unique per owner

	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	Location string     `json:"location"`

	// Current state
	Status        Status    `json:"status"`
	IsOnline      bool      `json:"is_online"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	QRCode *string `json:"qr_code,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.QRCode != nil {
		qr := *d.QRCode
		cpy.QRCode = &qr
	}
	return &cpy
}

// Status is the commanded power state of a device.
type Status int

// Power states.
const (
	StatusOff Status = 0
	StatusOn  Status = 1
)

// Flip returns the opposite status.
func (s Status) Flip() Status {
	if s == StatusOn {
		return StatusOff
	}
	return StatusOn
}

// Valid reports whether s is 0 or 1.
func (s Status) Valid() bool {
	return s == StatusOff || s == StatusOn
}

// DeviceType classifies what a device is.
type DeviceType string //nolint:revive // device.DeviceType reads better than device.Type next to Status

// Supported device types.
const (
	TypeLight      DeviceType = "light"
	TypeFan        DeviceType = "fan"
	TypeAC         DeviceType = "ac"
	TypeHeater     DeviceType = "heater"
	TypeOutlet     DeviceType = "outlet"
	TypeSensor     DeviceType = "sensor"
	TypeCamera     DeviceType = "camera"
	TypeDoor       DeviceType = "door"
	TypeWindow     DeviceType = "window"
	TypeThermostat DeviceType = "thermostat"
)

// AllDeviceTypes returns every supported device type in display order.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{
		TypeLight, TypeFan, TypeAC, TypeHeater, TypeOutlet,
		TypeSensor, TypeCamera, TypeDoor, TypeWindow, TypeThermostat,
	}
}

// ValidDeviceType reports whether t is a supported device type.
func ValidDeviceType(t DeviceType) bool {
	for _, known := range AllDeviceTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Action names a device log entry.
type Action string

// Log actions.
const (
	ActionCreated Action = "created"
	ActionTurnOn  Action = "turn_on"
	ActionTurnOff Action = "turn_off"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// ToggleAction returns the log action for a transition to status s.
func ToggleAction(s Status) Action {
	if s == StatusOn {
		return ActionTurnOn
	}
	return ActionTurnOff
}

// LogEntry is an append-only audit record of an action on a device.
type LogEntry struct {
	ID         string    `json:"id"`
	DeviceRef  string    `json:"device_ref"`
	OwnerID    string    `json:"owner_id"`
	Action     Action    `json:"action"`
	OldStatus  *Status   `json:"old_status"`
	NewStatus  *Status   `json:"new_status"`
	DeviceName string    `json:"device_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CreateInput is the user-supplied data for registering a device.
type CreateInput struct {
	DeviceID string     `json:"device_id"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	Location string     `json:"location"`
	QRCode   *string    `json:"qr_code,omitempty"`
}

// Patch carries optional field updates. Nil fields are left unchanged.
type Patch struct {
	Name     *string     `json:"name,omitempty"`
	Type     *DeviceType `json:"type,omitempty"`
	Location *string     `json:"location,omitempty"`
	QRCode   *string     `json:"qr_code,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.Location == nil && p.QRCode == nil
}

// statusPtr is a small helper for the optional status columns of LogEntry.
func statusPtr(s Status) *Status {
	return &s
}
