package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

// base36Upper is the alphabet for the random suffix of generated device ids.
const base36Upper = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// deviceIDSuffixLength is the number of random characters in a generated device id.
const deviceIDSuffixLength = 4

// defaultIDPrefix is used when no device type is supplied.
const defaultIDPrefix = "DEV"

var randomSuffix = mustSuffixGenerator()

func mustSuffixGenerator() func() string {
	gen, err := nanoid.CustomASCII(base36Upper, deviceIDSuffixLength)
	if err != nil {
		panic(fmt.Sprintf("device: building id generator: %v", err))
	}
	return gen
}

// GenerateDeviceID suggests a device id such as "LIG_MG3K2J1Q_7ZP4".
//
// The prefix is the first three letters of the device type, upper-cased,
// followed by the current Unix milliseconds in base 36 and four random
// base-36 characters. The result always satisfies ValidDeviceID.
func GenerateDeviceID(t DeviceType, now time.Time) string {
	prefix := strings.ToUpper(string(t))
	if prefix == "" {
		prefix = defaultIDPrefix
	}
	if len(prefix) > 3 { //nolint:mnd // three-letter type prefix
		prefix = prefix[:3]
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return prefix + "_" + stamp + "_" + randomSuffix()
}

// NewStoreID creates the store-assigned identifier for a device row.
func NewStoreID() string {
	return "dev-" + uuid.NewString()[:8]
}

// QRSetup is the payload encoded into a device's setup QR code.
type QRSetup struct {
	DeviceID  string     `json:"device_id"`
	Type      DeviceType `json:"type"`
	Location  string     `json:"location"`
	Timestamp int64      `json:"timestamp"`
	SetupURL  string     `json:"setup_url"`
}

// QRPayload builds the JSON setup payload for a device.
// setupBaseURL is the console origin, e.g. "https://console.example.com".
func QRPayload(deviceID string, t DeviceType, location, setupBaseURL string, now time.Time) (string, error) {
	payload := QRSetup{
		DeviceID:  deviceID,
		Type:      t,
		Location:  location,
		Timestamp: now.UnixMilli(),
		SetupURL:  strings.TrimRight(setupBaseURL, "/") + "/setup/" + deviceID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling qr payload: %w", err)
	}
	return string(b), nil
}
