package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "iotconsole"

// Topics builds the console's MQTT topic names under a configurable prefix.
//
//	{prefix}/devices/{owner}/changes   device row change hints, one stream per owner
//	{prefix}/heartbeat/sweep           offline-sweep results
//	{prefix}/system/status             retained online/offline status (LWT)
//
// Owner ids are used verbatim; the credential gateway issues UUIDs, which
// never contain the MQTT separators '/', '+' or '#'.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// DeviceChanges returns the change topic for one owner.
//
// Example: iotconsole/devices/3f2a.../changes
func (t Topics) DeviceChanges(ownerID string) string {
	return t.prefix() + "/devices/" + ownerID + "/changes"
}

// AllDeviceChanges returns a wildcard matching every owner's change topic.
func (t Topics) AllDeviceChanges() string {
	return t.prefix() + "/devices/+/changes"
}

// HeartbeatSweep returns the topic offline-sweep results are published on.
func (t Topics) HeartbeatSweep() string {
	return t.prefix() + "/heartbeat/sweep"
}

// SystemStatus returns the retained status topic used for the LWT.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// OwnerFromDeviceChanges extracts the owner id from a change topic.
// ok is false when topic is not a change topic under this prefix.
func (t Topics) OwnerFromDeviceChanges(topic string) (ownerID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/devices/")
	if !found {
		return "", false
	}
	ownerID, found = strings.CutSuffix(rest, "/changes")
	if !found || ownerID == "" || strings.Contains(ownerID, "/") {
		return "", false
	}
	return ownerID, true
}

// ValidTopicSegment reports whether s can be used as a single topic level.
func ValidTopicSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
