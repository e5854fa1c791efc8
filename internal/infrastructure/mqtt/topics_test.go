package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "iotconsole"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceChanges", topics.DeviceChanges("user-1"), "iotconsole/devices/user-1/changes"},
		{"AllDeviceChanges", topics.AllDeviceChanges(), "iotconsole/devices/+/changes"},
		{"HeartbeatSweep", topics.HeartbeatSweep(), "iotconsole/heartbeat/sweep"},
		{"SystemStatus", topics.SystemStatus(), "iotconsole/system/status"},
		{"default prefix", Topics{}.SystemStatus(), "iotconsole/system/status"},
		{"trailing slash trimmed", Topics{Prefix: "site-a/"}.HeartbeatSweep(), "site-a/heartbeat/sweep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestOwnerFromDeviceChanges(t *testing.T) {
	topics := Topics{Prefix: "iotconsole"}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"iotconsole/devices/user-1/changes", "user-1", true},
		{"iotconsole/devices//changes", "", false},
		{"iotconsole/devices/a/b/changes", "", false},
		{"other/devices/user-1/changes", "", false},
		{"iotconsole/heartbeat/sweep", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.OwnerFromDeviceChanges(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("OwnerFromDeviceChanges(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidTopicSegment(t *testing.T) {
	for s, want := range map[string]bool{
		"user-1": true,
		"":       false,
		"a/b":    false,
		"+":      false,
		"#":      false,
	} {
		if got := ValidTopicSegment(s); got != want {
			t.Errorf("ValidTopicSegment(%q) = %v, want %v", s, got, want)
		}
	}
}
