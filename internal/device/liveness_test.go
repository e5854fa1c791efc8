package device

import (
	"testing"
	"time"
)

func TestDeriveLiveness(t *testing.T) {
	now := testEpoch
	th := DefaultThresholds()

	tests := []struct {
		name     string
		online   bool
		age      time.Duration
		want     HeartbeatStatus
		wantSecs int64
	}{
		{name: "fresh", online: true, age: 0, want: HeartbeatHealthy},
		{name: "exactly stale boundary is healthy", online: true, age: 60 * time.Second, want: HeartbeatHealthy, wantSecs: 60},
		{name: "just past stale boundary", online: true, age: 61 * time.Second, want: HeartbeatStale, wantSecs: 61},
		{name: "exactly offline boundary is stale", online: true, age: 120 * time.Second, want: HeartbeatStale, wantSecs: 120},
		{name: "past offline boundary", online: true, age: 121 * time.Second, want: HeartbeatOffline, wantSecs: 121},
		{name: "flagged offline with fresh heartbeat", online: false, age: 5 * time.Second, want: HeartbeatOffline, wantSecs: 5},
		{name: "future heartbeat counts as zero", online: true, age: -30 * time.Second, want: HeartbeatHealthy},
		{name: "sub-second age truncates", online: true, age: 1500 * time.Millisecond, want: HeartbeatHealthy, wantSecs: 1},
		{name: "fraction past stale boundary is healthy", online: true, age: 60500 * time.Millisecond, want: HeartbeatHealthy, wantSecs: 60},
		{name: "fraction past offline boundary is stale", online: true, age: 120900 * time.Millisecond, want: HeartbeatStale, wantSecs: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Device{IsOnline: tt.online, LastHeartbeat: now.Add(-tt.age)}
			got := DeriveLiveness(d, now, th)
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s", got.Status, tt.want)
			}
			if got.SecondsSinceHeartbeat != tt.wantSecs {
				t.Errorf("SecondsSinceHeartbeat = %d, want %d", got.SecondsSinceHeartbeat, tt.wantSecs)
			}
			if got.NeedsAttention != (tt.want != HeartbeatHealthy) {
				t.Errorf("NeedsAttention = %v for %s", got.NeedsAttention, tt.want)
			}
		})
	}
}

func TestDeriveLiveness_CustomThresholds(t *testing.T) {
	d := &Device{IsOnline: true, LastHeartbeat: testEpoch.Add(-20 * time.Second)}
	got := DeriveLiveness(d, testEpoch, Thresholds{StaleAfter: 10 * time.Second, OfflineAfter: 15 * time.Second})
	if got.Status != HeartbeatOffline {
		t.Errorf("Status = %s, want offline", got.Status)
	}
}

func TestFormatTimeSince(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "0s ago"},
		{45, "45s ago"},
		{59, "59s ago"},
		{60, "1m ago"},
		{3599, "59m ago"},
		{3600, "1h ago"},
		{86399, "23h ago"},
		{86400, "1d ago"},
		{4 * 86400, "4d ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeSince(tt.secs); got != tt.want {
			t.Errorf("FormatTimeSince(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestHeartbeatReport(t *testing.T) {
	now := testEpoch
	devices := []Device{
		{ID: "a", Name: "Healthy", IsOnline: true, LastHeartbeat: now.Add(-10 * time.Second)},
		{ID: "b", Name: "Stale", IsOnline: true, LastHeartbeat: now.Add(-90 * time.Second)},
		{ID: "c", Name: "Gone", IsOnline: false, LastHeartbeat: now.Add(-300 * time.Second)},
	}

	r := HeartbeatReport(devices, now, DefaultThresholds())

	if r.TotalDevices != 3 || r.HealthyDevices != 1 || r.StaleDevices != 1 || r.OfflineDevices != 1 {
		t.Errorf("counts = %+v", r)
	}
	if r.AverageHeartbeatAge != (10+90+300)/3 {
		t.Errorf("AverageHeartbeatAge = %d, want %d", r.AverageHeartbeatAge, (10+90+300)/3)
	}
	if r.HealthPercentage != 33 {
		t.Errorf("HealthPercentage = %d, want 33", r.HealthPercentage)
	}
	if len(r.NeedsAttention) != 2 {
		t.Fatalf("NeedsAttention = %v, want 2 items", r.NeedsAttention)
	}
	if r.NeedsAttention[0].ID != "c" || r.NeedsAttention[0].Issue != "Offline" {
		t.Errorf("NeedsAttention[0] = %+v, want c/Offline", r.NeedsAttention[0])
	}
	if r.NeedsAttention[1].ID != "b" || r.NeedsAttention[1].Issue != "Stale heartbeat" {
		t.Errorf("NeedsAttention[1] = %+v, want b/Stale heartbeat", r.NeedsAttention[1])
	}
}

func TestHeartbeatReport_Empty(t *testing.T) {
	r := HeartbeatReport(nil, testEpoch, DefaultThresholds())
	if r.TotalDevices != 0 || r.HealthPercentage != 0 || r.NeedsAttention == nil {
		t.Errorf("empty report = %+v", r)
	}
}

func TestHeartbeatReport_RoundsPercentage(t *testing.T) {
	now := testEpoch
	healthy := Device{IsOnline: true, LastHeartbeat: now}
	devices := []Device{healthy, healthy, {IsOnline: false, LastHeartbeat: now}}

	if got := HeartbeatReport(devices, now, DefaultThresholds()).HealthPercentage; got != 67 {
		t.Errorf("HealthPercentage = %d, want 67", got)
	}
}

func TestComputeStats(t *testing.T) {
	devices := []Device{
		{Type: TypeLight, Location: "Kitchen", IsOnline: true, Status: StatusOn},
		{Type: TypeLight, Location: "Hall", IsOnline: false, Status: StatusOff},
		{Type: TypeFan, Location: "", IsOnline: true, Status: StatusOff},
	}

	s := ComputeStats(devices)

	if s.Total != 3 || s.Online != 2 || s.Offline != 1 || s.Active != 1 || s.Inactive != 2 {
		t.Errorf("counts = %+v", s)
	}
	if s.ByType[TypeLight] != 2 || s.ByType[TypeFan] != 1 {
		t.Errorf("ByType = %v", s.ByType)
	}
	if len(s.ByLocation) != 2 {
		t.Errorf("ByLocation = %v, want empty location skipped", s.ByLocation)
	}
}

func TestComputeSummary(t *testing.T) {
	now := testEpoch
	devices := []Device{
		{Type: TypeLight, Location: "Kitchen", UpdatedAt: now.Add(-time.Hour)},
		{Type: TypeFan, Location: "Hall", UpdatedAt: now.Add(-48 * time.Hour)},
		{Type: TypeLight, Location: "Hall", UpdatedAt: now.Add(-23 * time.Hour)},
	}

	s := ComputeSummary(devices, now)

	if s.RecentlyUpdated != 2 {
		t.Errorf("RecentlyUpdated = %d, want 2", s.RecentlyUpdated)
	}
	if len(s.Locations) != 2 || s.Locations[0] != "Hall" || s.Locations[1] != "Kitchen" {
		t.Errorf("Locations = %v, want [Hall Kitchen]", s.Locations)
	}
	if len(s.Types) != 2 || s.Types[0] != TypeFan || s.Types[1] != TypeLight {
		t.Errorf("Types = %v, want [fan light]", s.Types)
	}
}

func TestStatusFlip(t *testing.T) {
	if StatusOff.Flip() != StatusOn || StatusOn.Flip() != StatusOff {
		t.Error("Flip() did not invert status")
	}
	if ToggleAction(StatusOn) != ActionTurnOn || ToggleAction(StatusOff) != ActionTurnOff {
		t.Error("ToggleAction() mismatch")
	}
}
