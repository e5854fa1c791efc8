package device

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// HeartbeatStatus is the liveness derived from is_online and heartbeat age.
type HeartbeatStatus string

// Liveness states.
const (
	HeartbeatHealthy HeartbeatStatus = "healthy"
	HeartbeatStale   HeartbeatStatus = "stale"
	HeartbeatOffline HeartbeatStatus = "offline"
)

// Default liveness thresholds.
const (
	DefaultStaleAfter   = 60 * time.Second
	DefaultOfflineAfter = 120 * time.Second
)

// Thresholds bound the healthy and stale windows.
// A device is healthy up to StaleAfter and stale up to OfflineAfter.
type Thresholds struct {
	StaleAfter   time.Duration
	OfflineAfter time.Duration
}

// DefaultThresholds returns the 60s / 120s thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{StaleAfter: DefaultStaleAfter, OfflineAfter: DefaultOfflineAfter}
}

// Liveness is the view derived for one device at one instant. It is never stored.
type Liveness struct {
	SecondsSinceHeartbeat int64           `json:"seconds_since_heartbeat"`
	Status                HeartbeatStatus `json:"heartbeat_status"`
	NeedsAttention        bool            `json:"needs_attention"`
}

// DeriveLiveness computes the liveness of d at now.
//
// A device that is not flagged online is offline regardless of age.
// Heartbeats in the future count as age zero. The class is decided on
// the whole seconds reported, so 60.5s is still healthy.
func DeriveLiveness(d *Device, now time.Time, th Thresholds) Liveness {
	age := now.Sub(d.LastHeartbeat)
	if age < 0 {
		age = 0
	}
	age = age.Truncate(time.Second)
	secs := int64(age / time.Second)

	status := HeartbeatOffline
	switch {
	case !d.IsOnline:
	case age <= th.StaleAfter:
		status = HeartbeatHealthy
	case age <= th.OfflineAfter:
		status = HeartbeatStale
	}

	return Liveness{
		SecondsSinceHeartbeat: secs,
		Status:                status,
		NeedsAttention:        status != HeartbeatHealthy,
	}
}

// FormatTimeSince renders a heartbeat age for display.
func FormatTimeSince(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}

// AttentionItem is one device in a heartbeat report that is not healthy.
type AttentionItem struct {
	ID                    string `json:"id"`
	DeviceID              string `json:"device_id"`
	Name                  string `json:"name"`
	Location              string `json:"location"`
	SecondsSinceHeartbeat int64  `json:"seconds_since_heartbeat"`
	Issue                 string `json:"issue"`
}

// Report aggregates liveness across an owner's devices.
type Report struct {
	TotalDevices        int             `json:"total_devices"`
	HealthyDevices      int             `json:"healthy_devices"`
	StaleDevices        int             `json:"stale_devices"`
	OfflineDevices      int             `json:"offline_devices"`
	NeedsAttention      []AttentionItem `json:"devices_needing_attention"`
	AverageHeartbeatAge int64           `json:"average_heartbeat_age"`
	HealthPercentage    int             `json:"health_percentage"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// HeartbeatReport summarises liveness for devices at now.
// Attention items are ordered oldest heartbeat first.
func HeartbeatReport(devices []Device, now time.Time, th Thresholds) Report {
	r := Report{
		TotalDevices:   len(devices),
		NeedsAttention: []AttentionItem{},
		GeneratedAt:    now,
	}
	if len(devices) == 0 {
		return r
	}

	var totalAge int64
	for i := range devices {
		d := &devices[i]
		lv := DeriveLiveness(d, now, th)
		totalAge += lv.SecondsSinceHeartbeat

		var issue string
		switch lv.Status {
		case HeartbeatHealthy:
			r.HealthyDevices++
			continue
		case HeartbeatStale:
			r.StaleDevices++
			issue = "Stale heartbeat"
		default:
			r.OfflineDevices++
			issue = "Offline"
		}
		r.NeedsAttention = append(r.NeedsAttention, AttentionItem{
			ID:                    d.ID,
			DeviceID:              d.DeviceID,
			Name:                  d.Name,
			Location:              d.Location,
			SecondsSinceHeartbeat: lv.SecondsSinceHeartbeat,
			Issue:                 issue,
		})
	}

	sort.SliceStable(r.NeedsAttention, func(i, j int) bool {
		return r.NeedsAttention[i].SecondsSinceHeartbeat > r.NeedsAttention[j].SecondsSinceHeartbeat
	})

	r.AverageHeartbeatAge = totalAge / int64(len(devices))
	r.HealthPercentage = int(math.Round(float64(r.HealthyDevices) / float64(len(devices)) * 100)) //nolint:mnd // percentage

	return r
}

// Stats counts devices by state, type and location.
type Stats struct {
	Total      int                `json:"total"`
	Online     int                `json:"online"`
	Offline    int                `json:"offline"`
	Active     int                `json:"active"`
	Inactive   int                `json:"inactive"`
	ByType     map[DeviceType]int `json:"by_type"`
	ByLocation map[string]int     `json:"by_location"`
}

// ComputeStats returns the counts for devices.
func ComputeStats(devices []Device) Stats {
	s := Stats{
		Total:      len(devices),
		ByType:     make(map[DeviceType]int),
		ByLocation: make(map[string]int),
	}
	for i := range devices {
		d := &devices[i]
		if d.IsOnline {
			s.Online++
		} else {
			s.Offline++
		}
		if d.Status == StatusOn {
			s.Active++
		} else {
			s.Inactive++
		}
		s.ByType[d.Type]++
		if d.Location != "" {
			s.ByLocation[d.Location]++
		}
	}
	return s
}

// Summary extends Stats with recency and the distinct locations and types in use.
type Summary struct {
	Stats
	RecentlyUpdated int          `json:"recently_updated"`
	Locations       []string     `json:"locations"`
	Types           []DeviceType `json:"types"`
}

// recentWindow is how far back Summary counts an update as recent.
const recentWindow = 24 * time.Hour

// ComputeSummary returns the dashboard summary of devices at now.
// Locations and types are sorted.
func ComputeSummary(devices []Device, now time.Time) Summary {
	sum := Summary{
		Stats:     ComputeStats(devices),
		Locations: []string{},
		Types:     []DeviceType{},
	}
	cutoff := now.Add(-recentWindow)
	for i := range devices {
		if devices[i].UpdatedAt.After(cutoff) {
			sum.RecentlyUpdated++
		}
	}
	for loc := range sum.ByLocation {
		sum.Locations = append(sum.Locations, loc)
	}
	for t := range sum.ByType {
		sum.Types = append(sum.Types, t)
	}
	sort.Strings(sum.Locations)
	sort.Slice(sum.Types, func(i, j int) bool { return sum.Types[i] < sum.Types[j] })
	return sum
}
