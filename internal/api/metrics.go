package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
)

// bytesPerMB converts byte counts to megabytes.
const bytesPerMB = 1024 * 1024

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Host          HostMetrics     `json:"host"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Devices       DeviceMetrics   `json:"devices"`
	Automation    AutomationStats `json:"automation"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics contains host statistics. Fields the platform cannot report
// stay zero.
type HostMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	RAMUsedMB   float64 `json:"ram_used_mb"`
	RAMTotalMB  float64 `json:"ram_total_mb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskTotalGB float64 `json:"disk_total_gb"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains broker session statistics.
type MQTTMetrics struct {
	events.Status
	Subscriptions int `json:"subscriptions"`
	HistorySize   int `json:"history_size"`
}

// DeviceMetrics contains runtime device map statistics.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// AutomationStats counts the loaded engine entries.
type AutomationStats struct {
	Tasks    int `json:"tasks"`
	Triggers int `json:"triggers"`
	Alerts   int `json:"alerts"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, host and gateway metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Host: s.hostMetrics(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT: MQTTMetrics{
			Status:        s.session.Status(),
			Subscriptions: len(s.session.Topics()),
			HistorySize:   len(s.session.History()),
		},
		Automation: AutomationStats{
			Tasks:    len(s.tasks.List()),
			Triggers: len(s.triggers.List()),
			Alerts:   len(s.alerts.List()),
		},
	}

	devices := s.tracker.Snapshot()
	metrics.Devices = DeviceMetrics{
		Total:    len(devices),
		ByStatus: map[string]int{},
	}
	for _, d := range devices {
		metrics.Devices.ByStatus[statusName(d.Status)]++
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// hostMetrics samples CPU, memory and root filesystem usage. Read errors
// are logged at debug level and leave the field zero.
func (s *Server) hostMetrics() HostMetrics {
	var h HostMetrics

	// Zero interval compares against the previous call and does not block.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		h.CPUPercent = pct[0]
	} else if err != nil {
		s.logger.Debug("reading cpu stats failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		// Available excludes reclaimable page cache.
		h.RAMUsedMB = float64(vm.Total-vm.Available) / bytesPerMB
		h.RAMTotalMB = float64(vm.Total) / bytesPerMB
	} else {
		s.logger.Debug("reading memory stats failed", "error", err)
	}

	if du, err := disk.Usage("/"); err == nil {
		h.DiskUsedGB = float64(du.Used) / bytesPerMB / 1024
		h.DiskTotalGB = float64(du.Total) / bytesPerMB / 1024
	} else {
		s.logger.Debug("reading disk stats failed", "error", err)
	}

	return h
}

// statusName returns the metrics bucket of a device status.
func statusName(st device.Status) string {
	if st == "" {
		return "unknown"
	}
	return string(st)
}
