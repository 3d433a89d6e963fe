package services

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/models"
)

type MetricSample struct {
	CapturedAt        time.Time `json:"capturedAt"`
	HeapUsedBytes     int64     `json:"heapUsedBytes"`
	HeapMaxBytes      int64     `json:"heapMaxBytes"`
	SystemMemoryTotal int64     `json:"systemMemoryTotalBytes"`
	SystemMemoryUsed  int64     `json:"systemMemoryUsedBytes"`
	DiskTotalBytes    int64     `json:"diskTotalBytes"`
	DiskUsedBytes     int64     `json:"diskUsedBytes"`
	ProcessCpuLoad    float64   `json:"processCpuLoad"`
	SystemCpuLoad     float64   `json:"systemCpuLoad"`
	PendingEntries    int       `json:"pendingEntries"`
}

func sampleFromModel(m models.ServerMetricSample) MetricSample {
	return MetricSample{
		CapturedAt:        m.CapturedAt,
		HeapUsedBytes:     m.HeapUsedBytes,
		HeapMaxBytes:      m.HeapMaxBytes,
		SystemMemoryTotal: m.SystemMemoryTotal,
		SystemMemoryUsed:  m.SystemMemoryUsed,
		DiskTotalBytes:    m.DiskTotalBytes,
		DiskUsedBytes:     m.DiskUsedBytes,
		ProcessCpuLoad:    m.ProcessCpuLoad,
		SystemCpuLoad:     m.SystemCpuLoad,
		PendingEntries:    m.PendingEntries,
	}
}

// CaptureMetrics samples host and process usage plus the evaluation backlog
// and stores the sample.
func CaptureMetrics(ctx context.Context, db *sqlx.DB, diskPath string) (MetricSample, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sample := MetricSample{
		CapturedAt:    time.Now().UTC(),
		HeapUsedBytes: int64(memStats.HeapAlloc),
		HeapMaxBytes:  int64(memStats.HeapSys),
	}
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.SystemMemoryTotal = int64(memStat.Total)
		sample.SystemMemoryUsed = int64(memStat.Total - memStat.Available)
	}
	diskStat, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		diskStat, err = disk.UsageWithContext(ctx, "/")
	}
	if err == nil {
		sample.DiskTotalBytes = int64(diskStat.Total)
		sample.DiskUsedBytes = int64(diskStat.Used)
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if cpuPerc, err := proc.CPUPercentWithContext(ctx); err == nil {
			sample.ProcessCpuLoad = cpuPerc / 100.0
		}
	}
	if sysCPU, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(sysCPU) > 0 {
		sample.SystemCpuLoad = sysCPU[0] / 100.0
	}
	pending, err := CountPending(ctx, db)
	if err != nil {
		return MetricSample{}, err
	}
	sample.PendingEntries = pending

	_, err = db.ExecContext(ctx, db.Rebind(`
INSERT INTO server_metric_samples (
  id, captured_at, heap_used_bytes, heap_max_bytes, system_memory_total_bytes,
  system_memory_used_bytes, disk_total_bytes, disk_used_bytes, process_cpu_load, system_cpu_load, pending_entries
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		uuid.NewString(), sample.CapturedAt, sample.HeapUsedBytes, sample.HeapMaxBytes, sample.SystemMemoryTotal,
		sample.SystemMemoryUsed, sample.DiskTotalBytes, sample.DiskUsedBytes, sample.ProcessCpuLoad, sample.SystemCpuLoad,
		sample.PendingEntries)
	if err != nil {
		return MetricSample{}, eris.Wrap(err, "store metric sample")
	}
	return sample, nil
}

// LatestMetrics returns up to limit samples, oldest first.
func LatestMetrics(ctx context.Context, db *sqlx.DB, limit int) ([]MetricSample, error) {
	rows := []models.ServerMetricSample{}
	if err := db.SelectContext(ctx, &rows, db.Rebind(`
SELECT id, captured_at, heap_used_bytes, heap_max_bytes, system_memory_total_bytes,
       system_memory_used_bytes, disk_total_bytes, disk_used_bytes, process_cpu_load, system_cpu_load, pending_entries
FROM server_metric_samples
ORDER BY captured_at DESC
LIMIT ?`), limit); err != nil {
		return nil, eris.Wrap(err, "list metric samples")
	}
	items := make([]MetricSample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		items = append(items, sampleFromModel(rows[i]))
	}
	return items, nil
}

// PruneMetrics drops samples older than the retention window.
func PruneMetrics(ctx context.Context, db *sqlx.DB, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM server_metric_samples WHERE captured_at < ?`), olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "prune metric samples")
	}
	return res.RowsAffected()
}

// MetricsHub fans samples out to connected websocket clients.
type MetricsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	ch      chan MetricSample
}

func NewMetricsHub() *MetricsHub {
	return &MetricsHub{
		clients: map[*websocket.Conn]bool{},
		ch:      make(chan MetricSample, 16),
	}
}

func (h *MetricsHub) Run(ctx context.Context) {
	for {
		select {
		case sample := <-h.ch:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(sample); err != nil {
					_ = conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast drops the sample when the hub is backed up.
func (h *MetricsHub) Broadcast(sample MetricSample) {
	select {
	case h.ch <- sample:
	default:
	}
}

func (h *MetricsHub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *MetricsHub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *MetricsHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RunSampler captures a sample every interval until ctx is done, broadcasting
// each one.
func RunSampler(ctx context.Context, db *sqlx.DB, hub *MetricsHub, diskPath string, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sample, err := CaptureMetrics(ctx, db, diskPath)
			if err != nil {
				zap.L().Warn("metric capture failed", zap.Error(err))
				continue
			}
			hub.Broadcast(sample)
		case <-ctx.Done():
			return
		}
	}
}
