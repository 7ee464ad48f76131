// Package handlers provides HTTP API handlers for rebroadcastr.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/rebroadcastr/internal/service"
)

const (
	bytesPerMiB = 1024 * 1024
	// slowPing marks the database degraded above this response time.
	slowPing = 100 * time.Millisecond
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CameraLister lists registered cameras.
type CameraLister interface {
	Cameras(ctx context.Context) []service.CameraStatus
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Pinger
	cameras   CameraLister
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database checked by the handler.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithCameras sets the camera registry reported by the handler.
func (h *HealthHandler) WithCameras(cameras CameraLister) *HealthHandler {
	h.cameras = cameras
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service status, host load and memory, database connectivity and camera counts",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. The status is
// "degraded" when the database is unreachable.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	db := h.getDatabaseHealth(ctx)
	cams := h.getCameraHealth(ctx)

	status := "healthy"
	if db.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Database:      db,
			Cameras:       cams,
			Checks: map[string]string{
				"database": db.Status,
			},
		},
	}, nil
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	var info MemoryInfo

	vm, err := mem.VirtualMemory()
	if err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / bytesPerMiB
		info.UsedMemoryMB = float64(vm.Used) / bytesPerMiB
		info.AvailableMemoryMB = float64(vm.Available) / bytesPerMiB
	}

	info.ProcessMemory = getProcessMemoryInfo()
	return info
}

// getProcessMemoryInfo sums RSS over this process and its ingest children.
func getProcessMemoryInfo() ProcessMemoryInfo {
	var info ProcessMemoryInfo

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if m, err := proc.MemoryInfo(); err == nil && m != nil {
		info.MainProcessMB = float64(m.RSS) / bytesPerMiB
	}
	info.TotalProcessTreeMB = info.MainProcessMB

	children, err := proc.Children()
	if err != nil {
		return info
	}
	info.ChildProcessCount = len(children)
	for _, child := range children {
		if m, err := child.MemoryInfo(); err == nil && m != nil {
			info.ChildProcessesMB += float64(m.RSS) / bytesPerMiB
		}
	}
	info.TotalProcessTreeMB += info.ChildProcessesMB
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	elapsed := time.Since(start)

	health := DatabaseHealth{
		Status:         "ok",
		ResponseTimeMS: float64(elapsed.Microseconds()) / 1000,
	}
	switch {
	case err != nil:
		health.Status = "error"
	case elapsed > slowPing:
		health.Status = "slow"
	}
	return health
}

func (h *HealthHandler) getCameraHealth(ctx context.Context) CameraHealth {
	if h.cameras == nil {
		return CameraHealth{}
	}
	cams := h.cameras.Cameras(ctx)
	health := CameraHealth{Registered: len(cams)}
	for _, c := range cams {
		if c.Online {
			health.Online++
		}
	}
	return health
}
