package handlers

import (
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/models"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/service"
)

// Health types

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Database      DatabaseHealth    `json:"database"`
	Cameras       CameraHealth      `json:"cameras"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory usage in MiB.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo covers this process and its ffmpeg children.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
}

// DatabaseHealth reports connectivity.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// CameraHealth summarises registered cameras.
type CameraHealth struct {
	Registered int `json:"registered"`
	Online     int `json:"online"`
}

// Camera types

// CameraListOutput is the body of GET /api/v1/cameras.
type CameraListOutput struct {
	Body struct {
		Cameras []service.CameraStatus `json:"cameras"`
	}
}

// CameraPathInput selects a camera.
type CameraPathInput struct {
	CameraID string `path:"cameraId" doc:"Camera ID"`
}

// StreamOptionsOutput is the body of GET /api/v1/cameras/{cameraId}/streams.
type StreamOptionsOutput struct {
	Body struct {
		Streams []camera.StreamOptions `json:"streams"`
	}
}

// SettingsOutput is the body of GET /api/v1/cameras/{cameraId}/settings.
type SettingsOutput struct {
	Body struct {
		Settings []prebuffer.Setting `json:"settings"`
	}
}

// PutSettingInput stores one setting.
type PutSettingInput struct {
	CameraID string `path:"cameraId" doc:"Camera ID"`
	Key      string `path:"key" doc:"Setting key"`
	Body     struct {
		Value any `json:"value" doc:"String, number, boolean or string list"`
	}
}

// StreamInput requests an input descriptor.
type StreamInput struct {
	CameraID  string `path:"cameraId" doc:"Camera ID"`
	StreamID  string `query:"streamId" doc:"Stream profile ID; empty selects the default"`
	Container string `query:"container" default:"mpegts" enum:"mpegts,mp4,s16le" doc:"Output container"`
	Backlog   int64  `query:"backlog" minimum:"0" doc:"History to replay in milliseconds; 0 replays from the last keyframe"`
	Direct    bool   `query:"direct" doc:"Return the camera's own stream, bypassing the prebuffer"`
}

// StreamOutput carries the descriptor consumers pass to ffmpeg.
type StreamOutput struct {
	Body *camera.InputDescriptor
}

// DiagnosticsOutput is the body of GET /api/v1/cameras/{cameraId}/diagnostics.
type DiagnosticsOutput struct {
	Body struct {
		Online  bool                    `json:"online"`
		Streams []prebuffer.Diagnostics `json:"streams"`
	}
}

// RestartOutput has no body.
type RestartOutput struct{}

// Alert types

// AlertListInput filters alerts.
type AlertListInput struct {
	CameraID string `query:"cameraId" doc:"Only alerts for this camera"`
	Limit    int    `query:"limit" default:"100" minimum:"0" maximum:"1000" doc:"Maximum alerts to return; 0 returns all"`
}

// AlertResponse is one recorded alert.
type AlertResponse struct {
	ID        string    `json:"id"`
	CameraID  string    `json:"camera_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertFromModel converts a model to a response.
func AlertFromModel(a *models.Alert) AlertResponse {
	return AlertResponse{
		ID:        a.ID.String(),
		CameraID:  a.CameraID,
		Title:     a.Title,
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	}
}

// AlertListOutput is the body of GET /api/v1/alerts.
type AlertListOutput struct {
	Body struct {
		Alerts []AlertResponse `json:"alerts"`
	}
}
