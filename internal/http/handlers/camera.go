package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/service"
)

// CameraRegistry is the camera service as seen by the API.
type CameraRegistry interface {
	CameraLister
	Orchestrator(id string) (*prebuffer.Orchestrator, error)
}

// CameraHandler serves camera, stream and settings endpoints.
type CameraHandler struct {
	cameras CameraRegistry
}

// NewCameraHandler creates a new camera handler.
func NewCameraHandler(cameras CameraRegistry) *CameraHandler {
	return &CameraHandler{cameras: cameras}
}

// Register registers the camera routes with the API.
func (h *CameraHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCameras",
		Method:      "GET",
		Path:        "/api/v1/cameras",
		Summary:     "List cameras",
		Description: "Returns every registered camera with its online state",
		Tags:        []string{"Cameras"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listCameraStreams",
		Method:      "GET",
		Path:        "/api/v1/cameras/{cameraId}/streams",
		Summary:     "List stream profiles",
		Description: "Returns the camera's stream profiles annotated with their prebuffer window",
		Tags:        []string{"Cameras"},
	}, h.Streams)

	huma.Register(api, huma.Operation{
		OperationID: "getCameraSettings",
		Method:      "GET",
		Path:        "/api/v1/cameras/{cameraId}/settings",
		Summary:     "Get camera settings",
		Tags:        []string{"Cameras"},
	}, h.Settings)

	huma.Register(api, huma.Operation{
		OperationID: "putCameraSetting",
		Method:      "PUT",
		Path:        "/api/v1/cameras/{cameraId}/settings/{key}",
		Summary:     "Update a camera setting",
		Description: "Stores the value and restarts every prebuffered stream of the camera",
		Tags:        []string{"Cameras"},
	}, h.PutSetting)

	huma.Register(api, huma.Operation{
		OperationID: "getCameraStream",
		Method:      "GET",
		Path:        "/api/v1/cameras/{cameraId}/stream",
		Summary:     "Open a stream",
		Description: "Returns an ffmpeg input descriptor. Prebuffered descriptors point at a single-use loopback endpoint that accepts one connection.",
		Tags:        []string{"Cameras"},
	}, h.Stream)

	huma.Register(api, huma.Operation{
		OperationID: "getCameraDiagnostics",
		Method:      "GET",
		Path:        "/api/v1/cameras/{cameraId}/diagnostics",
		Summary:     "Prebuffer diagnostics",
		Tags:        []string{"Cameras"},
	}, h.Diagnostics)

	huma.Register(api, huma.Operation{
		OperationID: "restartCamera",
		Method:      "POST",
		Path:        "/api/v1/cameras/{cameraId}/restart",
		Summary:     "Restart prebuffering",
		Tags:        []string{"Cameras"},
	}, h.Restart)
}

// List returns every registered camera.
func (h *CameraHandler) List(ctx context.Context, _ *struct{}) (*CameraListOutput, error) {
	out := &CameraListOutput{}
	out.Body.Cameras = h.cameras.Cameras(ctx)
	return out, nil
}

// Streams returns the camera's annotated stream profiles.
func (h *CameraHandler) Streams(ctx context.Context, input *CameraPathInput) (*StreamOptionsOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}

	streams, err := o.StreamOptions(ctx)
	if err != nil {
		return nil, huma.Error502BadGateway("failed to list streams", err)
	}

	out := &StreamOptionsOutput{}
	out.Body.Streams = streams
	return out, nil
}

// Settings returns the camera's settings.
func (h *CameraHandler) Settings(ctx context.Context, input *CameraPathInput) (*SettingsOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}

	settings, err := o.Settings(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load settings", err)
	}

	out := &SettingsOutput{}
	out.Body.Settings = settings
	return out, nil
}

// PutSetting stores a setting and restarts the camera's prebuffers.
func (h *CameraHandler) PutSetting(ctx context.Context, input *PutSettingInput) (*SettingsOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}

	if err := o.PutSetting(ctx, input.Key, input.Body.Value); err != nil {
		return nil, mapEngineError("failed to store setting", err)
	}
	observability.LoggerFromContext(ctx).InfoContext(ctx, "camera setting updated",
		slog.String("camera_id", input.CameraID),
		slog.String("key", input.Key),
	)

	return h.Settings(ctx, &CameraPathInput{CameraID: input.CameraID})
}

// Stream returns an input descriptor for the requested stream.
func (h *CameraHandler) Stream(ctx context.Context, input *StreamInput) (*StreamOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}

	container, ok := demux.ParseContainer(input.Container)
	if !ok {
		return nil, huma.Error400BadRequest("unsupported container " + input.Container)
	}

	desc, err := o.VideoStream(ctx, prebuffer.StreamRequest{
		ID:        input.StreamID,
		Container: container,
		Backlog:   time.Duration(input.Backlog) * time.Millisecond,
		Direct:    input.Direct,
	})
	if err != nil {
		return nil, mapEngineError("failed to open stream", err)
	}
	return &StreamOutput{Body: desc}, nil
}

// Diagnostics reports the state of each prebuffered stream.
func (h *CameraHandler) Diagnostics(ctx context.Context, input *CameraPathInput) (*DiagnosticsOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}

	out := &DiagnosticsOutput{}
	out.Body.Online = o.Online()
	out.Body.Streams = o.Diagnostics(ctx)
	return out, nil
}

// Restart cold-restarts every stream of the camera.
func (h *CameraHandler) Restart(ctx context.Context, input *CameraPathInput) (*RestartOutput, error) {
	o, err := h.orchestrator(input.CameraID)
	if err != nil {
		return nil, err
	}
	if err := o.Restart(ctx); err != nil {
		return nil, mapEngineError("failed to restart camera", err)
	}
	return &RestartOutput{}, nil
}

func (h *CameraHandler) orchestrator(id string) (*prebuffer.Orchestrator, error) {
	o, err := h.cameras.Orchestrator(id)
	if errors.Is(err, service.ErrCameraNotFound) {
		return nil, huma.Error404NotFound("camera not found")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up camera", err)
	}
	return o, nil
}

// mapEngineError converts prebuffer errors to HTTP errors.
func mapEngineError(msg string, err error) error {
	switch {
	case errors.Is(err, prebuffer.ErrReleased):
		return huma.Error503ServiceUnavailable("camera has been released", err)
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(msg, err)
	case errors.Is(err, demux.ErrStartTimeout), errors.Is(err, demux.ErrExited):
		return huma.Error502BadGateway(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
