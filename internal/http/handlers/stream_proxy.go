package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/service"
)

const (
	loopbackScheme = "tcp://"
	dialTimeout    = 5 * time.Second
	copyBufferSize = 32 * 1024
)

// Response headers describing the prebuffered stream.
const (
	HeaderStreamContainer = "X-Stream-Container"
	HeaderPrebufferMillis = "X-Prebuffer-Ms"
)

var contentTypes = map[demux.Container]string{
	demux.ContainerMPEGTS: "video/mp2t",
	demux.ContainerMP4:    "video/mp4",
	demux.ContainerPCM:    "application/octet-stream",
}

// StreamProxyHandler relays a prebuffered stream over HTTP for clients that
// cannot connect to the loopback endpoint themselves.
type StreamProxyHandler struct {
	cameras CameraRegistry
	logger  *slog.Logger
}

// NewStreamProxyHandler creates a new stream proxy handler.
func NewStreamProxyHandler(cameras CameraRegistry) *StreamProxyHandler {
	return &StreamProxyHandler{cameras: cameras, logger: slog.Default()}
}

// WithLogger sets the logger for the handler.
func (h *StreamProxyHandler) WithLogger(logger *slog.Logger) *StreamProxyHandler {
	h.logger = observability.WithComponent(logger, "stream_proxy")
	return h
}

// RegisterChiRoutes registers the raw media route. Huma cannot stream an
// unbounded body, so the route bypasses it.
func (h *StreamProxyHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{cameraId}/{container}", h.handleRawStream)
}

// RegisterDocs documents the raw route in the OpenAPI description.
func (h *StreamProxyHandler) RegisterDocs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "streamCamera",
		Method:      "GET",
		Path:        "/stream/{cameraId}/{container}",
		Summary:     "Stream a prebuffered camera",
		Description: "Replays the requested backlog, then relays the live stream until the client disconnects. Query parameters: streamId, backlog (ms).",
		Tags:        []string{"Cameras"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Media stream",
				Headers: map[string]*huma.Param{
					"Content-Type":        {Description: "video/mp2t, video/mp4 or application/octet-stream"},
					HeaderStreamContainer: {Description: "Output container"},
					HeaderPrebufferMillis: {Description: "Replayed history in milliseconds"},
				},
			},
			"400": {Description: "Unsupported container or backlog"},
			"404": {Description: "Camera not found"},
			"409": {Description: "Stream is not prebuffered"},
			"502": {Description: "Ingest session failed to start"},
		},
	}, func(context.Context, *StreamDocsInput) (*struct{}, error) {
		return nil, huma.Error500InternalServerError("this endpoint is handled by a raw route", nil)
	})
}

// StreamDocsInput documents the raw route parameters.
type StreamDocsInput struct {
	CameraID  string `path:"cameraId" doc:"Camera ID"`
	Container string `path:"container" enum:"mpegts,mp4,s16le" doc:"Output container"`
	StreamID  string `query:"streamId" doc:"Stream profile ID"`
	Backlog   int64  `query:"backlog" doc:"History to replay in milliseconds"`
}

func (h *StreamProxyHandler) handleRawStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cameraID := chi.URLParam(r, "cameraId")

	container, ok := demux.ParseContainer(chi.URLParam(r, "container"))
	if !ok {
		http.Error(w, "unsupported container", http.StatusBadRequest)
		return
	}

	var backlog time.Duration
	if v := r.URL.Query().Get("backlog"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			http.Error(w, "invalid backlog", http.StatusBadRequest)
			return
		}
		backlog = time.Duration(ms) * time.Millisecond
	}

	o, err := h.cameras.Orchestrator(cameraID)
	if errors.Is(err, service.ErrCameraNotFound) {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	desc, err := o.VideoStream(ctx, prebuffer.StreamRequest{
		ID:        r.URL.Query().Get("streamId"),
		Container: container,
		Backlog:   backlog,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, prebuffer.ErrReleased) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	if !strings.HasPrefix(desc.URL, loopbackScheme) {
		http.Error(w, "stream is not prebuffered", http.StatusConflict)
		return
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", strings.TrimPrefix(desc.URL, loopbackScheme))
	if err != nil {
		http.Error(w, "prebuffer endpoint unavailable", http.StatusBadGateway)
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", contentTypes[container])
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(HeaderStreamContainer, string(container))
	if desc.StreamOptions != nil {
		w.Header().Set(HeaderPrebufferMillis, strconv.FormatInt(desc.StreamOptions.Prebuffer, 10))
	}
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With(
		slog.String("camera_id", cameraID),
		slog.String("container", string(container)),
		slog.String("request_id", observability.RequestIDFromContext(ctx)),
	)
	logger.InfoContext(ctx, "stream proxy started")

	n, err := relay(w, rc, conn)
	if err != nil && ctx.Err() == nil {
		logger.WarnContext(ctx, "stream proxy ended with error",
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.InfoContext(ctx, "stream proxy ended", slog.Int64("bytes", n))
}

// relay copies src to w, flushing after every read so live data is not
// held in the response buffer.
func relay(w io.Writer, rc *http.ResponseController, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return total, ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
