package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/models"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/repository"
)

// ErrCameraNotFound is returned when a camera id is not registered.
var ErrCameraNotFound = errors.New("camera not found")

// ErrCameraExists is returned when a camera id is registered twice.
var ErrCameraExists = errors.New("camera already registered")

// maxCachedCameras bounds the stream option cache.
const maxCachedCameras = 1024

// CameraStatus summarises one registered camera.
type CameraStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BatteryPowered bool   `json:"battery_powered"`
	Online         bool   `json:"online"`
	Streams        int    `json:"streams"`
}

// CameraService owns one prebuffer orchestrator per camera.
type CameraService struct {
	cfg      prebuffer.OrchestratorConfig
	starter  demux.Starter
	settings repository.SettingRepository
	alerts   repository.AlertRepository
	logger   *slog.Logger

	// base is the injected logger, untagged, for orchestrators.
	base *slog.Logger

	registry *xsync.MapOf[string, *prebuffer.Orchestrator]
	options  *otter.Cache[string, []camera.StreamOptions]
	pool     *ants.Pool
}

// OrchestratorConfig maps the application configuration onto the engine's.
func OrchestratorConfig(pb config.PrebufferConfig, ff config.FFmpegConfig) prebuffer.OrchestratorConfig {
	cfg := prebuffer.DefaultOrchestratorConfig()
	cfg.StartDelay = pb.StartDelay
	cfg.RestartBackoff = pb.RestartBackoff
	cfg.Controller.Window = pb.Window
	cfg.Controller.IdleTimeout = pb.IdleTimeout
	cfg.Controller.AcceptTimeout = pb.AcceptTimeout
	cfg.Controller.RefreshLead = pb.RefreshLead
	cfg.Controller.MaxBufferedBytes = pb.MaxBufferedBytes.Bytes()
	if ff.StartTimeout > 0 {
		cfg.Controller.StartTimeout = ff.StartTimeout
	}
	return cfg
}

// NewCameraService creates the service. cacheTTL bounds how long camera
// stream options are reused; workers sizes the background task pool.
func NewCameraService(
	cfg prebuffer.OrchestratorConfig,
	starter demux.Starter,
	settings repository.SettingRepository,
	alerts repository.AlertRepository,
	cacheTTL time.Duration,
	workers int,
) (*CameraService, error) {
	pool, err := ants.NewPool(workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	opts := &otter.Options[string, []camera.StreamOptions]{MaximumSize: maxCachedCameras}
	if cacheTTL > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[string, []camera.StreamOptions](cacheTTL)
	}
	cache, err := otter.New(opts)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("creating stream option cache: %w", err)
	}

	return &CameraService{
		cfg:      cfg,
		starter:  starter,
		settings: settings,
		alerts:   alerts,
		logger:   slog.Default(),
		base:     slog.Default(),
		registry: xsync.NewMapOf[string, *prebuffer.Orchestrator](),
		options:  cache,
		pool:     pool,
	}, nil
}

// WithLogger sets the logger for the service.
func (s *CameraService) WithLogger(logger *slog.Logger) *CameraService {
	s.base = logger
	s.logger = observability.WithComponent(logger, "cameras")
	return s
}

// Register adds a camera and creates its orchestrator. Nothing starts
// until Start is called.
func (s *CameraService) Register(cam camera.Camera) (*prebuffer.Orchestrator, error) {
	id := cam.ID()
	o := prebuffer.NewOrchestrator(
		&cachedCamera{Camera: cam, cache: s.options},
		s.starter,
		repository.NewScopedSettings(s.settings, id),
		s.cfg,
	).
		WithLogger(s.base).
		WithAlerts(s.alertSink(id)).
		WithSubmitter(s.submit)

	if _, loaded := s.registry.LoadOrStore(id, o); loaded {
		return nil, fmt.Errorf("registering %s: %w", id, ErrCameraExists)
	}
	o.OnOnlineChange(func(online bool) {
		s.logger.Info("camera online state changed",
			slog.String("camera_id", id),
			slog.Bool("online", online),
		)
	})

	s.logger.Info("camera registered",
		slog.String("camera_id", id),
		slog.String("camera_name", cam.Name()),
		slog.Bool("battery_powered", cam.BatteryPowered()),
	)
	return o, nil
}

// Start schedules the delayed start of every registered camera.
func (s *CameraService) Start() {
	s.registry.Range(func(_ string, o *prebuffer.Orchestrator) bool {
		o.Start()
		return true
	})
}

// Orchestrator returns the orchestrator for a camera.
func (s *CameraService) Orchestrator(id string) (*prebuffer.Orchestrator, error) {
	o, ok := s.registry.Load(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrCameraNotFound)
	}
	return o, nil
}

// Cameras lists every registered camera ordered by id.
func (s *CameraService) Cameras(ctx context.Context) []CameraStatus {
	var out []CameraStatus
	s.registry.Range(func(id string, o *prebuffer.Orchestrator) bool {
		cam := o.Camera()
		status := CameraStatus{
			ID:             id,
			Name:           cam.Name(),
			BatteryPowered: cam.BatteryPowered(),
			Online:         o.Online(),
		}
		if options, err := cam.StreamOptions(ctx); err == nil {
			status.Streams = len(options)
		} else {
			observability.WithError(s.logger, err).Debug("stream options unavailable", slog.String("camera_id", id))
		}
		out = append(out, status)
		return true
	})
	slices.SortFunc(out, func(a, b CameraStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// RestartAll cold-restarts every camera's pool.
func (s *CameraService) RestartAll(ctx context.Context) error {
	done := observability.TimedOperation(ctx, s.logger, "restart_pools")
	defer done()

	g, gctx := errgroup.WithContext(ctx)
	s.registry.Range(func(id string, o *prebuffer.Orchestrator) bool {
		// Invalidate so rebuilt pools see fresh stream options.
		s.options.Invalidate(id)
		g.Go(func() error {
			if err := o.Restart(gctx); err != nil {
				return fmt.Errorf("restarting %s: %w", id, err)
			}
			return nil
		})
		return true
	})
	return g.Wait()
}

// Close releases every orchestrator and stops the worker pool.
func (s *CameraService) Close() {
	s.registry.Range(func(id string, o *prebuffer.Orchestrator) bool {
		o.Release()
		s.registry.Delete(id)
		return true
	})
	s.pool.Release()
}

// submit runs fn on the worker pool, falling back to a goroutine when the
// pool is saturated or closed.
func (s *CameraService) submit(fn func()) {
	if err := s.pool.Submit(fn); err != nil {
		s.logger.Debug("worker pool unavailable, running task inline", slog.String("error", err.Error()))
		go fn()
	}
}

// alertSink records alerts for a camera.
func (s *CameraService) alertSink(cameraID string) prebuffer.AlertSink {
	return prebuffer.AlertFunc(func(ctx context.Context, title, message string) {
		// Alerts outlive the request that raised them.
		ctx = context.WithoutCancel(ctx)
		err := s.alerts.Create(ctx, &models.Alert{CameraID: cameraID, Title: title, Message: message})
		if err != nil {
			observability.WithError(s.logger, err).Warn("recording alert",
				slog.String("camera_id", cameraID),
				slog.String("title", title),
			)
		}
	})
}
