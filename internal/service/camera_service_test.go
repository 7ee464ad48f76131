package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/models"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/repository"
)

type stubCamera struct {
	id      string
	name    string
	battery bool
	options []camera.StreamOptions
	calls   atomic.Int32
}

func (c *stubCamera) ID() string           { return c.id }
func (c *stubCamera) Name() string         { return c.name }
func (c *stubCamera) BatteryPowered() bool { return c.battery }

func (c *stubCamera) StreamOptions(context.Context) ([]camera.StreamOptions, error) {
	c.calls.Add(1)
	return c.options, nil
}

func (c *stubCamera) VideoStream(_ context.Context, opts *camera.StreamOptions) (*camera.InputDescriptor, error) {
	return &camera.InputDescriptor{URL: "rtsp://" + c.id, StreamOptions: opts.Clone()}, nil
}

type failingStarter struct{}

func (failingStarter) Start(context.Context, demux.Input, demux.Options) (demux.Session, error) {
	return nil, errors.New("no ffmpeg in tests")
}

func newTestService(t *testing.T) (*CameraService, repository.AlertRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Setting{}, &models.Alert{}))

	alerts := repository.NewAlertRepository(db)
	cfg := prebuffer.DefaultOrchestratorConfig()
	cfg.StartDelay = 10 * time.Millisecond
	cfg.RestartBackoff = 10 * time.Millisecond

	svc, err := NewCameraService(cfg, failingStarter{}, repository.NewSettingRepository(db), alerts, time.Minute, 4)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, alerts
}

func TestCameraService_Register(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(&stubCamera{id: "b", name: "Back"})
	require.NoError(t, err)
	_, err = svc.Register(&stubCamera{id: "a", name: "Front"})
	require.NoError(t, err)

	_, err = svc.Register(&stubCamera{id: "a"})
	assert.ErrorIs(t, err, ErrCameraExists)

	o, err := svc.Orchestrator("a")
	require.NoError(t, err)
	assert.Equal(t, "Front", o.Camera().Name())

	_, err = svc.Orchestrator("missing")
	assert.ErrorIs(t, err, ErrCameraNotFound)
}

func TestCameraService_Cameras(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(&stubCamera{id: "b", name: "Back", battery: true})
	require.NoError(t, err)
	_, err = svc.Register(&stubCamera{id: "a", name: "Front", options: []camera.StreamOptions{{ID: "1"}, {ID: "2"}}})
	require.NoError(t, err)

	cams := svc.Cameras(context.Background())
	require.Len(t, cams, 2)
	assert.Equal(t, "a", cams[0].ID)
	assert.Equal(t, 2, cams[0].Streams)
	assert.Equal(t, "b", cams[1].ID)
	assert.True(t, cams[1].BatteryPowered)
}

func TestCameraService_CachesStreamOptions(t *testing.T) {
	svc, _ := newTestService(t)
	cam := &stubCamera{id: "a", options: []camera.StreamOptions{{ID: "1", Name: "High"}}}
	o, err := svc.Register(cam)
	require.NoError(t, err)

	first, err := o.Camera().StreamOptions(context.Background())
	require.NoError(t, err)
	first[0].Name = "changed"

	second, err := o.Camera().StreamOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "High", second[0].Name)
	assert.Equal(t, int32(1), cam.calls.Load())
}

func TestCameraService_RecordsAlerts(t *testing.T) {
	svc, alerts := newTestService(t)
	cam := &stubCamera{id: "a", name: "Porch", options: []camera.StreamOptions{{ID: "1", Name: "Cloud", Source: camera.SourceCloud}}}
	o, err := svc.Register(cam)
	require.NoError(t, err)

	require.NoError(t, o.EnsurePool(context.Background()))

	list, err := alerts.List(context.Background(), "a", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Cloud camera", list[0].Title)
	assert.Contains(t, list[0].Message, "Porch")
}

func TestCameraService_RestartAllAndClose(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(&stubCamera{id: "a", battery: true, options: []camera.StreamOptions{{ID: "1"}}})
	require.NoError(t, err)
	_, err = svc.Register(&stubCamera{id: "b", battery: true})
	require.NoError(t, err)

	require.NoError(t, svc.RestartAll(context.Background()))

	svc.Close()
	assert.Empty(t, svc.Cameras(context.Background()))
	_, err = svc.Orchestrator("a")
	assert.ErrorIs(t, err, ErrCameraNotFound)
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := OrchestratorConfig(config.PrebufferConfig{
		Window:           15 * time.Second,
		StartDelay:       time.Second,
		RestartBackoff:   2 * time.Second,
		IdleTimeout:      3 * time.Second,
		AcceptTimeout:    4 * time.Second,
		RefreshLead:      5 * time.Second,
		MaxBufferedBytes: 1 << 20,
	}, config.FFmpegConfig{StartTimeout: 6 * time.Second})

	assert.Equal(t, time.Second, cfg.StartDelay)
	assert.Equal(t, 2*time.Second, cfg.RestartBackoff)
	assert.Equal(t, 15*time.Second, cfg.Controller.Window)
	assert.Equal(t, 3*time.Second, cfg.Controller.IdleTimeout)
	assert.Equal(t, 4*time.Second, cfg.Controller.AcceptTimeout)
	assert.Equal(t, 5*time.Second, cfg.Controller.RefreshLead)
	assert.Equal(t, int64(1<<20), cfg.Controller.MaxBufferedBytes)
	assert.Equal(t, 6*time.Second, cfg.Controller.StartTimeout)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCameraService_LogsCarryOneComponent(t *testing.T) {
	var out syncBuffer
	svc, _ := newTestService(t)
	svc.WithLogger(slog.New(slog.NewJSONHandler(&out, nil)))

	o, err := svc.Register(&stubCamera{id: "a", name: "Front", options: []camera.StreamOptions{{ID: "1", Name: "High"}}})
	require.NoError(t, err)
	require.NoError(t, o.EnsurePool(context.Background()))
	_, err = o.Controller("").EnsureSession().Wait(context.Background())
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"component":`), line)
	}
	assert.Contains(t, out.String(), `"component":"prebuffer"`)
}
