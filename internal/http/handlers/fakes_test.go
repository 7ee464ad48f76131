package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
	"github.com/jmylchreest/rebroadcastr/internal/models"
	"github.com/jmylchreest/rebroadcastr/internal/prebuffer"
	"github.com/jmylchreest/rebroadcastr/internal/repository"
	"github.com/jmylchreest/rebroadcastr/internal/service"
)

type testSession struct {
	handler demux.Handler
	once    sync.Once
	done    chan struct{}
}

func (s *testSession) Done() <-chan struct{} { return s.done }
func (s *testSession) Kill()                 { s.once.Do(func() { close(s.done) }) }

func (s *testSession) IsActive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *testSession) InputVideoCodec() string          { return "h264" }
func (s *testSession) InputAudioCodec() codec.State     { return codec.Detected(string(codec.AudioAAC)) }
func (s *testSession) InputVideoResolution() (int, int) { return 1280, 720 }

func (s *testSession) Stats(context.Context) (*ffmpeg.ProcessStats, error) {
	return nil, errors.New("no process")
}

func (s *testSession) emit(container demux.Container, typ demux.ChunkType, data string) {
	s.handler(container, demux.Chunk{Type: typ, Data: [][]byte{[]byte(data)}})
}

type testStarter struct {
	mu       sync.Mutex
	err      error
	sessions []*testSession
}

func (f *testStarter) Start(_ context.Context, _ demux.Input, opts demux.Options) (demux.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &testSession{handler: opts.Handler, done: make(chan struct{})}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *testStarter) first() *testSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[0]
}

type testCamera struct {
	id string
}

func (c *testCamera) ID() string           { return c.id }
func (c *testCamera) Name() string         { return "Camera " + c.id }
func (c *testCamera) BatteryPowered() bool { return false }

func (c *testCamera) StreamOptions(context.Context) ([]camera.StreamOptions, error) {
	return []camera.StreamOptions{{
		ID:    "1",
		Name:  "High",
		Video: &camera.VideoOptions{Codec: "h264"},
		Audio: &camera.AudioOptions{Codec: "aac"},
	}}, nil
}

func (c *testCamera) VideoStream(_ context.Context, opts *camera.StreamOptions) (*camera.InputDescriptor, error) {
	return &camera.InputDescriptor{URL: "rtsp://" + c.id + "/" + opts.ID, StreamOptions: opts.Clone()}, nil
}

type testEnv struct {
	svc     *service.CameraService
	alerts  repository.AlertRepository
	starter *testStarter
}

func newTestEnv(t *testing.T, cameraIDs ...string) *testEnv {
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

	cfg := prebuffer.DefaultOrchestratorConfig()
	cfg.StartDelay = time.Hour
	cfg.RestartBackoff = 10 * time.Millisecond
	cfg.Controller.AcceptTimeout = 2 * time.Second

	starter := &testStarter{}
	alerts := repository.NewAlertRepository(db)
	svc, err := service.NewCameraService(cfg, starter, repository.NewSettingRepository(db), alerts, time.Minute, 4)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	for _, id := range cameraIDs {
		_, err := svc.Register(&testCamera{id: id})
		require.NoError(t, err)
	}
	return &testEnv{svc: svc, alerts: alerts, starter: starter}
}
