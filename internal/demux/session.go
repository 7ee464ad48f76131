package demux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
)

const defaultStartTimeout = 60 * time.Second

// FFmpegStarter starts ffmpeg-backed sessions. Each container output is
// written by ffmpeg to its own loopback TCP listener.
type FFmpegStarter struct {
	detector *ffmpeg.BinaryDetector
	logLevel string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFFmpegStarter creates a starter from the ffmpeg configuration.
func NewFFmpegStarter(detector *ffmpeg.BinaryDetector, cfg config.FFmpegConfig) *FFmpegStarter {
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	return &FFmpegStarter{
		detector: detector,
		logLevel: cfg.LogLevel,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (s *FFmpegStarter) WithLogger(logger *slog.Logger) *FFmpegStarter {
	s.logger = observability.WithComponent(logger, "demux")
	return s
}

// Start launches ffmpeg and waits until it has described its input.
func (s *FFmpegStarter) Start(ctx context.Context, input Input, opts Options) (Session, error) {
	if len(opts.Containers) == 0 {
		return nil, ErrNoContainers
	}

	path, err := s.detector.Path()
	if err != nil {
		return nil, err
	}

	sess := &ffmpegSession{
		probe:   NewInputProbe(),
		handler: opts.Handler,
		logger:  s.logger,
		done:    make(chan struct{}),
	}
	if sess.handler == nil {
		sess.handler = func(Container, Chunk) {}
	}

	builder := ffmpeg.NewCommandBuilder(path).
		LogLevel(s.logLevel).
		HideBanner().
		InputArgs(input.InputArguments...).
		OnStderr(sess.onStderr)

	for _, c := range opts.Containers {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			sess.closeConns()
			return nil, fmt.Errorf("listening for %s output: %w", c, err)
		}
		sess.listeners = append(sess.listeners, ln)
		builder.Output("tcp://"+ln.Addr().String(), outputArgs(c, opts)...)
	}

	sess.cmd = builder.Build()
	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	s.logger.DebugContext(ctx, "starting ingest process", slog.String("command", sess.cmd.String()))
	if err := sess.cmd.Start(runCtx); err != nil {
		cancel()
		sess.closeConns()
		return nil, err
	}
	sess.active.Store(true)

	for i, c := range opts.Containers {
		sess.wg.Add(1)
		go sess.serve(c, sess.listeners[i])
	}
	go sess.supervise()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.probe.Ready():
		s.logger.InfoContext(ctx, "ingest process started",
			slog.Int("pid", sess.cmd.PID()),
			slog.String("video_codec", sess.InputVideoCodec()),
			slog.String("audio_codec", sess.InputAudioCodec().String()),
		)
		return sess, nil
	case <-sess.done:
		return nil, fmt.Errorf("%w: %s", ErrExited, trimmedTail(sess.cmd.StderrLines(), 5))
	case <-timer.C:
		sess.Kill()
		return nil, ErrStartTimeout
	case <-ctx.Done():
		sess.Kill()
		return nil, ctx.Err()
	}
}

type ffmpegSession struct {
	cmd     *ffmpeg.Command
	cancel  context.CancelFunc
	probe   *InputProbe
	handler Handler
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	conns     []net.Conn

	wg       sync.WaitGroup
	active   atomic.Bool
	killOnce sync.Once
	done     chan struct{}
}

func (s *ffmpegSession) onStderr(line string) {
	s.probe.Feed(line)
	s.logger.Log(context.Background(), observability.LevelTrace, "ffmpeg", slog.String("line", line))
}

// serve accepts ffmpeg's single connection for one container and parses it.
func (s *ffmpegSession) serve(c Container, ln net.Listener) {
	defer s.wg.Done()

	conn, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		if s.IsActive() {
			s.logger.Warn("ingest output never connected", slog.String("container", string(c)), slog.String("error", err.Error()))
			s.Kill()
		}
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	emit := func(chunk Chunk) {
		if chunk.Type == ChunkInit {
			s.inspectInit(chunk)
		}
		s.handler(c, chunk)
	}

	err = parserFor(c)(conn, emit)
	if err != nil && s.IsActive() && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("ingest output parse failed", slog.String("container", string(c)), slog.String("error", err.Error()))
	}
	// Any output ending means the session is over.
	s.Kill()
}

func (s *ffmpegSession) inspectInit(chunk Chunk) {
	tracks, err := InspectInit(chunk)
	if err != nil {
		s.logger.Debug("init segment not inspectable", slog.String("error", err.Error()))
		return
	}
	for _, t := range tracks {
		if t.Video && t.Width > 0 {
			s.probe.setResolution(t.Width, t.Height)
		}
	}
}

// supervise waits for the process to exit and releases resources.
func (s *ffmpegSession) supervise() {
	err := s.cmd.Wait()
	s.active.Store(false)
	s.cancel()
	s.closeConns()
	s.wg.Wait()
	if err != nil {
		s.logger.Debug("ingest process exited", slog.String("error", err.Error()))
	}
	close(s.done)
}

func (s *ffmpegSession) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *ffmpegSession) Done() <-chan struct{} { return s.done }

func (s *ffmpegSession) Kill() {
	s.killOnce.Do(func() {
		s.active.Store(false)
		s.cancel()
		_ = s.cmd.Kill()
		s.closeConns()
	})
}

func (s *ffmpegSession) IsActive() bool { return s.active.Load() }

func (s *ffmpegSession) InputVideoCodec() string { return s.probe.VideoCodec() }

func (s *ffmpegSession) InputAudioCodec() codec.State { return s.probe.AudioCodec() }

func (s *ffmpegSession) InputVideoResolution() (int, int) { return s.probe.Resolution() }

func (s *ffmpegSession) Stats(ctx context.Context) (*ffmpeg.ProcessStats, error) {
	return s.cmd.ProcessStats(ctx)
}
