package prebuffer

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
)

// fakeSession is a demux.Session driven by the test.
type fakeSession struct {
	url     string
	handler demux.Handler
	opts    demux.Options
	audio   codec.State
	video   string

	once sync.Once
	done chan struct{}
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Kill() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSession) IsActive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *fakeSession) InputVideoCodec() string          { return s.video }
func (s *fakeSession) InputAudioCodec() codec.State     { return s.audio }
func (s *fakeSession) InputVideoResolution() (int, int) { return 1920, 1080 }
func (s *fakeSession) Stats(context.Context) (*ffmpeg.ProcessStats, error) {
	return nil, errors.New("no process")
}

// emit delivers a chunk the way the demux parsers do.
func (s *fakeSession) emit(container demux.Container, typ demux.ChunkType, data ...string) {
	chunk := demux.Chunk{Type: typ}
	for _, d := range data {
		chunk.Data = append(chunk.Data, []byte(d))
	}
	s.handler(container, chunk)
}

// fakeStarter records every start and hands out fakeSessions. audio is
// consumed one value per start; the last value repeats.
type fakeStarter struct {
	mu       sync.Mutex
	audio    []codec.State
	video    string
	err      error
	sessions []*fakeSession
}

func (f *fakeStarter) Start(_ context.Context, input demux.Input, opts demux.Options) (demux.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	audio := codec.Absent()
	if n := len(f.sessions); len(f.audio) > 0 {
		audio = f.audio[min(n, len(f.audio)-1)]
	}
	video := f.video
	if video == "" {
		video = "h264"
	}
	s := &fakeSession{url: input.URL, handler: opts.Handler, opts: opts, audio: audio, video: video, done: make(chan struct{})}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStarter) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// active returns the urls of running sessions.
func (f *fakeStarter) active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sessions {
		if s.IsActive() {
			out = append(out, s.url)
		}
	}
	return out
}

func (f *fakeStarter) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

// fakeCamera serves fixed stream options.
type fakeCamera struct {
	id      string
	name    string
	battery bool
	options []camera.StreamOptions

	mu       sync.Mutex
	requests []string
}

func (c *fakeCamera) ID() string           { return c.id }
func (c *fakeCamera) Name() string         { return c.name }
func (c *fakeCamera) BatteryPowered() bool { return c.battery }

func (c *fakeCamera) StreamOptions(context.Context) ([]camera.StreamOptions, error) {
	out := make([]camera.StreamOptions, len(c.options))
	for i := range c.options {
		out[i] = *c.options[i].Clone()
	}
	return out, nil
}

func (c *fakeCamera) VideoStream(_ context.Context, opts *camera.StreamOptions) (*camera.InputDescriptor, error) {
	id := ""
	if opts != nil {
		id = opts.ID
	}
	c.mu.Lock()
	c.requests = append(c.requests, id)
	c.mu.Unlock()

	url := "rtsp://" + c.id + "/" + id
	return &camera.InputDescriptor{
		URL:            url,
		Container:      "rtsp",
		InputArguments: []string{"-i", url},
		StreamOptions:  opts.Clone(),
	}, nil
}

func (c *fakeCamera) directRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

// memStore is an in-memory Storage.
type memStore struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemStore(kv ...string) *memStore {
	s := &memStore{items: make(map[string]string)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.items[kv[i]] = kv[i+1]
	}
	return s
}

func (s *memStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *memStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

type alertRecorder struct {
	mu     sync.Mutex
	titles []string
}

func (r *alertRecorder) Alert(_ context.Context, title, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
}

func (r *alertRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func testControllerConfig() ControllerConfig {
	cfg := DefaultControllerConfig()
	cfg.AcceptTimeout = 2 * time.Second
	cfg.IdleTimeout = time.Second
	return cfg
}

// dial connects to a descriptor URL of the form tcp://host:port.
func dial(t *testing.T, url string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", strings.TrimPrefix(url, "tcp://"), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readN reads exactly n bytes or fails.
func readN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}
