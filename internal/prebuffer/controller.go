// Package prebuffer implements the rebroadcast engine: per-stream ingest
// controllers that keep a rolling window of demuxed chunks, loopback
// distribution servers that replay that window to new viewers, and the
// orchestrator that supervises one controller per camera stream.
package prebuffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
	"github.com/jmylchreest/rebroadcastr/internal/metrics"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
)

const (
	defaultKeyframeBacklog = 4000 * time.Millisecond
	minProbeSize           = 500_000
	minRefreshDelay        = time.Second
	refreshTimeout         = 30 * time.Second
)

// Backlog multiplier applied to the keyframe interval so a viewer always
// receives at least one keyframe.
const keyframeBacklogFactor = 1.5

// ErrReleased is returned once a controller or orchestrator has been torn down.
var ErrReleased = errors.New("prebuffer released")

// ControllerConfig holds the timing and limits of a controller.
type ControllerConfig struct {
	// Window is the prebuffer duration used when none is stored.
	Window           time.Duration
	IdleTimeout      time.Duration
	AcceptTimeout    time.Duration
	RefreshLead      time.Duration
	StartTimeout     time.Duration
	MaxBufferedBytes int64
}

// DefaultControllerConfig returns the standard timings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Window:           10 * time.Second,
		IdleTimeout:      30 * time.Second,
		AcceptTimeout:    30 * time.Second,
		RefreshLead:      30 * time.Second,
		StartTimeout:     60 * time.Second,
		MaxBufferedBytes: 100_000_000,
	}
}

// AlertSink receives user-facing alerts.
type AlertSink interface {
	Alert(ctx context.Context, title, message string)
}

// AlertFunc adapts a function to AlertSink.
type AlertFunc func(ctx context.Context, title, message string)

// Alert calls f.
func (f AlertFunc) Alert(ctx context.Context, title, message string) {
	f(ctx, title, message)
}

type discardAlerts struct{}

func (discardAlerts) Alert(context.Context, string, string) {}

// StartState is the controller's session start token.
type StartState int

const (
	NotStarted StartState = iota
	Starting
	Started
)

func (s StartState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Started:
		return "started"
	default:
		return "not_started"
	}
}

// StartHandle is an in-flight session start shared by concurrent callers.
type StartHandle struct {
	done    chan struct{}
	session demux.Session
	err     error
}

func newStartHandle() *StartHandle {
	return &StartHandle{done: make(chan struct{})}
}

func (h *StartHandle) resolve(session demux.Session, err error) {
	h.session, h.err = session, err
	close(h.done)
}

// Done is closed when the start attempt has finished.
func (h *StartHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the start attempt finishes or ctx is cancelled.
func (h *StartHandle) Wait(ctx context.Context) (demux.Session, error) {
	select {
	case <-h.done:
		return h.session, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StreamRequest describes a viewer's stream request.
type StreamRequest struct {
	ID        string
	Container demux.Container
	// Backlog is the history to replay. Zero selects the keyframe policy.
	Backlog time.Duration
	// Direct bypasses the prebuffer and returns the camera's own stream.
	Direct bool
}

// Controller owns the ingest session of one camera stream, its prebuffer
// rings, and the viewers subscribed to it.
type Controller struct {
	cam          camera.Camera
	starter      demux.Starter
	store        Storage
	alerts       AlertSink
	streamID     string
	streamName   string
	stopInactive bool
	cfg          ControllerConfig
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	start         *StartHandle
	session       demux.Session
	gen           uint64
	descriptor    *camera.InputDescriptor
	settings      StreamSettings
	plan          Plan
	negotiation   NegotiationState
	rings         map[demux.Container]*Ring
	inits         map[demux.Container]demux.Chunk
	subs          map[demux.Container]map[string]*viewer
	activeViewers int
	idleTimer     *time.Timer
	refreshTimer  *time.Timer

	detectedAudio  codec.State
	detectedVideo  string
	width, height  int
	lastAdvertised codec.State
	advertisedSeen bool
	idrInterval    time.Duration
	prevIDR        time.Time
}

// NewController creates a controller for one camera stream. No session is
// started until EnsureSession is called.
func NewController(cam camera.Camera, starter demux.Starter, store Storage, streamID, streamName string, stopInactive bool, cfg ControllerConfig) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cam:          cam,
		starter:      starter,
		store:        store,
		alerts:       discardAlerts{},
		streamID:     streamID,
		streamName:   streamName,
		stopInactive: stopInactive,
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		rings:        make(map[demux.Container]*Ring, len(demux.Containers)),
		inits:        make(map[demux.Container]demux.Chunk),
		subs:         make(map[demux.Container]map[string]*viewer, len(demux.Containers)),
	}
	for _, container := range demux.Containers {
		c.rings[container] = NewRing(cfg.Window)
		c.subs[container] = make(map[string]*viewer)
	}
	c.WithLogger(slog.Default())
	return c
}

// WithLogger sets the logger.
func (c *Controller) WithLogger(logger *slog.Logger) *Controller {
	c.logger = observability.WithStream(observability.WithComponent(logger, "prebuffer"), c.streamID, c.streamName)
	return c
}

// WithAlerts sets the alert sink.
func (c *Controller) WithAlerts(alerts AlertSink) *Controller {
	if alerts != nil {
		c.alerts = alerts
	}
	return c
}

// StreamID returns the stream this controller serves.
func (c *Controller) StreamID() string { return c.streamID }

// StreamName returns the stream's display name.
func (c *Controller) StreamName() string { return c.streamName }

// StopInactive reports whether the session is killed when no viewers remain.
func (c *Controller) StopInactive() bool { return c.stopInactive }

// StartState reports the current start token.
func (c *Controller) StartState() StartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.session != nil:
		return Started
	case c.start != nil:
		return Starting
	default:
		return NotStarted
	}
}

// ActiveViewers returns the number of connected viewers.
func (c *Controller) ActiveViewers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeViewers
}

// Negotiation returns the audio negotiation state.
func (c *Controller) Negotiation() NegotiationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiation
}

// EnsureSession starts a session unless one is starting or running, and
// returns the handle callers can wait on. It returns nil once closed.
func (c *Controller) EnsureSession() *StartHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.start != nil {
		return c.start
	}

	c.logger.Info("prebuffer session starting")
	h := newStartHandle()
	c.start = h
	go c.runStart(h)
	return h
}

func (c *Controller) runStart(h *StartHandle) {
	session, err := c.startSession(c.ctx)
	if err != nil {
		c.mu.Lock()
		if c.start == h {
			c.start = nil
		}
		c.mu.Unlock()

		metrics.SessionStarts.WithLabelValues(c.cam.ID(), c.streamID, "error").Inc()
		observability.WithError(c.logger, err).Warn("prebuffer session failed to start")
		h.resolve(nil, err)
		return
	}

	metrics.SessionStarts.WithLabelValues(c.cam.ID(), c.streamID, "ok").Inc()
	metrics.ActiveSessions.WithLabelValues(c.cam.ID(), c.streamID).Set(1)
	go c.watch(h, session)
	h.resolve(session, nil)
}

// startSession negotiates audio, starts the demux session, and restarts it
// once when the first start only probed the audio codec.
func (c *Controller) startSession(ctx context.Context) (demux.Session, error) {
	c.mu.Lock()
	c.clearBuffersLocked()
	c.mu.Unlock()

	settings, err := LoadStreamSettings(ctx, c.store, c.streamID, c.cfg.Window)
	if err != nil {
		return nil, err
	}

	for probed := false; ; probed = true {
		mso := c.fetchStreamOptions(ctx)
		plan := c.negotiate(ctx, settings.AudioMode, mso)

		desc, err := c.cam.VideoStream(ctx, mso)
		if err != nil {
			return nil, fmt.Errorf("fetching input descriptor: %w", err)
		}

		containers := []demux.Container{demux.ContainerMP4, demux.ContainerMPEGTS}
		if plan.PCMParser {
			containers = append(containers, demux.ContainerPCM)
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrReleased
		}
		c.gen++
		gen := c.gen
		c.negotiation = plan.State()
		c.mu.Unlock()

		handler := c.chunkHandler(gen)
		if plan.Probing {
			handler = func(demux.Container, demux.Chunk) {}
		}

		session, err := c.starter.Start(ctx, demux.Input{
			URL:            desc.URL,
			InputArguments: concat(settings.InputArgumentList(), desc.InputArguments),
		}, demux.Options{
			Containers: containers,
			VideoArgs:  plan.VideoArgs,
			AudioArgs:  plan.AudioArgs,
			Timeout:    c.cfg.StartTimeout,
			Handler:    handler,
		})
		if err != nil {
			return nil, fmt.Errorf("starting ingest session: %w", err)
		}

		c.recordDetected(ctx, session, !probed)

		if plan.Probing && !probed {
			c.logger.Warn("audio probe complete, restarting with detected codecs")
			metrics.SessionStarts.WithLabelValues(c.cam.ID(), c.streamID, "probe_restart").Inc()
			session.Kill()
			select {
			case <-session.Done():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			session.Kill()
			return nil, ErrReleased
		}
		c.session = session
		c.settings = settings
		c.plan = plan
		c.descriptor = desc.Clone()
		c.negotiation = Resolved
		for _, r := range c.rings {
			r.SetWindow(settings.PrebufferDuration)
		}
		if desc.StreamOptions != nil {
			c.scheduleRefreshLocked(session, desc.StreamOptions)
		}
		c.mu.Unlock()

		return session, nil
	}
}

// fetchStreamOptions returns the camera's options for this stream. Lookup
// failures are tolerated; the stream is then started without advertised codecs.
func (c *Controller) fetchStreamOptions(ctx context.Context) *camera.StreamOptions {
	options, err := c.cam.StreamOptions(ctx)
	if err != nil {
		observability.WithError(c.logger, err).Debug("stream options unavailable")
		return nil
	}
	for i := range options {
		if options[i].ID == c.streamID {
			return options[i].Clone()
		}
	}
	return nil
}

func (c *Controller) negotiate(ctx context.Context, mode AudioMode, mso *camera.StreamOptions) Plan {
	advertised := mso.AdvertisedAudio()

	c.mu.Lock()
	if c.advertisedSeen && advertised != c.lastAdvertised {
		c.logger.Info("camera reported a different audio codec, renegotiating",
			slog.String("previous", c.lastAdvertised.String()),
			slog.String("current", advertised.String()),
		)
		c.detectedAudio = codec.Unknown()
		c.negotiation = Unprobed
	}
	c.lastAdvertised, c.advertisedSeen = advertised, true
	detected := c.detectedAudio
	c.mu.Unlock()

	plan := Negotiate(NegotiationInput{
		Mode:       mode,
		Advertised: advertised,
		Detected:   detected,
		CameraName: c.cam.Name(),
	})
	c.emit(ctx, plan.Warnings)
	return plan
}

func (c *Controller) recordDetected(ctx context.Context, session demux.Session, warnVideo bool) {
	audio := session.InputAudioCodec()
	switch {
	case audio.IsAbsent():
		c.logger.Info("no audio stream detected")
	case audio.IsUnknown():
		// Never probe twice.
		audio = codec.Absent()
	case !codec.IsCompatibleAudio(audio.Name()):
		c.logger.Info("detected audio codec is not mp4/mpegts compatible", slog.String("audio_codec", audio.Name()))
	default:
		c.logger.Info("detected audio codec is mp4/mpegts compatible", slog.String("audio_codec", audio.Name()))
	}

	video := session.InputVideoCodec()
	width, height := session.InputVideoResolution()

	c.mu.Lock()
	c.detectedAudio = audio
	c.detectedVideo = video
	c.width, c.height = width, height
	c.mu.Unlock()

	if w, ok := VideoWarning(video); ok && warnVideo {
		c.emit(ctx, []Warning{w})
	}
}

func (c *Controller) emit(ctx context.Context, warnings []Warning) {
	for _, w := range warnings {
		c.logger.WarnContext(ctx, w.Message)
		if w.Alert {
			metrics.Alerts.WithLabelValues(c.cam.ID()).Inc()
			c.alerts.Alert(ctx, w.Title, w.Message)
		}
	}
}

// chunkHandler appends chunks from session generation gen to the rings and
// forwards them to subscribed viewers in one step.
func (c *Controller) chunkHandler(gen uint64) demux.Handler {
	camID := c.cam.ID()
	return func(container demux.Container, chunk demux.Chunk) {
		now := time.Now()

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}

		// One mdat per fragment; fragments start on keyframes.
		if chunk.Type == demux.ChunkMdat {
			if !c.prevIDR.IsZero() {
				c.idrInterval = now.Sub(c.prevIDR)
			}
			c.prevIDR = now
		}

		ring := c.rings[container]
		if chunk.Type == demux.ChunkInit {
			c.inits[container] = chunk
		} else if ring != nil {
			ring.Append(chunk, now)
			metrics.BufferedBytes.WithLabelValues(camID, c.streamID, string(container)).Set(float64(ring.Bytes()))
		}
		metrics.BytesIngested.WithLabelValues(camID, c.streamID, string(container)).Add(float64(chunk.Len()))

		for _, v := range c.subs[container] {
			v.enqueue(chunk)
		}
	}
}

// watch clears the session once it ends and drops its viewers.
func (c *Controller) watch(h *StartHandle, session demux.Session) {
	<-session.Done()

	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	if c.start == h {
		c.start = nil
	}
	c.stopTimersLocked()
	var viewers []*viewer
	for _, subs := range c.subs {
		for _, v := range subs {
			viewers = append(viewers, v)
		}
	}
	c.mu.Unlock()

	metrics.ActiveSessions.WithLabelValues(c.cam.ID(), c.streamID).Set(0)
	c.logger.Info("prebuffer session ended", slog.Int("viewers_dropped", len(viewers)))

	for _, v := range viewers {
		v.teardown(dropSessionEnded)
	}
}

func (c *Controller) scheduleRefreshLocked(session demux.Session, opts *camera.StreamOptions) {
	if opts == nil || opts.RefreshAt <= 0 {
		return
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}

	delay := time.Until(time.UnixMilli(opts.RefreshAt)) - c.cfg.RefreshLead
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	c.logger.Info("refreshing media stream", slog.Duration("in", delay))

	next := opts.Clone()
	c.refreshTimer = time.AfterFunc(delay, func() { c.refresh(session, next) })
}

// refresh renews a time-limited stream URL while the session is running.
func (c *Controller) refresh(session demux.Session, opts *camera.StreamOptions) {
	if !session.IsActive() {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, refreshTimeout)
	defer cancel()
	desc, err := c.cam.VideoStream(ctx, opts)
	if err != nil {
		observability.WithError(c.logger, err).Warn("media stream refresh failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session {
		return
	}
	c.descriptor = desc.Clone()
	c.scheduleRefreshLocked(session, desc.StreamOptions)
}

// idleCheckLocked arms the idle countdown when the stream stops on
// inactivity and nobody is watching.
func (c *Controller) idleCheckLocked() {
	c.logger.Debug("active rebroadcast viewers", slog.Int("viewers", c.activeViewers))
	if !c.stopInactive || c.activeViewers > 0 || c.session == nil {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}

	session := c.session
	c.idleTimer = time.AfterFunc(c.cfg.IdleTimeout, func() {
		c.mu.Lock()
		idle := c.activeViewers == 0 && c.session == session
		c.mu.Unlock()
		if !idle {
			return
		}
		c.logger.Info("terminating rebroadcast due to inactivity")
		session.Kill()
	})
}

func (c *Controller) idleCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleCheckLocked()
}

func (c *Controller) stopTimersLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Controller) clearBuffersLocked() {
	for container, r := range c.rings {
		r.Clear()
		metrics.BufferedBytes.WithLabelValues(c.cam.ID(), c.streamID, string(container)).Set(0)
	}
	c.inits = make(map[demux.Container]demux.Chunk)
	c.prevIDR = time.Time{}
}

// ClearBuffers drops all buffered chunks.
func (c *Controller) ClearBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearBuffersLocked()
}

// Kill ends the running session, if any. The controller stays usable.
func (c *Controller) Kill() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Kill()
	}
}

// Close releases the controller: any in-flight start is abandoned, the
// session is killed, and buffers are cleared.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	session := c.session
	c.session = nil
	c.start = nil
	c.stopTimersLocked()
	c.clearBuffersLocked()
	c.mu.Unlock()

	if session != nil {
		c.logger.Info("prebuffer released")
		session.Kill()
	}
}

// VideoStream ensures the session is running and opens a distribution
// server for the requested container, returning a descriptor that points
// ffmpeg-compatible consumers at it.
func (c *Controller) VideoStream(ctx context.Context, req StreamRequest) (*camera.InputDescriptor, error) {
	h := c.EnsureSession()
	if h == nil {
		return nil, ErrReleased
	}
	session, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	container := req.Container
	if _, ok := demux.ParseContainer(string(container)); !ok {
		container = demux.ContainerMPEGTS
	}

	c.mu.Lock()
	settings := c.settings
	plan := c.plan
	idr := c.idrInterval
	audio := c.detectedAudio
	width, height := c.width, c.height
	var opts *camera.StreamOptions
	if c.descriptor != nil {
		opts = c.descriptor.StreamOptions.Clone()
	}

	backlog := req.Backlog
	if backlog <= 0 && settings.SendKeyframe {
		backlog = keyframeBacklog(idr)
	}
	available := c.rings[container].AvailableBytes(time.Now().Add(-backlog))
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "prebuffer request started",
		slog.String("container", string(container)),
		slog.Duration("backlog", backlog),
	)

	probeSize := strconv.FormatInt(max(minProbeSize, available), 10)

	url, err := c.openServer(session, container, backlog)
	if err != nil {
		return nil, err
	}
	args := []string{"-analyzeduration", "0", "-probesize", probeSize, "-f", string(container), "-i", url}

	if plan.PCMParser {
		pcmURL, err := c.openServer(session, demux.ContainerPCM, backlog)
		if err != nil {
			return nil, err
		}
		args = append(args, "-analyzeduration", "0", "-probesize", probeSize, "-f", string(demux.ContainerPCM), "-i", pcmURL)
	}

	if opts == nil {
		opts = &camera.StreamOptions{ID: c.streamID, Name: c.streamName}
	}
	opts.Prebuffer = backlog.Milliseconds()
	switch {
	case plan.AudioDisabled:
		opts.Audio = nil
	case plan.Transcode:
		opts.Audio = &camera.AudioOptions{Codec: string(codec.AudioAAC), Encoder: "libfdk_aac", Profile: "aac_low"}
	default:
		opts.Audio = &camera.AudioOptions{Codec: audio.Name()}
	}
	if opts.Video != nil && width > 0 && height > 0 {
		opts.Video.Width, opts.Video.Height = width, height
	}

	return &camera.InputDescriptor{
		URL:            url,
		Container:      string(container),
		InputArguments: args,
		StreamOptions:  opts,
	}, nil
}

// keyframeBacklog replays one and a half keyframe intervals, never less
// than the default interval.
func keyframeBacklog(idr time.Duration) time.Duration {
	if idr <= 0 {
		idr = defaultKeyframeBacklog
	}
	return time.Duration(float64(max(defaultKeyframeBacklog, idr)) * keyframeBacklogFactor)
}

// Diagnostics is a point-in-time view of a controller.
type Diagnostics struct {
	StreamID         string               `json:"stream_id"`
	StreamName       string               `json:"stream_name"`
	State            string               `json:"state"`
	Negotiation      string               `json:"negotiation"`
	StopInactive     bool                 `json:"stop_inactive"`
	VideoCodec       string               `json:"video_codec"`
	AudioCodec       string               `json:"audio_codec"`
	Width            int                  `json:"width,omitempty"`
	Height           int                  `json:"height,omitempty"`
	BitrateKbps      int64                `json:"bitrate_kbps"`
	KeyframeInterval time.Duration        `json:"keyframe_interval_ns"`
	Viewers          int                  `json:"viewers"`
	BufferedBytes    map[string]int64     `json:"buffered_bytes"`
	Process          *ffmpeg.ProcessStats `json:"process,omitempty"`

	TransportStreams []demux.ElementaryStream `json:"transport_streams,omitempty"`
}

// maxInspectBytes bounds the MPEG-TS history scanned for a PMT.
const maxInspectBytes = 1 << 20

// Diagnostics reports the controller's current state.
func (c *Controller) Diagnostics(ctx context.Context) Diagnostics {
	now := time.Now()

	c.mu.Lock()
	d := Diagnostics{
		StreamID:         c.streamID,
		StreamName:       c.streamName,
		Negotiation:      c.negotiation.String(),
		StopInactive:     c.stopInactive,
		VideoCodec:       c.detectedVideo,
		AudioCodec:       c.detectedAudio.String(),
		Width:            c.width,
		Height:           c.height,
		BitrateKbps:      c.rings[demux.ContainerMP4].Bitrate(now),
		KeyframeInterval: c.idrInterval,
		Viewers:          c.activeViewers,
		BufferedBytes:    make(map[string]int64, len(c.rings)),
	}
	for container, r := range c.rings {
		d.BufferedBytes[string(container)] = r.Bytes()
	}
	var tsHistory []Entry
	if r := c.rings[demux.ContainerMPEGTS]; r != nil {
		tsHistory = r.Snapshot(time.Time{})
	}
	session := c.session
	switch {
	case session != nil:
		d.State = Started.String()
	case c.start != nil:
		d.State = Starting.String()
	default:
		d.State = NotStarted.String()
	}
	c.mu.Unlock()

	if session != nil {
		if stats, err := session.Stats(ctx); err == nil {
			d.Process = stats
		}
	}
	if data := joinEntries(tsHistory, maxInspectBytes); len(data) > 0 {
		if streams, err := demux.DescribeTransportStream(ctx, data); err == nil {
			d.TransportStreams = streams
		}
	}
	return d
}

// joinEntries concatenates entry payloads up to limit bytes.
func joinEntries(entries []Entry, limit int) []byte {
	var buf []byte
	for _, e := range entries {
		for _, part := range e.Chunk.Data {
			if len(buf)+len(part) > limit {
				return buf
			}
			buf = append(buf, part...)
		}
	}
	return buf
}

// Settings returns the per-stream settings and read-only diagnostics.
func (c *Controller) Settings(ctx context.Context) ([]Setting, error) {
	group := "Rebroadcast"
	if c.streamName != "" {
		group = "Rebroadcast: " + c.streamName
	}

	audioValue, ok, err := c.store.GetItem(ctx, AudioConfigurationKey(c.streamID))
	if err != nil {
		return nil, fmt.Errorf("loading audio configuration: %w", err)
	}
	if !ok || audioValue == "" {
		audioValue = AudioDefault.String()
	}
	argsValue, _, err := c.store.GetItem(ctx, InputArgumentsKey(c.streamID))
	if err != nil {
		return nil, fmt.Errorf("loading input arguments: %w", err)
	}

	settings := []Setting{
		{
			Key:         AudioConfigurationKey(c.streamID),
			Title:       "Audio Codec Transcoding",
			Group:       group,
			Description: "Configuring the camera to output AAC, MP3, MP2, or Opus is recommended. PCM/G.711 cameras should use Transcode.",
			Type:        "string",
			Value:       audioValue,
			Choices:     AudioModeChoices(),
		},
		{
			Key:         InputArgumentsKey(c.streamID),
			Title:       "FFmpeg Input Arguments Prefix",
			Group:       group,
			Description: "Additional input arguments placed before the camera's input arguments.",
			Type:        "string",
			Value:       argsValue,
			Placeholder: DefaultInputArguments,
			Choices:     InputArgumentPresets,
			Combobox:    true,
		},
	}

	d := c.Diagnostics(ctx)
	if d.State != Started.String() {
		return append(settings, Setting{
			Key:         "status",
			Title:       "Status",
			Group:       group,
			Description: "Rebroadcast is currently idle and will be started automatically on demand.",
			Value:       "Idle",
			Readonly:    true,
		}), nil
	}

	p := message.NewPrinter(language.English)
	resolution := "unknown"
	if d.Width > 0 && d.Height > 0 {
		resolution = fmt.Sprintf("%dx%d", d.Width, d.Height)
	}
	bitrate := "unknown"
	if d.BitrateKbps > 0 {
		bitrate = p.Sprintf("%d", d.BitrateKbps)
	}
	video := d.VideoCodec
	if video == "" {
		video = "unknown"
	}

	return append(settings,
		Setting{
			Key:         "detectedResolution",
			Title:       "Detected Resolution and Bitrate",
			Group:       group,
			Description: "Configuring the camera to 1920x1080, 2000Kb/s, variable bit rate, is recommended.",
			Value:       fmt.Sprintf("%s @ %s Kb/s", resolution, bitrate),
			Readonly:    true,
		},
		Setting{
			Key:         "detectedCodec",
			Title:       "Detected Video/Audio Codecs",
			Group:       group,
			Description: "Configuring the camera to H264 video and AAC/MP3/MP2/Opus audio is recommended.",
			Value:       video + "/" + d.AudioCodec,
			Readonly:    true,
		},
		Setting{
			Key:         "detectedKeyframe",
			Title:       "Detected Keyframe Interval",
			Group:       group,
			Description: "Configuring the camera to 4 seconds is recommended (IDR interval = FPS * 4 seconds).",
			Value:       strconv.FormatFloat(d.KeyframeInterval.Seconds(), 'f', -1, 64),
			Readonly:    true,
		},
	), nil
}
