package prebuffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/camera"
	"github.com/jmylchreest/rebroadcastr/internal/demux"
	"github.com/jmylchreest/rebroadcastr/internal/metrics"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
)

// DefaultStreamID is the id of the synthetic option reported for cameras
// that list no streams.
const DefaultStreamID = "default"

const delayedStartTimeout = time.Minute

// OrchestratorConfig holds the supervisor timings.
type OrchestratorConfig struct {
	Controller     ControllerConfig
	StartDelay     time.Duration
	RestartBackoff time.Duration
}

// DefaultOrchestratorConfig returns the standard timings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Controller:     DefaultControllerConfig(),
		StartDelay:     5 * time.Second,
		RestartBackoff: 5 * time.Second,
	}
}

// pool is one generation of controllers. A settings change replaces the
// whole pool; supervisors exit once their pool is no longer current.
type pool struct {
	ctx      context.Context
	cancel   context.CancelFunc
	entries  map[string]*Controller
	order    []string
	active   int
	alwaysOn int
}

func newPool() *pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &pool{ctx: ctx, cancel: cancel, entries: make(map[string]*Controller)}
}

// controllers returns each controller once, in camera order.
func (p *pool) controllers() []*Controller {
	out := make([]*Controller, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id])
	}
	return out
}

// Orchestrator supervises the controllers of one camera.
type Orchestrator struct {
	cam     camera.Camera
	starter demux.Starter
	store   Storage
	alerts  AlertSink
	cfg     OrchestratorConfig
	logger  *slog.Logger
	submit  func(func())

	// base is the injected logger without the orchestrator component,
	// handed to controllers which tag their own.
	base *slog.Logger

	// ensureMu serialises pool construction.
	ensureMu sync.Mutex

	mu         sync.Mutex
	pool       *pool
	released   bool
	online     bool
	startTimer *time.Timer
	onOnline   func(bool)
}

// NewOrchestrator creates an orchestrator for cam. Nothing starts until
// Start, EnsurePool or VideoStream is called.
func NewOrchestrator(cam camera.Camera, starter demux.Starter, store Storage, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		cam:     cam,
		starter: starter,
		store:   store,
		alerts:  discardAlerts{},
		cfg:     cfg,
		submit:  func(fn func()) { go fn() },
		pool:    newPool(),
	}
	o.WithLogger(slog.Default())
	return o
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.base = observability.WithCamera(logger, o.cam.ID())
	o.logger = observability.WithComponent(o.base, "orchestrator")
	return o
}

// WithAlerts sets the alert sink shared by all controllers.
func (o *Orchestrator) WithAlerts(alerts AlertSink) *Orchestrator {
	if alerts != nil {
		o.alerts = alerts
	}
	return o
}

// WithSubmitter sets the executor for fire-and-forget work such as killing
// the sessions of a replaced pool.
func (o *Orchestrator) WithSubmitter(submit func(func())) *Orchestrator {
	if submit != nil {
		o.submit = submit
	}
	return o
}

// OnOnlineChange registers a callback for aggregate online changes.
func (o *Orchestrator) OnOnlineChange(fn func(online bool)) *Orchestrator {
	o.mu.Lock()
	o.onOnline = fn
	o.mu.Unlock()
	return o
}

// Camera returns the supervised camera.
func (o *Orchestrator) Camera() camera.Camera {
	return o.cam
}

// Online reports whether every always-on stream has a running session.
func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Released reports whether Release has been called.
func (o *Orchestrator) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// Controllers returns the current controllers in camera order.
func (o *Orchestrator) Controllers() []*Controller {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pool.controllers()
}

// Controller returns the controller for a stream id. The empty id and
// DefaultStreamID resolve to the camera's first stream.
func (o *Orchestrator) Controller(id string) *Controller {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lookupLocked(id)
}

func (o *Orchestrator) lookupLocked(id string) *Controller {
	if c, ok := o.pool.entries[id]; ok {
		return c
	}
	if id == DefaultStreamID {
		return o.pool.entries[""]
	}
	return nil
}

// Start builds the pool after StartDelay so restarts of the service do
// not immediately hit the cameras.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released || o.startTimer != nil {
		return
	}

	o.logger.Info("prebuffer sessions starting", slog.Duration("in", o.cfg.StartDelay))
	o.startTimer = time.AfterFunc(o.cfg.StartDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), delayedStartTimeout)
		defer cancel()
		if err := o.EnsurePool(ctx); err != nil && !errors.Is(err, ErrReleased) {
			observability.WithError(o.logger, err).Warn("prebuffer sessions failed to start")
		}
	})
}

// EnsurePool creates controllers for streams that have none and starts
// the always-on supervisors. Stream enumeration errors are returned.
func (o *Orchestrator) EnsurePool(ctx context.Context) error {
	o.ensureMu.Lock()
	defer o.ensureMu.Unlock()

	if o.Released() {
		return ErrReleased
	}

	options, err := o.cam.StreamOptions(ctx)
	if err != nil {
		return fmt.Errorf("enumerating streams: %w", err)
	}
	enabled, err := o.enabledIDs(ctx, options)
	if err != nil {
		return err
	}
	o.warnCloud(ctx, options)

	ids := make([]string, 0, len(options))
	for _, opt := range options {
		ids = append(ids, opt.ID)
	}
	if len(ids) == 0 {
		ids = []string{""}
	}
	battery := o.cam.BatteryPowered()

	type supervised struct {
		id   string
		ctrl *Controller
	}
	var (
		start       []supervised
		alreadyHave []string
	)

	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		return ErrReleased
	}
	p := o.pool
	for i, id := range ids {
		if _, ok := p.entries[id]; ok {
			continue
		}

		var opt *camera.StreamOptions
		if i < len(options) {
			opt = &options[i]
		}
		name := ""
		if opt != nil {
			name = opt.Name
			if opt.Prebuffer > 0 {
				alreadyHave = append(alreadyHave, name)
			}
		}

		stopInactive := battery || !enabled[id]
		ctrl := NewController(o.cam, o.starter, o.store, id, name, stopInactive, o.cfg.Controller).
			WithLogger(o.base).
			WithAlerts(o.alerts)
		p.entries[id] = ctrl
		p.order = append(p.order, id)
		if i == 0 {
			p.entries[""] = ctrl
		}

		switch {
		case battery:
			o.logger.Info("camera is battery powered, prebuffering and rebroadcasting will only work on demand",
				slog.String("stream_id", id))
		case stopInactive:
			o.logger.Info("stream will be rebroadcast on demand", slog.String("stream_name", name))
		default:
			p.alwaysOn++
			start = append(start, supervised{id: id, ctrl: ctrl})
		}
	}
	o.setOnlineLocked(p.active == p.alwaysOn)
	o.mu.Unlock()

	for _, name := range alreadyHave {
		o.alert(ctx, "Prebuffer already available",
			fmt.Sprintf("Prebuffer is already available on %s (%s). If this is a grouped device, disable rebroadcast for it.", o.cam.Name(), name))
	}
	for _, s := range start {
		go o.supervise(p, s.id, s.ctrl)
	}
	return nil
}

// enabledIDs resolves the stored stream names to ids. Without a stored
// selection the first non-cloud stream is enabled.
func (o *Orchestrator) enabledIDs(ctx context.Context, options []camera.StreamOptions) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(options) == 0 {
		out[""] = true
		return out, nil
	}

	names, ok, err := enabledStreamNames(ctx, o.store)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, opt := range options {
			if slices.Contains(names, opt.Name) {
				out[opt.ID] = true
			}
		}
		return out, nil
	}

	// Cloud streams are never prebuffered by default.
	for _, opt := range options {
		if opt.Source != camera.SourceCloud {
			out[opt.ID] = true
			break
		}
	}
	return out, nil
}

// warnCloud alerts once per camera that cloud streams are not prebuffered by default.
func (o *Orchestrator) warnCloud(ctx context.Context, options []camera.StreamOptions) {
	if !slices.ContainsFunc(options, func(opt camera.StreamOptions) bool { return opt.Source == camera.SourceCloud }) {
		return
	}

	warned, _, err := o.store.GetItem(ctx, KeyWarnedCloud)
	if err != nil {
		observability.WithError(o.logger, err).Warn("reading cloud warning flag")
		return
	}
	if warned == "true" {
		return
	}
	if err := o.store.SetItem(ctx, KeyWarnedCloud, "true"); err != nil {
		observability.WithError(o.logger, err).Warn("storing cloud warning flag")
	}
	o.alert(ctx, "Cloud camera",
		fmt.Sprintf("%s is a cloud camera. Prebuffering maintains a persistent stream and is not enabled by default. Enable the prebuffered stream manually.", o.cam.Name()))
}

func (o *Orchestrator) alert(ctx context.Context, title, message string) {
	o.logger.WarnContext(ctx, message)
	metrics.Alerts.WithLabelValues(o.cam.ID()).Inc()
	o.alerts.Alert(ctx, title, message)
}

// supervise keeps an always-on stream running until its pool is replaced
// or the orchestrator is released.
func (o *Orchestrator) supervise(p *pool, id string, ctrl *Controller) {
	logger := observability.WithStream(o.logger, id, ctrl.StreamName())

	for o.isCurrent(p, id, ctrl) {
		h := ctrl.EnsureSession()
		if h == nil {
			break
		}

		session, err := h.Wait(p.ctx)
		if err == nil {
			o.adjustActive(p, 1)
			select {
			case <-session.Done():
				logger.Warn("prebuffer session ended")
			case <-p.ctx.Done():
			}
			o.adjustActive(p, -1)
		} else if p.ctx.Err() == nil {
			observability.WithError(logger, err).Warn("prebuffer session ended with error")
		}

		if p.ctx.Err() != nil {
			break
		}

		logger.Info("restarting prebuffer session", slog.Duration("in", o.cfg.RestartBackoff))
		timer := time.NewTimer(o.cfg.RestartBackoff)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
		}
	}
	logger.Info("exiting prebuffer session (released or restarted with new configuration)")
}

func (o *Orchestrator) isCurrent(p *pool, id string, ctrl *Controller) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.released && o.pool == p && p.entries[id] == ctrl
}

// adjustActive changes the running count of p. Only a successful start
// increments it, so it never drops below zero.
func (o *Orchestrator) adjustActive(p *pool, delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p.active += delta
	if o.pool == p {
		o.setOnlineLocked(p.active == p.alwaysOn)
	}
}

func (o *Orchestrator) setOnlineLocked(online bool) {
	metrics.CameraOnline.WithLabelValues(o.cam.ID()).Set(metrics.BoolGauge(online))
	if o.online == online {
		return
	}
	o.online = online
	if o.onOnline != nil {
		go o.onOnline(online)
	}
}

// VideoStream returns a prebuffered stream, or the camera's own stream for
// unknown ids and direct requests.
func (o *Orchestrator) VideoStream(ctx context.Context, req StreamRequest) (*camera.InputDescriptor, error) {
	if err := o.EnsurePool(ctx); err != nil {
		return nil, err
	}

	ctrl := o.Controller(req.ID)
	if ctrl == nil || req.Direct {
		return o.direct(ctx, req.ID)
	}

	if h := ctrl.EnsureSession(); h != nil {
		if _, err := h.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// The pool may have been rebuilt while the session started.
	ctrl = o.Controller(req.ID)
	if ctrl == nil {
		return o.direct(ctx, req.ID)
	}
	return ctrl.VideoStream(ctx, req)
}

func (o *Orchestrator) direct(ctx context.Context, id string) (*camera.InputDescriptor, error) {
	options, err := o.cam.StreamOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating streams: %w", err)
	}

	var opt *camera.StreamOptions
	for i := range options {
		if options[i].ID == id {
			opt = options[i].Clone()
			break
		}
	}
	if opt == nil && (id == "" || id == DefaultStreamID) && len(options) > 0 {
		opt = options[0].Clone()
	}
	if opt == nil {
		opt = &camera.StreamOptions{ID: id}
	}
	return o.cam.VideoStream(ctx, opt)
}

// PutSetting stores a setting and cold-restarts every stream of the camera.
func (o *Orchestrator) PutSetting(ctx context.Context, key string, value any) error {
	if o.Released() {
		return ErrReleased
	}

	encoded, err := encodeSetting(key, value)
	if err != nil {
		return err
	}
	if err := o.store.SetItem(ctx, key, encoded); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return o.rebuild(ctx, "settings")
}

// Restart replaces the pool and restarts every stream.
func (o *Orchestrator) Restart(ctx context.Context) error {
	if o.Released() {
		return ErrReleased
	}
	return o.rebuild(ctx, "scheduled")
}

func (o *Orchestrator) rebuild(ctx context.Context, trigger string) error {
	o.ensureMu.Lock()
	o.mu.Lock()
	old := o.pool
	o.pool = newPool()
	o.mu.Unlock()
	o.ensureMu.Unlock()

	old.cancel()
	for _, ctrl := range old.controllers() {
		o.submit(ctrl.Close)
	}
	metrics.Restarts.WithLabelValues(o.cam.ID(), trigger).Inc()
	o.logger.InfoContext(ctx, "prebuffer pool rebuilt", slog.String("trigger", trigger))

	return o.EnsurePool(ctx)
}

// Release stops every supervisor, clears the buffers, and kills every session.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		return
	}
	o.released = true
	if o.startTimer != nil {
		o.startTimer.Stop()
	}
	p := o.pool
	o.mu.Unlock()

	o.logger.Info("prebuffer releasing if started")
	p.cancel()
	for _, ctrl := range p.controllers() {
		ctrl.Close()
	}
}

// StreamOptions returns the camera's stream options with the prebuffer
// duration set on enabled streams. Cameras without options report a single
// synthetic default stream.
func (o *Orchestrator) StreamOptions(ctx context.Context) ([]camera.StreamOptions, error) {
	options, err := o.cam.StreamOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating streams: %w", err)
	}
	window, err := prebufferDuration(ctx, o.store, o.cfg.Controller.Window)
	if err != nil {
		return nil, err
	}

	if len(options) == 0 {
		return []camera.StreamOptions{{
			ID:        DefaultStreamID,
			Name:      "Default",
			Prebuffer: window.Milliseconds(),
		}}, nil
	}

	enabled, err := o.enabledIDs(ctx, options)
	if err != nil {
		return nil, err
	}
	out := make([]camera.StreamOptions, len(options))
	for i := range options {
		out[i] = *options[i].Clone()
		if enabled[out[i].ID] {
			out[i].Prebuffer = window.Milliseconds()
		}
	}
	return out, nil
}

// Settings returns the camera-wide settings followed by each stream's settings.
func (o *Orchestrator) Settings(ctx context.Context) ([]Setting, error) {
	options, err := o.cam.StreamOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating streams: %w", err)
	}

	var settings []Setting
	if len(options) > 0 {
		enabled, err := o.enabledIDs(ctx, options)
		if err != nil {
			return nil, err
		}
		var names, choices []string
		for _, opt := range options {
			choices = append(choices, opt.Name)
			if enabled[opt.ID] {
				names = append(names, opt.Name)
			}
		}
		settings = append(settings, Setting{
			Key:         KeyEnabledStreams,
			Title:       "Prebuffered Streams",
			Description: "The streams to prebuffer. Enable only as necessary to reduce traffic.",
			Value:       names,
			Choices:     choices,
			Multiple:    true,
		})
	}

	window, err := prebufferDuration(ctx, o.store, o.cfg.Controller.Window)
	if err != nil {
		return nil, err
	}
	keyframe, err := sendKeyframe(ctx, o.store)
	if err != nil {
		return nil, err
	}
	settings = append(settings,
		Setting{
			Key:         KeyPrebufferDuration,
			Title:       "Prebuffer Duration",
			Description: "Duration of the prebuffer in milliseconds.",
			Type:        "number",
			Value:       strconv.FormatInt(window.Milliseconds(), 10),
		},
		Setting{
			Key:         KeySendKeyframe,
			Title:       "Start at Previous Keyframe",
			Description: "Start live streams from the previous key frame. Improves startup time.",
			Type:        "boolean",
			Value:       strconv.FormatBool(keyframe),
		},
	)

	for _, ctrl := range o.Controllers() {
		s, err := ctrl.Settings(ctx)
		if err != nil {
			return nil, err
		}
		settings = append(settings, s...)
	}
	return settings, nil
}

// Diagnostics reports every controller's state.
func (o *Orchestrator) Diagnostics(ctx context.Context) []Diagnostics {
	ctrls := o.Controllers()
	out := make([]Diagnostics, 0, len(ctrls))
	for _, ctrl := range ctrls {
		out = append(out, ctrl.Diagnostics(ctx))
	}
	return out
}
