// Package metrics exposes prometheus collectors for the rebroadcast engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rebroadcastr"

// ActiveSessions is 1 while a demux session for a stream is running.
var ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "active_sessions",
	Help:      "Running ingest sessions per camera stream",
}, []string{"camera", "stream"})

// SessionStarts counts session start attempts by outcome (ok, error, probe_restart).
var SessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "session_starts_total",
	Help:      "Ingest session start attempts",
}, []string{"camera", "stream", "result"})

// Viewers tracks connected rebroadcast viewers.
var Viewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "viewers",
	Help:      "Connected rebroadcast viewers",
}, []string{"camera", "stream", "container"})

// ViewerDrops counts viewers torn down, labelled by reason.
var ViewerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "viewer_drops_total",
	Help:      "Viewers disconnected, by reason",
}, []string{"camera", "stream", "reason"})

// BufferedBytes is the payload held in a prebuffer ring.
var BufferedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "prebuffer_bytes",
	Help:      "Bytes retained in the prebuffer window",
}, []string{"camera", "stream", "container"})

// BytesIngested counts bytes received from demux sessions.
var BytesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "ingested_bytes_total",
	Help:      "Bytes received from ingest sessions",
}, []string{"camera", "stream", "container"})

// Restarts counts pool rebuilds by trigger (settings, scheduled).
var Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "pool_restarts_total",
	Help:      "Prebuffer pool rebuilds",
}, []string{"camera", "trigger"})

// CameraOnline is 1 when every always-on stream of a camera is active.
var CameraOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "camera_online",
	Help:      "Whether all always-on streams of a camera are running",
}, []string{"camera"})

// Alerts counts alerts raised per camera.
var Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "alerts_total",
	Help:      "User-facing alerts raised",
}, []string{"camera"})

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
