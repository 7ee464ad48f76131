package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath serves the prometheus exposition.
const MetricsPath = "/metrics"

// RegisterMetricsRoute mounts the prometheus handler on router.
func RegisterMetricsRoute(router chi.Router) {
	router.Method("GET", MetricsPath, promhttp.Handler())
}
