package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/rebroadcastr/internal/config"
	"github.com/jmylchreest/rebroadcastr/internal/observability"
	"github.com/jmylchreest/rebroadcastr/pkg/httpclient"
)

// Remote reads stream descriptions from a camera gateway over HTTP.
//
//	GET {base_url}/streams        -> []StreamOptions
//	GET {base_url}/streams/{id}   -> InputDescriptor
type Remote struct {
	cfg    config.CameraConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewRemote creates a remote adapter.
func NewRemote(cfg config.CameraConfig, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithCamera(observability.WithComponent(logger, "camera"), cfg.ID)

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.RateLimit = cfg.RateLimit
	hc.Logger = logger
	hc.MaxResponseSize = 1 << 20

	return &Remote{
		cfg:    cfg,
		client: httpclient.New(hc),
		logger: logger,
	}
}

func (r *Remote) ID() string           { return r.cfg.ID }
func (r *Remote) Name() string         { return r.cfg.Name }
func (r *Remote) BatteryPowered() bool { return r.cfg.BatteryPowered }

// StreamOptions fetches the stream list.
func (r *Remote) StreamOptions(ctx context.Context) ([]StreamOptions, error) {
	var opts []StreamOptions
	if err := r.client.GetJSON(ctx, r.endpoint("streams"), r.header(), &opts); err != nil {
		return nil, fmt.Errorf("fetching stream options for %s: %w", r.cfg.ID, err)
	}
	return opts, nil
}

// VideoStream fetches a fresh input descriptor for a stream.
func (r *Remote) VideoStream(ctx context.Context, req *StreamOptions) (*InputDescriptor, error) {
	id := ""
	if req != nil {
		id = req.ID
	}
	if id == "" {
		opts, err := r.StreamOptions(ctx)
		if err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			return nil, fmt.Errorf("camera %s: %w", r.cfg.ID, ErrStreamNotFound)
		}
		id = opts[0].ID
	}

	var desc InputDescriptor
	err := r.client.GetJSON(ctx, r.endpoint("streams", id), r.header(), &desc)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("camera %s stream %s: %w", r.cfg.ID, id, ErrStreamNotFound)
		}
		return nil, fmt.Errorf("fetching video stream for %s: %w", r.cfg.ID, err)
	}
	if len(desc.InputArguments) == 0 && desc.URL != "" {
		desc.InputArguments = []string{"-i", desc.URL}
	}
	return &desc, nil
}

func (r *Remote) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/" + strings.Join(escaped, "/")
}

func (r *Remote) header() http.Header {
	h := http.Header{}
	if r.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	return h
}
