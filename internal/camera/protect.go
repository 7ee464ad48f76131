package camera

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/config"
)

// Protect reads RTSP streams from a camera behind a Protect NVR.
type Protect struct {
	cfg config.CameraConfig
}

// NewProtect creates a protect adapter.
func NewProtect(cfg config.CameraConfig) *Protect {
	return &Protect{cfg: cfg}
}

func (p *Protect) ID() string           { return p.cfg.ID }
func (p *Protect) Name() string         { return p.cfg.Name }
func (p *Protect) BatteryPowered() bool { return p.cfg.BatteryPowered }

// StreamOptions returns one option per channel with the default channel first.
func (p *Protect) StreamOptions(context.Context) ([]StreamOptions, error) {
	channels := slices.Clone(p.cfg.Channels)
	slices.SortStableFunc(channels, func(a, b config.ChannelConfig) int {
		switch {
		case a.Default && !b.Default:
			return -1
		case b.Default && !a.Default:
			return 1
		default:
			return 0
		}
	})

	opts := make([]StreamOptions, 0, len(channels))
	for _, ch := range channels {
		opts = append(opts, channelOptions(ch))
	}
	return opts, nil
}

// VideoStream returns the RTSP input for the requested channel.
func (p *Protect) VideoStream(ctx context.Context, req *StreamOptions) (*InputDescriptor, error) {
	opts, err := p.StreamOptions(ctx)
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("camera %s: %w", p.cfg.ID, ErrStreamNotFound)
	}

	selected := opts[0].ID
	if req != nil {
		for _, o := range opts {
			if o.ID == req.ID {
				selected = o.ID
				break
			}
		}
	}

	var channel config.ChannelConfig
	for _, ch := range p.cfg.Channels {
		if ch.ID == selected {
			channel = ch
			break
		}
	}

	u := p.rtspURL(channel.RTSPAlias)
	mso := channelOptions(channel)
	return &InputDescriptor{
		URL: u,
		InputArguments: []string{
			"-rtsp_transport", "tcp",
			"-analyzeduration", "15000000",
			"-probesize", "100000000",
			"-reorder_queue_size", "1024",
			"-max_delay", "20000000",
			"-i", u,
		},
		StreamOptions: &mso,
	}, nil
}

func (p *Protect) rtspURL(alias string) string {
	return "rtsp://" + net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.RTSPPort)) + "/" + alias
}

func channelOptions(ch config.ChannelConfig) StreamOptions {
	return StreamOptions{
		ID:     ch.ID,
		Name:   ch.Name,
		Source: SourceLocal,
		Video: &VideoOptions{
			Codec:             codec.VideoH264.String(),
			Width:             ch.Width,
			Height:            ch.Height,
			Bitrate:           ch.MaxBitrate,
			MinBitrate:        ch.MinBitrate,
			MaxBitrate:        ch.MaxBitrate,
			FPS:               ch.FPS,
			IDRIntervalMillis: ch.IDRInterval * 1000,
		},
		Audio: &AudioOptions{Codec: codec.AudioAAC.String()},
	}
}
