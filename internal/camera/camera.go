// Package camera defines the boundary between the rebroadcast engine and the
// devices it reads from, plus the adapters that talk to real cameras.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/config"
)

// Stream sources.
const (
	SourceLocal = "local"
	SourceCloud = "cloud"
)

// ErrStreamNotFound is returned when a requested stream id does not exist.
var ErrStreamNotFound = errors.New("stream not found")

// VideoOptions describes the advertised video of a stream.
type VideoOptions struct {
	Codec             string `json:"codec,omitempty"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Bitrate           int    `json:"bitrate,omitempty"`
	MinBitrate        int    `json:"minBitrate,omitempty"`
	MaxBitrate        int    `json:"maxBitrate,omitempty"`
	FPS               int    `json:"fps,omitempty"`
	IDRIntervalMillis int    `json:"idrIntervalMillis,omitempty"`
}

// AudioOptions describes the advertised audio of a stream. A nil
// *AudioOptions means the camera said nothing about audio.
type AudioOptions struct {
	Codec string `json:"codec,omitempty"`
	// Muted means the source has no audio, or it must not be used.
	Muted bool `json:"muted,omitempty"`
	// Encoder and Profile are set when the engine transcodes audio.
	Encoder string `json:"encoder,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// StreamOptions describes one stream profile offered by a camera.
type StreamOptions struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Source    string        `json:"source,omitempty"`
	Container string        `json:"container,omitempty"`
	// Prebuffer is the available history in milliseconds, zero when none.
	Prebuffer int64         `json:"prebuffer,omitempty"`
	Video     *VideoOptions `json:"video,omitempty"`
	// Audio is nil when unknown, and in descriptors served by the
	// rebroadcast engine when audio is disabled.
	Audio *AudioOptions `json:"audio"`
	// RefreshAt is the unix millisecond time the input URL expires.
	RefreshAt int64 `json:"refreshAt,omitempty"`
	// DirectBypass asks the engine to skip the prebuffer.
	DirectBypass bool `json:"directBypass,omitempty"`
}

// AdvertisedAudio maps the camera's audio description onto a codec state.
func (o *StreamOptions) AdvertisedAudio() codec.State {
	if o == nil || o.Audio == nil {
		return codec.Unknown()
	}
	if o.Audio.Muted {
		return codec.Absent()
	}
	if o.Audio.Codec == "" {
		return codec.Unknown()
	}
	return codec.Detected(o.Audio.Codec)
}

// IDRInterval returns the advertised keyframe interval in milliseconds.
func (o *StreamOptions) IDRInterval() int {
	if o == nil || o.Video == nil {
		return 0
	}
	return o.Video.IDRIntervalMillis
}

// Clone returns a deep copy.
func (o *StreamOptions) Clone() *StreamOptions {
	if o == nil {
		return nil
	}
	c := *o
	if o.Video != nil {
		v := *o.Video
		c.Video = &v
	}
	if o.Audio != nil {
		a := *o.Audio
		c.Audio = &a
	}
	return &c
}

// InputDescriptor tells a consumer how to open a stream with ffmpeg.
type InputDescriptor struct {
	URL            string         `json:"url"`
	Container      string         `json:"container,omitempty"`
	InputArguments []string       `json:"inputArguments"`
	StreamOptions  *StreamOptions `json:"mediaStreamOptions,omitempty"`
}

// Clone returns a deep copy.
func (d *InputDescriptor) Clone() *InputDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.InputArguments = append([]string(nil), d.InputArguments...)
	c.StreamOptions = d.StreamOptions.Clone()
	return &c
}

// Camera is a video source with one or more stream profiles.
type Camera interface {
	ID() string
	Name() string
	BatteryPowered() bool
	// StreamOptions lists stream profiles, default first.
	StreamOptions(ctx context.Context) ([]StreamOptions, error)
	// VideoStream returns a fresh input descriptor. A nil or unknown
	// options value selects the default stream.
	VideoStream(ctx context.Context, opts *StreamOptions) (*InputDescriptor, error)
}

// New creates the adapter for cfg.
func New(cfg config.CameraConfig, logger *slog.Logger) (Camera, error) {
	switch cfg.Type {
	case config.CameraTypeProtect:
		return NewProtect(cfg), nil
	case config.CameraTypeRemote:
		return NewRemote(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported camera type %q", cfg.Type)
	}
}
