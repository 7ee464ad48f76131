package camera

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/rebroadcastr/internal/config"
)

func TestStreamOptions_AdvertisedAudio(t *testing.T) {
	tests := []struct {
		name string
		opts *StreamOptions
		want string
	}{
		{"nil options", nil, "unknown"},
		{"nil audio", &StreamOptions{}, "unknown"},
		{"muted", &StreamOptions{Audio: &AudioOptions{Codec: "aac", Muted: true}}, "none"},
		{"empty codec", &StreamOptions{Audio: &AudioOptions{}}, "unknown"},
		{"codec", &StreamOptions{Audio: &AudioOptions{Codec: "PCM_MULAW"}}, "pcm_mulaw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.AdvertisedAudio().String())
		})
	}
}

func TestStreamOptions_Clone(t *testing.T) {
	orig := &StreamOptions{ID: "a", Video: &VideoOptions{Width: 1}, Audio: &AudioOptions{Codec: "aac"}}
	c := orig.Clone()
	c.Video.Width = 2
	c.Audio.Codec = "opus"
	assert.Equal(t, 1, orig.Video.Width)
	assert.Equal(t, "aac", orig.Audio.Codec)
	assert.Nil(t, (*StreamOptions)(nil).Clone())
}

func TestInputDescriptor_JSON(t *testing.T) {
	d := InputDescriptor{
		URL:            "tcp://127.0.0.1:1234",
		Container:      "mpegts",
		InputArguments: []string{"-f", "mpegts", "-i", "tcp://127.0.0.1:1234"},
		StreamOptions:  &StreamOptions{ID: "s1", Prebuffer: 6000},
	}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"url": "tcp://127.0.0.1:1234",
		"container": "mpegts",
		"inputArguments": ["-f", "mpegts", "-i", "tcp://127.0.0.1:1234"],
		"mediaStreamOptions": {"id": "s1", "prebuffer": 6000, "audio": null}
	}`, string(b))

	c := d.Clone()
	c.InputArguments[0] = "x"
	assert.Equal(t, "-f", d.InputArguments[0])
}

func protectConfig() config.CameraConfig {
	return config.CameraConfig{
		ID:       "cam1",
		Name:     "Front Door",
		Type:     config.CameraTypeProtect,
		Host:     "192.168.1.10",
		RTSPPort: 7447,
		Channels: []config.ChannelConfig{
			{ID: "1", Name: "Medium", RTSPAlias: "med", Width: 1280, Height: 720, MinBitrate: 1, MaxBitrate: 2, FPS: 30, IDRInterval: 5},
			{ID: "0", Name: "High", RTSPAlias: "high", Default: true, Width: 1920, Height: 1080, IDRInterval: 2},
		},
	}
}

func TestProtect_StreamOptions(t *testing.T) {
	p := NewProtect(protectConfig())
	opts, err := p.StreamOptions(context.Background())
	require.NoError(t, err)
	require.Len(t, opts, 2)

	assert.Equal(t, "0", opts[0].ID, "default channel first")
	assert.Equal(t, "1", opts[1].ID)
	assert.Equal(t, "h264", opts[1].Video.Codec)
	assert.Equal(t, 5000, opts[1].Video.IDRIntervalMillis)
	assert.Equal(t, 2, opts[1].Video.Bitrate)
	assert.Equal(t, "aac", opts[1].Audio.Codec)
	assert.Equal(t, SourceLocal, opts[1].Source)
}

func TestProtect_VideoStream(t *testing.T) {
	p := NewProtect(protectConfig())

	d, err := p.VideoStream(context.Background(), &StreamOptions{ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "rtsp://192.168.1.10:7447/med", d.URL)
	assert.Equal(t, []string{
		"-rtsp_transport", "tcp",
		"-analyzeduration", "15000000",
		"-probesize", "100000000",
		"-reorder_queue_size", "1024",
		"-max_delay", "20000000",
		"-i", "rtsp://192.168.1.10:7447/med",
	}, d.InputArguments)
	assert.Equal(t, "1", d.StreamOptions.ID)

	d, err = p.VideoStream(context.Background(), &StreamOptions{ID: "missing"})
	require.NoError(t, err)
	assert.Equal(t, "rtsp://192.168.1.10:7447/high", d.URL, "unknown id selects default")

	d, err = p.VideoStream(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0", d.StreamOptions.ID)
}

func TestProtect_NoChannels(t *testing.T) {
	cfg := protectConfig()
	cfg.Channels = nil
	_, err := NewProtect(cfg).VideoStream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestRemote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]StreamOptions{
			{ID: "cloud-1", Name: "Cloud", Source: SourceCloud, RefreshAt: 1700000000000},
		})
	})
	mux.HandleFunc("/api/streams/cloud-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(InputDescriptor{
			URL:           "https://example.test/live.m3u8?sig=abc",
			StreamOptions: &StreamOptions{ID: "cloud-1", RefreshAt: 1700000000000},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRemote(config.CameraConfig{
		ID: "doorbell", Name: "Doorbell", Type: config.CameraTypeRemote,
		BaseURL: srv.URL + "/api/", Token: "secret", Timeout: 5 * time.Second, BatteryPowered: true,
	}, nil)
	assert.True(t, r.BatteryPowered())

	opts, err := r.StreamOptions(context.Background())
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, SourceCloud, opts[0].Source)

	d, err := r.VideoStream(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "https://example.test/live.m3u8?sig=abc"}, d.InputArguments)
	assert.Equal(t, int64(1700000000000), d.StreamOptions.RefreshAt)

	_, err = r.VideoStream(context.Background(), &StreamOptions{ID: "nope"})
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestNew(t *testing.T) {
	c, err := New(protectConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Front Door", c.Name())

	_, err = New(config.CameraConfig{Type: "onvif"}, nil)
	assert.Error(t, err)
}
