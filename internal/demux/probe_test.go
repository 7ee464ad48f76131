package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var rtspStderr = []string{
	"ffmpeg version 7.1 Copyright (c) 2000-2024 the FFmpeg developers",
	"Input #0, rtsp, from 'rtsp://192.168.1.1:7447/abc':",
	"  Metadata:",
	"    title           : Media Server",
	"  Duration: N/A, start: 0.000000, bitrate: N/A",
	"  Stream #0:0: Video: h264 (High), yuvj420p(pc, bt709, progressive), 2688x1512, 20 fps, 20 tbr, 90k tbn",
	"  Stream #0:1: Audio: pcm_mulaw, 8000 Hz, mono, s16, 64 kb/s",
	"Stream mapping:",
	"  Stream #0:0 -> #0:0 (copy)",
	"Output #0, mp4, to 'tcp://127.0.0.1:40000':",
	"  Stream #0:0: Video: hevc, yuv420p, 640x480",
}

func TestInputProbe(t *testing.T) {
	p := NewInputProbe()
	assert.True(t, p.AudioCodec().IsUnknown())

	for _, line := range rtspStderr {
		p.Feed(line)
	}

	select {
	case <-p.Ready():
	default:
		t.Fatal("probe not ready")
	}

	assert.Equal(t, "h264", p.VideoCodec())
	assert.True(t, p.AudioCodec().Is("pcm_mulaw"))
	w, h := p.Resolution()
	assert.Equal(t, 2688, w)
	assert.Equal(t, 1512, h)
}

func TestInputProbe_NoAudioIsAbsent(t *testing.T) {
	p := NewInputProbe()
	p.Feed("Input #0, mpegts, from 'x':")
	p.Feed("  Stream #0:0[0x100]: Video: h264 (Main) ([27][0][0][0] / 0x001B), yuv420p, 1280x720 [SAR 1:1 DAR 16:9], 25 fps")
	assert.True(t, p.AudioCodec().IsUnknown())
	p.Feed("Output #0, mpegts, to 'y':")

	assert.True(t, p.AudioCodec().IsAbsent())
	w, h := p.Resolution()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestInputProbe_IgnoresOutputBeforeInput(t *testing.T) {
	p := NewInputProbe()
	p.Feed("Press [q] to stop")
	select {
	case <-p.Ready():
		t.Fatal("ready before any input")
	default:
	}
}

func TestInputProbe_LanguageTagAndResolutionFallback(t *testing.T) {
	p := NewInputProbe()
	p.Feed("Input #0, mov,mp4, from 'x':")
	p.Feed("  Stream #0:0(und): Audio: aac (LC) (mp4a / 0x6134706D), 16000 Hz, mono, fltp")
	p.Feed("  Stream #0:1(und): Video: hevc (Main), yuv420p(tv)")
	p.Feed("Stream mapping:")

	assert.Equal(t, "hevc", p.VideoCodec())
	assert.True(t, p.AudioCodec().Is("aac"))

	p.setResolution(640, 360)
	w, h := p.Resolution()
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	p.setResolution(1, 1)
	w, _ = p.Resolution()
	assert.Equal(t, 640, w)
}

func TestTrimmedTail(t *testing.T) {
	assert.Equal(t, "b; c", trimmedTail([]string{"a", "b", "c"}, 2))
	assert.Equal(t, "a", trimmedTail([]string{"a"}, 5))
}
