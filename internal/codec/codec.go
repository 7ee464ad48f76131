// Package codec provides codec naming shared by the demuxer, the audio
// negotiation logic and the API. Names follow the ffmpeg decoder names
// reported on stderr (h264, hevc, aac, pcm_mulaw, ...).
package codec

import "strings"

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264"
	VideoH265 Video = "hevc"
	VideoAV1  Video = "av1"
	VideoVP9  Video = "vp9"
	VideoMJPG Video = "mjpeg"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC      Audio = "aac"
	AudioMP3      Audio = "mp3"
	AudioMP2      Audio = "mp2"
	AudioOpus     Audio = "opus"
	AudioAC3      Audio = "ac3"
	AudioEAC3     Audio = "eac3"
	AudioPCMMulaw Audio = "pcm_mulaw"
	AudioPCMAlaw  Audio = "pcm_alaw"
	AudioPCMS16LE Audio = "pcm_s16le"
	AudioG726     Audio = "adpcm_g726"
)

// BaselineVideo is the video codec every downstream consumer is expected to handle.
const BaselineVideo = VideoH264

// compatibleAudio lists audio codecs that can be copied into both fMP4 and MPEG-TS.
var compatibleAudio = []Audio{AudioAAC, AudioMP3, AudioMP2, AudioOpus}

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// Normalize lowercases and trims a codec name as reported by a camera or ffmpeg.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CompatibleAudio returns the audio codecs that can be muxed without transcoding.
func CompatibleAudio() []Audio {
	out := make([]Audio, len(compatibleAudio))
	copy(out, compatibleAudio)
	return out
}

// IsCompatibleAudio reports whether name is one of the copy-safe audio codecs.
func IsCompatibleAudio(name string) bool {
	n := Audio(Normalize(name))
	for _, a := range compatibleAudio {
		if a == n {
			return true
		}
	}
	return false
}

// IsBaselineVideo reports whether name is the expected baseline video codec.
func IsBaselineVideo(name string) bool {
	return Video(Normalize(name)) == BaselineVideo
}
