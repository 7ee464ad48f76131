package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// TrackInfo describes one track found in an fMP4 initialization segment.
type TrackInfo struct {
	ID     int
	Video  bool
	Codec  string
	Width  int
	Height int
}

// FromMP4Codec maps a mediacommon mp4 track codec to an ffmpeg codec name.
// The boolean result is false for codecs that are not recognised.
func FromMP4Codec(c mp4.Codec) (TrackInfo, bool) {
	switch tc := c.(type) {
	case *mp4.CodecH264:
		info := TrackInfo{Video: true, Codec: VideoH264.String()}
		var sps h264.SPS
		if err := sps.Unmarshal(tc.SPS); err == nil {
			info.Width, info.Height = sps.Width(), sps.Height()
		}
		return info, true
	case *mp4.CodecH265:
		info := TrackInfo{Video: true, Codec: VideoH265.String()}
		var sps h265.SPS
		if err := sps.Unmarshal(tc.SPS); err == nil {
			info.Width, info.Height = sps.Width(), sps.Height()
		}
		return info, true
	case *mp4.CodecAV1:
		return TrackInfo{Video: true, Codec: VideoAV1.String()}, true
	case *mp4.CodecVP9:
		return TrackInfo{Video: true, Codec: VideoVP9.String()}, true
	case *mp4.CodecMPEG4Audio:
		return TrackInfo{Codec: AudioAAC.String()}, true
	case *mp4.CodecOpus:
		return TrackInfo{Codec: AudioOpus.String()}, true
	case *mp4.CodecMPEG1Audio:
		return TrackInfo{Codec: AudioMP3.String()}, true
	case *mp4.CodecAC3:
		return TrackInfo{Codec: AudioAC3.String()}, true
	case *mp4.CodecEAC3:
		return TrackInfo{Codec: AudioEAC3.String()}, true
	default:
		return TrackInfo{}, false
	}
}
