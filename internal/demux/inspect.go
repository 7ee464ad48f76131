package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
)

// ElementaryStream describes one PMT entry of a transport stream.
type ElementaryStream struct {
	PID   uint16 `json:"pid"`
	Codec string `json:"codec"`
	Video bool   `json:"video"`
}

// ErrNoPMT is returned when no program map table was found.
var ErrNoPMT = errors.New("no PMT found")

// DescribeTransportStream returns the elementary streams of the first PMT in data.
func DescribeTransportStream(ctx context.Context, data []byte) ([]ElementaryStream, error) {
	dmx := astits.NewDemuxer(ctx, bytes.NewReader(data), astits.DemuxerOptPacketSize(tsPacketSize))
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil, ErrNoPMT
			}
			return nil, fmt.Errorf("reading transport stream: %w", err)
		}
		if d == nil || d.PMT == nil {
			continue
		}

		streams := make([]ElementaryStream, 0, len(d.PMT.ElementaryStreams))
		for _, es := range d.PMT.ElementaryStreams {
			name, video := tsStreamCodec(es.StreamType)
			streams = append(streams, ElementaryStream{PID: es.ElementaryPID, Codec: name, Video: video})
		}
		return streams, nil
	}
}

func tsStreamCodec(t astits.StreamType) (string, bool) {
	switch t {
	case astits.StreamTypeH264Video:
		return codec.VideoH264.String(), true
	case astits.StreamTypeH265Video:
		return codec.VideoH265.String(), true
	case astits.StreamTypeAACAudio:
		return codec.AudioAAC.String(), false
	case astits.StreamTypeMPEG1Audio:
		return codec.AudioMP3.String(), false
	case astits.StreamTypeAC3Audio:
		return codec.AudioAC3.String(), false
	case astits.StreamTypeEAC3Audio:
		return codec.AudioEAC3.String(), false
	default:
		return fmt.Sprintf("0x%02x", uint8(t)), false
	}
}

// InspectInit reads the tracks of an fMP4 initialization segment.
func InspectInit(chunk Chunk) ([]codec.TrackInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(bytes.Join(chunk.Data, nil))); err != nil {
		return nil, fmt.Errorf("parsing init segment: %w", err)
	}

	tracks := make([]codec.TrackInfo, 0, len(init.Tracks))
	for _, t := range init.Tracks {
		info, ok := codec.FromMP4Codec(t.Codec)
		if !ok {
			continue
		}
		info.ID = t.ID
		tracks = append(tracks, info)
	}
	return tracks, nil
}
