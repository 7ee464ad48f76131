package prebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name          string
		in            NegotiationInput
		wantArgs      []string
		wantProbing   bool
		wantDisabled  bool
		wantTranscode bool
		wantPCM       bool
		wantAlerts    []string
	}{
		{
			name:         "default with unknown codec probes",
			in:           NegotiationInput{Mode: AudioDefault, Advertised: codec.Unknown(), Detected: codec.Unknown()},
			wantArgs:     audioMute,
			wantProbing:  true,
			wantDisabled: true,
		},
		{
			name:       "default after probe found aac adds the adts filter",
			in:         NegotiationInput{Mode: AudioDefault, Advertised: codec.Unknown(), Detected: codec.Detected("aac")},
			wantArgs:   concat(audioCopy, aacFilters),
			wantAlerts: []string{"Audio codec found by probe"},
		},
		{
			name:       "default after probe found opus copies",
			in:         NegotiationInput{Mode: AudioDefault, Advertised: codec.Unknown(), Detected: codec.Detected("opus")},
			wantArgs:   audioCopy,
			wantAlerts: []string{"Audio codec found by probe"},
		},
		{
			name:         "probe that found no audio mutes",
			in:           NegotiationInput{Mode: AudioDefault, Advertised: codec.Unknown(), Detected: codec.Absent()},
			wantArgs:     audioMute,
			wantDisabled: true,
		},
		{
			name:         "muted camera mutes",
			in:           NegotiationInput{Mode: AudioTranscode, Advertised: codec.Absent(), Detected: codec.Unknown()},
			wantArgs:     audioMute,
			wantDisabled: true,
		},
		{
			name:     "advertised aac copies with filter without probing",
			in:       NegotiationInput{Mode: AudioDefault, Advertised: codec.Detected("aac"), Detected: codec.Unknown()},
			wantArgs: concat(audioCopy, aacFilters),
		},
		{
			name:          "advertised pcm_mulaw transcodes",
			in:            NegotiationInput{Mode: AudioDefault, Advertised: codec.Detected("pcm_mulaw"), Detected: codec.Unknown()},
			wantArgs:      audioTranscode,
			wantTranscode: true,
			wantAlerts:    []string{"Incompatible audio codec"},
		},
		{
			name:          "transcode mode always transcodes",
			in:            NegotiationInput{Mode: AudioTranscode, Advertised: codec.Detected("pcm_mulaw"), Detected: codec.Unknown()},
			wantArgs:      audioTranscode,
			wantTranscode: true,
		},
		{
			name:     "aac mode copies with filter",
			in:       NegotiationInput{Mode: AudioAAC, Advertised: codec.Unknown(), Detected: codec.Unknown()},
			wantArgs: concat(audioCopy, aacFilters),
		},
		{
			name:     "compatible mode copies",
			in:       NegotiationInput{Mode: AudioCompatible, Advertised: codec.Unknown(), Detected: codec.Unknown()},
			wantArgs: audioCopy,
		},
		{
			name:     "pcm mode mutes the muxed outputs and parses pcm",
			in:       NegotiationInput{Mode: AudioPCM, Advertised: codec.Detected("pcm_alaw"), Detected: codec.Unknown()},
			wantArgs: audioMute,
			wantPCM:  true,
		},
		{
			name:         "pcm mode on a muted camera",
			in:           NegotiationInput{Mode: AudioPCM, Advertised: codec.Absent(), Detected: codec.Unknown()},
			wantArgs:     audioMute,
			wantDisabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Negotiate(tt.in)

			assert.Equal(t, tt.wantArgs, plan.AudioArgs)
			assert.Equal(t, videoCopy, plan.VideoArgs)
			assert.Equal(t, tt.wantProbing, plan.Probing)
			assert.Equal(t, tt.wantDisabled, plan.AudioDisabled)
			assert.Equal(t, tt.wantTranscode, plan.Transcode)
			assert.Equal(t, tt.wantPCM, plan.PCMParser)

			var alerts []string
			for _, w := range plan.Warnings {
				if w.Alert {
					alerts = append(alerts, w.Title)
				}
			}
			assert.Equal(t, tt.wantAlerts, alerts)
		})
	}
}

func TestNegotiate_AssumedCodec(t *testing.T) {
	plan := Negotiate(NegotiationInput{Advertised: codec.Detected("aac"), Detected: codec.Unknown()})
	assert.True(t, plan.Assumed.Is("aac"))
	assert.Equal(t, Resolved, plan.State())

	plan = Negotiate(NegotiationInput{Advertised: codec.Detected("aac"), Detected: codec.Detected("opus")})
	assert.True(t, plan.Assumed.Is("opus"))
}

func TestNegotiate_MismatchIsLoggedOnly(t *testing.T) {
	plan := Negotiate(NegotiationInput{Mode: AudioCompatible, Advertised: codec.Detected("aac"), Detected: codec.Detected("opus")})

	var messages []string
	for _, w := range plan.Warnings {
		assert.False(t, w.Alert)
		messages = append(messages, w.Message)
	}
	assert.Contains(t, messages, "audio codec reported aac but detected opus")
}

func TestVideoWarning(t *testing.T) {
	_, warn := VideoWarning("h264")
	assert.False(t, warn)

	w, warn := VideoWarning("hevc")
	assert.True(t, warn)
	assert.False(t, w.Alert)
	assert.Contains(t, w.Message, "hevc")

	w, warn = VideoWarning("")
	assert.True(t, warn)
	assert.Contains(t, w.Message, "unknown")
}
