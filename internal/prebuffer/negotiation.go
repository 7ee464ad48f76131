package prebuffer

import (
	"fmt"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
)

// NegotiationState tracks audio codec negotiation for a controller.
type NegotiationState int

const (
	Unprobed NegotiationState = iota
	Probing
	Resolved
)

func (s NegotiationState) String() string {
	switch s {
	case Probing:
		return "probing"
	case Resolved:
		return "resolved"
	default:
		return "unprobed"
	}
}

var (
	videoCopy = []string{"-vcodec", "copy"}
	audioMute = []string{"-an"}
	audioCopy = []string{"-acodec", "copy"}
	// Strips the ADTS header from aac so it can be muxed into mpegts and mp4.
	// ffmpeg refuses to start when it is applied to anything else.
	aacFilters = []string{"-bsf:a", "aac_adtstoasc"}
	// mpegts does not support aac eld, so the encoder stays on aac_low.
	audioTranscode = []string{
		"-bsf:a", "aac_adtstoasc",
		"-ar", "8k",
		"-b:a", "100k",
		"-bufsize", "400k",
		"-ac", "1",
		"-acodec", "libfdk_aac",
		"-profile:a", "aac_low",
		"-flags", "+global_header",
	}
)

// NegotiationInput is the selected mode, what the camera advertises, and
// what a previous session detected.
type NegotiationInput struct {
	Mode       AudioMode
	Advertised codec.State
	Detected   codec.State
	CameraName string
}

// Warning is a non-fatal negotiation finding. Alerts are shown to the user;
// the rest are only logged.
type Warning struct {
	Alert   bool
	Title   string
	Message string
}

// Plan is the outcome of negotiation for one session start.
type Plan struct {
	// Probing starts the session with audio disabled to learn the real codec.
	Probing bool
	// AudioDisabled means no audio reaches viewers.
	AudioDisabled bool
	// Transcode means audio is re-encoded to aac.
	Transcode bool
	// PCMParser adds the raw s16le output.
	PCMParser bool
	VideoArgs []string
	AudioArgs []string
	// Assumed is the detected codec, or the advertised codec when nothing was detected.
	Assumed  codec.State
	Warnings []Warning
}

// State reports where a controller using this plan sits in negotiation.
func (p Plan) State() NegotiationState {
	if p.Probing {
		return Probing
	}
	return Resolved
}

// Negotiate decides the ffmpeg audio arguments for a session start.
func Negotiate(in NegotiationInput) Plan {
	muted := in.Advertised.IsAbsent()
	isDefault := in.Mode == AudioDefault

	plan := Plan{VideoArgs: videoCopy}

	if !muted && in.Advertised.IsUnknown() && isDefault && in.Detected.IsUnknown() {
		plan.Probing = true
		plan.Warnings = append(plan.Warnings, Warning{
			Message: "camera did not report an audio codec, muting the audio stream and probing the codec",
		})
	}

	// Cameras may send audio while reporting none to request muting.
	if !muted && in.Advertised.IsDetected() && !in.Detected.IsUnknown() && in.Detected != in.Advertised {
		plan.Warnings = append(plan.Warnings, Warning{
			Message: fmt.Sprintf("audio codec reported %s but detected %s", in.Advertised, in.Detected),
		})
	}

	plan.Assumed = in.Detected
	if in.Detected.IsUnknown() {
		plan.Assumed = in.Advertised
	}

	if !plan.Probing {
		plan.Warnings = append(plan.Warnings, assumedCodecWarnings(in, plan.Assumed)...)
	}

	detectedNone := in.Detected.IsAbsent()
	switch {
	case muted || plan.Probing || detectedNone:
		plan.AudioArgs = audioMute
		plan.AudioDisabled = true
	case in.Mode == AudioPCM:
		// Audio travels on the separate s16le output.
		plan.AudioArgs = audioMute
	case in.Mode == AudioTranscode || (in.Advertised.IsDetected() && !codec.IsCompatibleAudio(in.Advertised.Name())):
		plan.AudioArgs = audioTranscode
		plan.Transcode = true
	case in.Mode == AudioAAC:
		// The filter is harmless without an audio track, hence "AAC or No Audio".
		plan.AudioArgs = concat(audioCopy, aacFilters)
	case in.Mode == AudioCompatible:
		plan.AudioArgs = audioCopy
	default:
		if plan.Assumed.Is(string(codec.AudioAAC)) {
			plan.AudioArgs = concat(audioCopy, aacFilters)
		} else {
			plan.AudioArgs = audioCopy
		}
	}

	plan.PCMParser = in.Mode == AudioPCM && !muted && !detectedNone
	return plan
}

func assumedCodecWarnings(in NegotiationInput, assumed codec.State) []Warning {
	if !assumed.IsDetected() {
		return nil
	}

	isDefault := in.Mode == AudioDefault
	name := assumed.Name()
	if !codec.IsCompatibleAudio(name) {
		w := []Warning{{
			Message: fmt.Sprintf("configure the camera to output AAC, MP3, MP2, or Opus audio; suboptimal audio codec in use: %s", name),
		}}
		if isDefault {
			w = append(w, Warning{
				Alert: true,
				Title: "Incompatible audio codec",
				Message: fmt.Sprintf("%s is using the %s audio codec and has had its audio disabled. Select %q or %q in the stream's rebroadcast settings to suppress this alert.",
					in.CameraName, name, AudioAAC.Description(), AudioTranscode.Description()),
			})
		}
		return w
	}

	if isDefault && in.Advertised.IsUnknown() && in.Detected.IsDetected() {
		suggest := AudioCompatible
		if in.Detected.Is(string(codec.AudioAAC)) {
			suggest = AudioAAC
		}
		return []Warning{{
			Alert: true,
			Title: "Audio codec found by probe",
			Message: fmt.Sprintf("%s did not report a codec and %s was found during probe. Select %q in the stream's rebroadcast settings to suppress this alert.",
				in.CameraName, in.Detected.Name(), suggest.String()),
		}}
	}
	return nil
}

// VideoWarning flags video codecs other than h264.
func VideoWarning(videoCodec string) (Warning, bool) {
	if codec.IsBaselineVideo(videoCodec) {
		return Warning{}, false
	}
	name := videoCodec
	if name == "" {
		name = "unknown"
	}
	return Warning{
		Message: fmt.Sprintf("video codec is %s, not h264; if there are errors, change the camera's encoder output", name),
	}, true
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
