package prebuffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
)

// Storage keys. Per-stream keys carry the stream id as a suffix.
const (
	KeyPrebufferDuration = "prebufferDuration"
	KeySendKeyframe      = "sendKeyframe"
	KeyEnabledStreams    = "enabledStreams"
	KeyWarnedCloud       = "warnedCloud"

	audioConfigurationPrefix = "audioConfiguration-"
	inputArgumentsPrefix     = "ffmpegInputArguments-"
)

// DefaultInputArguments regenerates missing PTS so mpegts and mp4 muxing does not fail.
const DefaultInputArguments = "-fflags +genpts"

// InputArgumentPresets are suggested values for the input argument prefix.
var InputArgumentPresets = []string{
	DefaultInputArguments,
	"-use_wallclock_as_timestamps 1",
	"-v verbose",
}

// Storage is the per-camera key/value store.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
}

// AudioConfigurationKey returns the audio mode key for a stream.
func AudioConfigurationKey(streamID string) string {
	return audioConfigurationPrefix + streamID
}

// InputArgumentsKey returns the input argument prefix key for a stream.
func InputArgumentsKey(streamID string) string {
	return inputArgumentsPrefix + streamID
}

// AudioMode is the user-selected audio handling.
type AudioMode int

const (
	AudioDefault AudioMode = iota
	AudioAAC
	AudioCompatible
	AudioTranscode
	AudioPCM
)

var audioModeNames = map[AudioMode]string{
	AudioDefault:    "Default",
	AudioAAC:        "AAC or No Audio",
	AudioCompatible: "Compatible Audio",
	AudioTranscode:  "Other Audio",
	AudioPCM:        "PCM or G.711 Audio",
}

var audioModeSuffixes = map[AudioMode]string{
	AudioAAC:        " (Copy)",
	AudioCompatible: " (Copy)",
	AudioTranscode:  " (Transcode)",
	AudioPCM:        " (Copy, Unstable)",
}

// ParseAudioMode matches a stored value by prefix so values carrying a
// description suffix resolve. Unrecognised values are AudioDefault.
func ParseAudioMode(s string) AudioMode {
	for _, m := range []AudioMode{AudioAAC, AudioCompatible, AudioTranscode, AudioPCM} {
		if strings.HasPrefix(s, audioModeNames[m]) {
			return m
		}
	}
	return AudioDefault
}

func (m AudioMode) String() string {
	if name, ok := audioModeNames[m]; ok {
		return name
	}
	return audioModeNames[AudioDefault]
}

// Description returns the value offered to users, e.g. "Other Audio (Transcode)".
func (m AudioMode) Description() string {
	return m.String() + audioModeSuffixes[m]
}

// AudioModeChoices lists the selectable audio mode descriptions.
func AudioModeChoices() []string {
	modes := []AudioMode{AudioDefault, AudioAAC, AudioCompatible, AudioTranscode, AudioPCM}
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = m.Description()
	}
	return out
}

// StreamSettings is the typed per-stream configuration, loaded once when a
// session starts. Any change rebuilds the pool, so it is never reloaded.
type StreamSettings struct {
	PrebufferDuration time.Duration
	SendKeyframe      bool
	AudioMode         AudioMode
	InputArguments    string
}

// InputArgumentList splits the prefix into ffmpeg arguments.
func (s StreamSettings) InputArgumentList() []string {
	return ffmpeg.SplitArgs(s.InputArguments)
}

// LoadStreamSettings reads the settings for streamID, falling back to
// defaultWindow for the prebuffer duration.
func LoadStreamSettings(ctx context.Context, store Storage, streamID string, defaultWindow time.Duration) (StreamSettings, error) {
	s := StreamSettings{
		PrebufferDuration: defaultWindow,
		SendKeyframe:      true,
		InputArguments:    DefaultInputArguments,
	}

	var err error
	if s.PrebufferDuration, err = prebufferDuration(ctx, store, defaultWindow); err != nil {
		return s, err
	}
	if s.SendKeyframe, err = sendKeyframe(ctx, store); err != nil {
		return s, err
	}

	v, _, err := store.GetItem(ctx, AudioConfigurationKey(streamID))
	if err != nil {
		return s, fmt.Errorf("loading audio configuration: %w", err)
	}
	s.AudioMode = ParseAudioMode(v)

	v, ok, err := store.GetItem(ctx, InputArgumentsKey(streamID))
	if err != nil {
		return s, fmt.Errorf("loading input arguments: %w", err)
	}
	if ok && strings.TrimSpace(v) != "" {
		s.InputArguments = v
	}

	return s, nil
}

// sendKeyframe is on unless explicitly stored as "false".
func sendKeyframe(ctx context.Context, store Storage) (bool, error) {
	v, _, err := store.GetItem(ctx, KeySendKeyframe)
	if err != nil {
		return true, fmt.Errorf("loading %s: %w", KeySendKeyframe, err)
	}
	return v != "false", nil
}

// prebufferDuration reads the camera-wide window, or defaultWindow when unset or invalid.
func prebufferDuration(ctx context.Context, store Storage, defaultWindow time.Duration) (time.Duration, error) {
	v, ok, err := store.GetItem(ctx, KeyPrebufferDuration)
	if err != nil {
		return defaultWindow, fmt.Errorf("loading %s: %w", KeyPrebufferDuration, err)
	}
	if ms, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64); ok && perr == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return defaultWindow, nil
}

// enabledStreamNames returns the stored stream names, and false when the
// setting is missing or not a JSON list.
func enabledStreamNames(ctx context.Context, store Storage) ([]string, bool, error) {
	v, ok, err := store.GetItem(ctx, KeyEnabledStreams)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w", KeyEnabledStreams, err)
	}
	if !ok {
		return nil, false, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(v), &names); err != nil {
		return nil, false, nil
	}
	return names, true, nil
}

// encodeSetting renders a value for storage. Lists are stored as JSON.
func encodeSetting(key string, value any) (string, error) {
	if key == KeyEnabledStreams {
		b, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("encoding %s: %w", key, err)
		}
		return string(b), nil
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Setting is one user-visible setting or read-only diagnostic.
type Setting struct {
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Group       string   `json:"group,omitempty"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type,omitempty"`
	Value       any      `json:"value"`
	Choices     []string `json:"choices,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Readonly    bool     `json:"readonly,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`
	Combobox    bool     `json:"combobox,omitempty"`
}
