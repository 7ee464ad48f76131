package demux

import (
	"strconv"
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
)

var (
	inputHeaderRegex = regexp.MustCompile(`^Input #0,`)
	outputRegex      = regexp.MustCompile(`^(Output #\d+|Stream mapping:|Press \[q\])`)
	streamRegex      = regexp.MustCompile(`^\s*Stream #0:\d+(?:\[[^\]]*\])?(?:\([^)]*\))?: (Video|Audio): ([A-Za-z0-9_]+)`)
	resolutionRegex  = regexp.MustCompile(`, (\d{2,5})x(\d{2,5})[ ,\[]`)
)

// InputProbe reads ffmpeg's stderr and records the codecs of input #0.
// It becomes ready once the input table has been printed.
type InputProbe struct {
	mu       sync.RWMutex
	inInput  bool
	video    string
	audio    string
	width    int
	height   int
	ready    chan struct{}
	readyOne sync.Once
}

// NewInputProbe creates a probe.
func NewInputProbe() *InputProbe {
	return &InputProbe{ready: make(chan struct{})}
}

// Feed consumes one stderr line.
func (p *InputProbe) Feed(line string) {
	if p.isReady() {
		return
	}

	switch {
	case inputHeaderRegex.MatchString(line):
		p.mu.Lock()
		p.inInput = true
		p.mu.Unlock()
		return
	case outputRegex.MatchString(line):
		p.mu.Lock()
		seen := p.inInput
		p.mu.Unlock()
		if seen {
			p.readyOne.Do(func() { close(p.ready) })
		}
		return
	}

	m := streamRegex.FindStringSubmatch(line)
	if m == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inInput {
		return
	}
	name := codec.Normalize(m[2])
	switch m[1] {
	case "Video":
		if p.video != "" {
			return
		}
		p.video = name
		if r := resolutionRegex.FindStringSubmatch(line + " "); r != nil {
			p.width, _ = strconv.Atoi(r[1])
			p.height, _ = strconv.Atoi(r[2])
		}
	case "Audio":
		if p.audio == "" {
			p.audio = name
		}
	}
}

// Ready is closed once the input table is complete.
func (p *InputProbe) Ready() <-chan struct{} {
	return p.ready
}

func (p *InputProbe) isReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// VideoCodec returns the detected video codec, empty if none.
func (p *InputProbe) VideoCodec() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.video
}

// AudioCodec returns the detected audio codec. Before the probe is ready the
// state is Unknown; afterwards a missing audio stream is Absent.
func (p *InputProbe) AudioCodec() codec.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.audio != "" {
		return codec.Detected(p.audio)
	}
	if p.isReady() {
		return codec.Absent()
	}
	return codec.Unknown()
}

// Resolution returns the video resolution, zero when unknown.
func (p *InputProbe) Resolution() (int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.width, p.height
}

// setResolution fills in the resolution when stderr did not report one.
func (p *InputProbe) setResolution(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.width == 0 && p.height == 0 {
		p.width, p.height = w, h
	}
}

// trimmedTail joins the last n lines for error messages.
func trimmedTail(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
