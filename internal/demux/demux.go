// Package demux runs an ingest process that remuxes one camera input into
// several container outputs and splits each output into stream chunks.
package demux

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/codec"
	"github.com/jmylchreest/rebroadcastr/internal/ffmpeg"
)

// Container is an output container produced by a session.
type Container string

// Supported containers.
const (
	ContainerMP4    Container = "mp4"
	ContainerMPEGTS Container = "mpegts"
	ContainerPCM    Container = "s16le"
)

// Containers lists every container in a stable order.
var Containers = []Container{ContainerMPEGTS, ContainerMP4, ContainerPCM}

// ParseContainer returns the container for s, or false when unsupported.
func ParseContainer(s string) (Container, bool) {
	for _, c := range Containers {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// ChunkType labels the contents of a chunk.
type ChunkType string

// Chunk types. Init is the fMP4 initialization segment (ftyp+moov).
const (
	ChunkInit ChunkType = "init"
	ChunkMoof ChunkType = "moof"
	ChunkMdat ChunkType = "mdat"
	ChunkTS   ChunkType = "mpegts"
	ChunkPCM  ChunkType = "s16le"
)

// Chunk is one unit of parsed output. Data is written to viewers in order.
type Chunk struct {
	Type ChunkType
	Data [][]byte
}

// Len returns the total payload size.
func (c Chunk) Len() int {
	n := 0
	for _, b := range c.Data {
		n += len(b)
	}
	return n
}

// Handler receives chunks. Calls for one container are sequential.
type Handler func(container Container, chunk Chunk)

// Input is what a session reads from.
type Input struct {
	URL            string
	InputArguments []string
}

// Options configure a session.
type Options struct {
	Containers []Container
	// VideoArgs and AudioArgs are applied to the mp4 and mpegts outputs.
	VideoArgs []string
	AudioArgs []string
	// Timeout bounds how long Start waits for the input description.
	Timeout time.Duration
	Handler Handler
}

// Session is a running demux process.
type Session interface {
	// Done is closed once the process has exited and no more chunks will be delivered.
	Done() <-chan struct{}
	Kill()
	IsActive() bool
	InputVideoCodec() string
	InputAudioCodec() codec.State
	InputVideoResolution() (width, height int)
	Stats(ctx context.Context) (*ffmpeg.ProcessStats, error)
}

// Starter starts sessions.
type Starter interface {
	Start(ctx context.Context, input Input, opts Options) (Session, error)
}

var (
	// ErrStartTimeout is returned when the input description never arrived.
	ErrStartTimeout = errors.New("timed out waiting for input streams")
	// ErrExited is returned when the process exited before it was ready.
	ErrExited = errors.New("ingest process exited")
	// ErrNoContainers is returned when Options names no outputs.
	ErrNoContainers = errors.New("no output containers requested")
)

// outputArgs returns the ffmpeg arguments for one container output.
func outputArgs(c Container, opts Options) []string {
	switch c {
	case ContainerPCM:
		return []string{"-vn", "-acodec", "pcm_s16le", "-f", "s16le"}
	case ContainerMP4:
		args := append([]string{}, opts.VideoArgs...)
		args = append(args, opts.AudioArgs...)
		return append(args, "-f", "mp4", "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	default:
		args := append([]string{}, opts.VideoArgs...)
		args = append(args, opts.AudioArgs...)
		return append(args, "-f", "mpegts")
	}
}
