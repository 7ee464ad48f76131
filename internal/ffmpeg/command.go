package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxStderrLines = 100

// ErrNotStarted is returned when operating on a command that has not been started.
var ErrNotStarted = errors.New("command not started")

// Output is one ffmpeg output: its arguments followed by the target URL.
type Output struct {
	Args   []string
	Target string
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	outputs    []Output
	onStderr   func(line string)
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "info",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// InputArgs adds input arguments. Callers include their own -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input adds an -i input.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-i", input)
	return b
}

// Output adds an output with its arguments.
func (b *CommandBuilder) Output(target string, args ...string) *CommandBuilder {
	b.outputs = append(b.outputs, Output{Args: args, Target: target})
	return b
}

// OnStderr registers a callback invoked for every stderr line.
func (b *CommandBuilder) OnStderr(fn func(line string)) *CommandBuilder {
	b.onStderr = fn
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	for _, o := range b.outputs {
		args = append(args, o.Args...)
		args = append(args, o.Target)
	}

	cmd := NewCommand(b.binary, args...)
	cmd.onStderr = b.onStderr
	return cmd
}

// Command is a running or runnable ffmpeg process. Output is consumed by
// the caller over sockets; stderr is scanned line by line.
type Command struct {
	Binary string
	Args   []string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	waitErr error

	onStderr    func(line string)
	stderrMu    sync.RWMutex
	stderrLines []string
}

// NewCommand wraps an arbitrary binary and argument list.
func NewCommand(binary string, args ...string) *Command {
	return &Command{
		Binary: binary,
		Args:   args,
		done:   make(chan struct{}),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start starts the process in its own process group. Cancelling ctx kills
// the whole group.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	c.cmd = cmd
	c.started = time.Now()

	stderrDone := make(chan struct{})
	go c.captureStderr(stderr, stderrDone)
	go func() {
		<-stderrDone
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(c.done)
	}()

	return nil
}

// Done is closed when the process has exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the process exits and returns its exit error.
func (c *Command) Wait() error {
	c.mu.RLock()
	started := c.cmd != nil
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	<-c.done
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waitErr
}

// Kill terminates the process group.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return killProcessGroup(cmd)
}

// IsRunning returns true if the process has started and not exited.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	started := c.cmd != nil
	c.mu.RUnlock()
	if !started {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// PID returns the process id, or 0 before start.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// StderrLines returns the most recent stderr lines.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()
	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// ProcessStats samples resource usage for the running process.
func (c *Command) ProcessStats(ctx context.Context) (*ProcessStats, error) {
	pid := c.PID()
	if pid == 0 {
		return nil, ErrNotStarted
	}
	stats, err := SampleProcess(ctx, pid)
	if err != nil {
		return nil, err
	}
	stats.Duration = c.Duration()
	return stats, nil
}

func (c *Command) captureStderr(stderr io.Reader, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	// ffmpeg terminates progress lines with \r.
	scanner.Split(scanLinesCR)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if c.onStderr != nil {
			c.onStderr(line)
		}
	}
	// Drain so the process never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, stderr)
}

func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
