// Package ffmpeg provides FFmpeg binary detection and process wrapper functionality.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grafana/regexp"
)

// BinaryEnvVar overrides the ffmpeg binary location.
const BinaryEnvVar = "REBROADCASTR_FFMPEG_BINARY"

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	BuildDate     string   `json:"build_date,omitempty"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
}

var (
	versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)
	encoderRegex = regexp.MustCompile(`^\s*[VAS][F.][S.][X.][B.][D.]\s+(\S+)`)
)

// BinaryDetector handles detection and caching of the FFmpeg binary.
type BinaryDetector struct {
	configured string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a new binary detector. A non-empty configured
// path takes precedence over the environment and PATH lookup.
func NewBinaryDetector(configuredPath string) *BinaryDetector {
	return &BinaryDetector{
		configured: configuredPath,
		cacheTTL:   5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect finds the ffmpeg binary and reads its version and encoders.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Path returns the ffmpeg path without probing its capabilities.
func (d *BinaryDetector) Path() (string, error) {
	if d.configured != "" {
		if !isExecutable(d.configured) {
			return "", fmt.Errorf("configured ffmpeg %s is not executable", d.configured)
		}
		return d.configured, nil
	}
	return FindBinary("ffmpeg", BinaryEnvVar)
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	path, err := d.Path()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	info.FFmpegPath = path

	if out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}

	return info, nil
}

// parseVersion reads the output of `ffmpeg -version`.
func parseVersion(output string) (*BinaryInfo, error) {
	info := &BinaryInfo{}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Version = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.MajorVersion, _ = strconv.Atoi(m[1])
				info.MinorVersion, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}
	if info.Version == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoders reads the output of `ffmpeg -encoders`.
func parseEncoders(output string) []string {
	var encoders []string
	for _, line := range strings.Split(output, "\n") {
		if m := encoderRegex.FindStringSubmatch(line); len(m) == 2 && m[1] != "=" {
			encoders = append(encoders, m[1])
		}
	}
	return encoders
}

// HasEncoder reports whether the binary was built with the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	for _, e := range info.Encoders {
		if e == name {
			return true
		}
	}
	return false
}

// JSON returns the info as indented JSON.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// FindBinary locates an executable. Search order: envVar, ./name, PATH.
func FindBinary(name string, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
