// Package deps reports whether the external binaries rtsphls drives are
// installed.
package deps

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Requirement defines an external dependency rtsphls relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Version     string
	Detail      string
}

// Requirements lists the binaries needed for the given ffmpeg path
func Requirements(ffmpegPath string) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpegPath,
			Description: "Pulls RTSP sources and writes HLS segments",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = resolved
		results = append(results, status)
	}
	return results
}

// CheckFFmpeg resolves ffmpegPath and reads its version banner
func CheckFFmpeg(ctx context.Context, ffmpegPath string) Status {
	status := CheckBinaries(Requirements(ffmpegPath))[0]
	if !status.Available {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, status.Path, "-hide_banner", "-version").Output()
	if err != nil {
		status.Available = false
		status.Detail = fmt.Sprintf("failed to run %s -version: %v", status.Command, err)
		return status
	}
	status.Version = ParseFFmpegVersion(string(out))
	return status
}

// ParseFFmpegVersion extracts the version token from `ffmpeg -version`
// output, e.g. "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func ParseFFmpegVersion(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 3 && fields[1] == "version" {
			return fields[2]
		}
	}
	return ""
}

// Missing returns the required dependencies that are unavailable
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
