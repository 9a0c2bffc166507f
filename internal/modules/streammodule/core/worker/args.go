package worker

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// BuildArgs builds the ffmpeg argument list for one session. The source URL
// and output directory are the only per-session inputs.
func BuildArgs(opts Options, sourceURL, outputDir string) []string {
	args := []string{
		"-rtsp_transport", opts.RTSPTransport,
		"-i", sourceURL,
		"-vf", fmt.Sprintf("scale=w=%d:h=-2", opts.ScaleWidth),
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-tune", opts.Tune,
		"-g", strconv.Itoa(opts.GOPSize),
		"-sc_threshold", "0",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "hls",
		"-hls_time", strconv.Itoa(opts.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(opts.ListSize),
		"-hls_flags", opts.HLSFlags,
		filepath.Join(outputDir, opts.PlaylistName),
	}

	if opts.SnapshotInterval > 0 {
		args = append(args, snapshotArgs(opts, outputDir)...)
	}

	return args
}

func snapshotArgs(opts Options, outputDir string) []string {
	secs := int(opts.SnapshotInterval / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{
		"-an",
		"-vf", fmt.Sprintf("fps=1/%d,scale=w=%d:h=-2", secs, opts.SnapshotWidth),
		"-q:v", "5",
		"-update", "1",
		"-y",
		filepath.Join(outputDir, opts.SnapshotName),
	}
}
