package worker

import "time"

// Options holds the fixed encoding template and process handling knobs.
// None of these are client-provided; they come from configuration only.
type Options struct {
	Binary         string
	RTSPTransport  string
	ScaleWidth     int
	VideoCodec     string
	Preset         string
	Tune           string
	GOPSize        int
	SegmentSeconds int
	ListSize       int
	HLSFlags       string
	PlaylistName   string

	// SnapshotInterval enables a second output refreshing a still frame
	// every interval. Zero disables it.
	SnapshotInterval time.Duration
	SnapshotName     string
	SnapshotWidth    int

	CaptureStderr     bool
	StderrBufferBytes int

	GracePeriod time.Duration
	KillTimeout time.Duration
}

// DefaultOptions returns the low-latency template used for camera feeds
func DefaultOptions() Options {
	return Options{
		Binary:            "ffmpeg",
		RTSPTransport:     "udp",
		ScaleWidth:        640,
		VideoCodec:        "libx264",
		Preset:            "veryfast",
		Tune:              "zerolatency",
		GOPSize:           30,
		SegmentSeconds:    1,
		ListSize:          3,
		HLSFlags:          "delete_segments+append_list",
		PlaylistName:      "index.m3u8",
		SnapshotName:      "snapshot.jpg",
		SnapshotWidth:     320,
		CaptureStderr:     true,
		StderrBufferBytes: 64 * 1024,
		GracePeriod:       3 * time.Second,
		KillTimeout:       2 * time.Second,
	}
}
