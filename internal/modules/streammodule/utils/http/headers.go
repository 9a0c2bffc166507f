// Package http provides HTTP header helpers for serving live HLS artifacts.
package http

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetContentHeaders sets the MIME type of an HLS artifact from its name
func SetContentHeaders(c *gin.Context, fileName string) {
	switch {
	case strings.HasSuffix(fileName, ".m3u8"):
		c.Header("Content-Type", "application/vnd.apple.mpegurl")
		c.Header("Access-Control-Allow-Origin", "*") // hls.js fetches cross-origin
		c.Header("Access-Control-Allow-Headers", "Content-Type")

	case strings.HasSuffix(fileName, ".ts"):
		c.Header("Content-Type", "video/mp2t")

	case strings.HasSuffix(fileName, ".m4s"):
		c.Header("Content-Type", "video/iso.segment")

	case strings.HasSuffix(fileName, ".jpg"), strings.HasSuffix(fileName, ".jpeg"):
		c.Header("Content-Type", "image/jpeg")

	case strings.HasSuffix(fileName, ".webp"):
		c.Header("Content-Type", "image/webp")

	default:
		// Let Gin determine the content type
	}

	c.Header("X-Content-Type-Options", "nosniff")
}

// SetLiveCacheHeaders disables caching. Live playlists and snapshots are
// rewritten every segment, so any cached copy is stale.
func SetLiveCacheHeaders(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

// SetSegmentCacheHeaders allows short caching of a segment. Segment names
// are never reused within a session.
func SetSegmentCacheHeaders(c *gin.Context, maxAgeSeconds int) {
	if maxAgeSeconds <= 0 {
		SetLiveCacheHeaders(c)
		return
	}
	c.Header("Cache-Control", "public, max-age="+strconv.Itoa(maxAgeSeconds))
}

// IsPlaylist reports whether fileName is an HLS playlist
func IsPlaylist(fileName string) bool {
	return strings.HasSuffix(fileName, ".m3u8")
}
