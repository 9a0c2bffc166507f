package api

import (
	"errors"
	"image/jpeg"
	"net/http"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
	"github.com/mantonx/rtsphls/internal/logger"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/storage"
	httputil "github.com/mantonx/rtsphls/internal/modules/streammodule/utils/http"
)

// ServeHLS handles GET /hls/:id/*file. Artifacts are served from disk
// whether or not the session is still registered, so a stopped session
// stays inspectable.
func (h *APIHandler) ServeHLS(c *gin.Context) {
	id := c.Param("id")
	fileName := strings.TrimPrefix(c.Param("file"), "/")

	path, err := h.artifacts.ResolveArtifact(id, fileName)
	if err != nil {
		h.artifactError(c, err)
		return
	}

	httputil.SetContentHeaders(c, fileName)
	if httputil.IsPlaylist(fileName) {
		httputil.SetLiveCacheHeaders(c)
	} else {
		httputil.SetSegmentCacheHeaders(c, h.opts.SegmentMaxAge)
	}
	c.File(path)
}

// ServeSnapshot handles GET /snapshot/:id. The worker writes a JPEG; it is
// re-encoded to WebP unless ?format=jpeg is given.
func (h *APIHandler) ServeSnapshot(c *gin.Context) {
	id := c.Param("id")

	path, err := h.artifacts.ResolveArtifact(id, h.opts.SnapshotName)
	if err != nil {
		h.artifactError(c, err)
		return
	}

	httputil.SetLiveCacheHeaders(c)

	if c.Query("format") == "jpeg" {
		httputil.SetContentHeaders(c, h.opts.SnapshotName)
		c.File(path)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.artifactError(c, storage.ErrArtifactNotFound)
		return
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		// The worker may be halfway through rewriting the frame
		logger.Debug("snapshot not decodable yet", "session_id", id, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "not_ready",
			"detail": "Snapshot is being written, retry shortly",
		})
		return
	}

	httputil.SetContentHeaders(c, "snapshot.webp")
	c.Status(http.StatusOK)
	if err := webp.Encode(c.Writer, img, &webp.Options{Quality: 80}); err != nil {
		logger.Warn("failed to encode snapshot", "session_id", id, "error", err)
	}
}

func (h *APIHandler) artifactError(c *gin.Context, err error) {
	detail := "File not found"
	if errors.Is(err, storage.ErrInvalidID) || errors.Is(err, storage.ErrInvalidArtifact) {
		detail = "Invalid artifact path"
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":  "not_found",
		"detail": detail,
	})
}
