package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := hclog.Default()
	t.Cleanup(func() { logger.SetDefault(prev) })

	var buf bytes.Buffer
	l, _ := logger.New(logger.Options{Level: "debug", Output: &buf})
	logger.SetDefault(l)
	return &buf
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), RequestLogger("/hls/"), ErrorLogger())
	return r
}

func TestRequestID(t *testing.T) {
	r := newRouter()
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())

	// A valid incoming id is propagated, garbage is replaced
	given := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, given)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, given, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "<script>", w.Header().Get(RequestIDHeader))
}

func TestRequestLogger_PreservesBody(t *testing.T) {
	logs := captureLogs(t)
	r := newRouter()
	r.POST("/stop", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	payload := `{"id":"abc"}` + strings.Repeat(" ", 2000)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stop", strings.NewReader(payload)))

	assert.Equal(t, payload, w.Body.String())
	assert.Contains(t, logs.String(), "HTTP Request")
	assert.Contains(t, logs.String(), "status=200")
}

func TestRequestLogger_SkipsQuietPaths(t *testing.T) {
	logs := captureLogs(t)
	r := newRouter()
	r.GET("/api/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/hls/:id/*file", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/api/health", "/hls/x/index.m3u8"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	assert.Empty(t, logs.String())
}

func TestErrorLogger(t *testing.T) {
	logs := captureLogs(t)
	r := newRouter()
	r.GET("/fail", func(c *gin.Context) {
		c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Contains(t, logs.String(), "Request error")
	assert.Contains(t, logs.String(), assert.AnError.Error())
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.POST("/start", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/start", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
