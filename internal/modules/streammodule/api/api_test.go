package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/database"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/events"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/session"
	"github.com/mantonx/rtsphls/internal/modules/streammodule/core/storage"
	streamerrors "github.com/mantonx/rtsphls/internal/modules/streammodule/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "0123456789abcdef0123456789abcdef"

type fakeService struct {
	mu       sync.Mutex
	sessions map[string]session.Info
	startErr error
	history  []database.LiveSession
	noDB     bool
}

func newFakeService() *fakeService {
	return &fakeService{sessions: make(map[string]session.Info)}
}

func (f *fakeService) StartSession(ctx context.Context, sourceURL string) (session.Info, error) {
	if !strings.HasPrefix(sourceURL, "rtsp://") {
		return session.Info{}, streamerrors.InvalidSource("start_session", sourceURL)
	}
	if f.startErr != nil {
		return session.Info{}, f.startErr
	}
	info := session.Info{ID: testID, PlaylistURL: "/hls/" + testID + "/index.m3u8", State: session.StateRunning, Running: true}
	f.mu.Lock()
	f.sessions[testID] = info
	f.mu.Unlock()
	return info, nil
}

func (f *fakeService) StopSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return streamerrors.NotFound("stop_session", id)
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeService) QueryStatus(id string) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return session.Status{}, streamerrors.NotFound("query_status", id)
	}
	return session.Status{ID: id, Running: info.Running, State: info.State}, nil
}

func (f *fakeService) ListSessions() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []session.Info
	for _, info := range f.sessions {
		list = append(list, info)
	}
	return list
}

func (f *fakeService) Inspect(ctx context.Context, id string) (*session.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[id]
	if !ok {
		return nil, streamerrors.NotFound("inspect", id)
	}
	return &session.Inspection{Info: info, StderrTail: "frame=  10"}, nil
}

func (f *fakeService) History(limit int) ([]database.LiveSession, error) {
	if f.noDB {
		return nil, streamerrors.ErrHistoryDisabled
	}
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeService) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type testEnv struct {
	router  *gin.Engine
	service *fakeService
	storage *storage.Manager
	hub     *events.Hub
}

func setupTest(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := storage.NewManager(t.TempDir(), "/hls", "index.m3u8", hclog.NewNullLogger())
	require.NoError(t, err)

	env := &testEnv{
		router:  gin.New(),
		service: newFakeService(),
		storage: m,
		hub:     events.NewHub(8),
	}
	RegisterRoutes(env.router, NewAPIHandler(env.service, m, env.hub, opts))
	return env
}

func (e *testEnv) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestStartStopStatus(t *testing.T) {
	env := setupTest(t, Options{})

	w := env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, testID, body["id"])
	assert.Equal(t, "/hls/"+testID+"/index.m3u8", body["hls_url"])

	w = env.do(http.MethodGet, "/status/"+testID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "running", body["state"])

	w = env.do(http.MethodPost, "/stop", "application/json", `{"id":"`+testID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testID, decode(t, w)["stopped"])

	// Unknown ids report not running by default
	w = env.do(http.MethodGet, "/status/"+testID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, testID, body["id"])
}

func TestStart_Errors(t *testing.T) {
	env := setupTest(t, Options{})

	w := env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"http://cam.local/stream"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid_source", body["error"])
	assert.Equal(t, "Invalid RTSP URL", body["detail"])

	w = env.do(http.MethodPost, "/start", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])

	w = env.do(http.MethodPost, "/start", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.service.startErr = streamerrors.WorkerStart("start_session", fmt.Errorf("exec: \"ffmpeg\": executable file not found in $PATH"))
	w = env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode(t, w)
	assert.Equal(t, "worker_start", body["error"])
	assert.Contains(t, body["detail"], "ffmpeg start failed")

	env.service.startErr = streamerrors.CapacityExceeded("start_session", 2)
	w = env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Too many active streams", decode(t, w)["detail"])

	env.service.startErr = streamerrors.SourceUnreachable("start_session", fmt.Errorf("connection refused"))
	w = env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStop_TextPlainBeacon(t *testing.T) {
	env := setupTest(t, Options{})
	env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)

	w := env.do(http.MethodPost, "/stop", "text/plain;charset=UTF-8", `{"id":"`+testID+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.service.Count())
}

func TestStop_Unknown(t *testing.T) {
	env := setupTest(t, Options{})

	w := env.do(http.MethodPost, "/stop", "application/json", `{"id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "Stream id not found", body["detail"])
}

func TestStatus_Strict(t *testing.T) {
	env := setupTest(t, Options{StrictStatus: true})

	w := env.do(http.MethodGet, "/status/"+testID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHLS(t *testing.T) {
	env := setupTest(t, Options{SegmentMaxAge: 30})
	dir, err := env.storage.Allocate(testID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index0.ts"), []byte{0x47}, 0644))

	w := env.do(http.MethodGet, "/hls/"+testID+"/index.m3u8", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, "#EXTM3U\n", w.Body.String())

	w = env.do(http.MethodGet, "/hls/"+testID+"/index0.ts", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=30", w.Header().Get("Cache-Control"))

	for _, path := range []string{
		"/hls/" + testID + "/index1.ts",
		"/hls/" + testID + "/../../etc/passwd",
		"/hls/not-an-id/index.m3u8",
	} {
		w = env.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestServeSnapshot(t *testing.T) {
	env := setupTest(t, Options{})
	dir, err := env.storage.Allocate(testID)
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/snapshot/"+testID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	for x := 0; x < 16; x++ {
		img.Set(x, 4, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot.jpg"), buf.Bytes(), 0644))

	w = env.do(http.MethodGet, "/snapshot/"+testID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))

	decoded, err := webp.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())

	w = env.do(http.MethodGet, "/snapshot/"+testID+"?format=jpeg", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	// A truncated frame is reported as not ready
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot.jpg"), buf.Bytes()[:10], 0644))
	w = env.do(http.MethodGet, "/snapshot/"+testID, "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSessionsAndHistory(t *testing.T) {
	env := setupTest(t, Options{})
	env.do(http.MethodPost, "/start", "application/json", `{"rtsp":"rtsp://cam.local/stream"}`)

	w := env.do(http.MethodGet, "/api/sessions", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(http.MethodGet, "/api/sessions/"+testID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "frame=  10", decode(t, w)["stderr_tail"])

	w = env.do(http.MethodGet, "/api/sessions/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.service.history = []database.LiveSession{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	w = env.do(http.MethodGet, "/api/history?limit=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = env.do(http.MethodGet, "/api/history?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.service.noDB = true
	w = env.do(http.MethodGet, "/api/history", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestStreamEvents(t *testing.T) {
	env := setupTest(t, Options{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])

	// The subscription is registered before the greeting is written
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	env.hub.Publish(events.NewEvent(events.EventSessionStarted, testID, "session started"))

	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventSessionStarted, got.Type)
	assert.Equal(t, testID, got.SessionID)

	conn.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
