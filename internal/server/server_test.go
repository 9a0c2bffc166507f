package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeModule struct {
	shutdowns atomic.Int32
}

func (m *fakeModule) ID() string   { return "system.stream" }
func (m *fakeModule) Name() string { return "Live Stream Supervisor" }

func (m *fakeModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (m *fakeModule) Shutdown(ctx context.Context) error {
	m.shutdowns.Add(1)
	return nil
}

func testServerConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.Host = "127.0.0.1"
	cfg.ShutdownTimeout = config.Duration(2 * time.Second)
	return cfg
}

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := New(testServerConfig(), &fakeModule{}, hclog.NewNullLogger())
	require.NoError(t, err)

	t.Run("console", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("route index", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Module map[string]string `json:"module"`
			Routes []RouteInfo       `json:"routes"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "system.stream", body.Module["id"])
		assert.Contains(t, body.Routes, RouteInfo{Method: "GET", Path: "/api/health"})
		assert.Contains(t, body.Routes, RouteInfo{Method: "GET", Path: "/"})
	})

	t.Run("cors preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/health", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	assert.Contains(t, srv.RouteTable(), "/api/health")
}

func TestSetupRouter_InvalidProxies(t *testing.T) {
	cfg := testServerConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}
	_, err := New(cfg, &fakeModule{}, nil)
	assert.Error(t, err)
}

func TestServe_GracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testServerConfig()
	cfg.GRPCPort = 1 // listener supplied below

	module := &fakeModule{}
	srv, err := New(cfg, module, hclog.NewNullLogger())
	require.NoError(t, err)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	rpcCtx, rpcCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rpcCancel()
	check, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{Service: "system.stream"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.GetStatus())
	require.NoError(t, conn.Close())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, int32(1), module.shutdowns.Load())
}
