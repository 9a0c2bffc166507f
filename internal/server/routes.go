package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mantonx/rtsphls/internal/ui"
)

// setupRoutes mounts the module endpoints, the console and the route index
func setupRoutes(r *gin.Engine, module Module) {
	module.RegisterRoutes(r)
	ui.Register(r)

	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"module": gin.H{"id": module.ID(), "name": module.Name()},
			"routes": Routes(r),
		})
	})
}

// RouteInfo describes one registered endpoint
type RouteInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Routes lists the registered endpoints sorted by path
func Routes(r *gin.Engine) []RouteInfo {
	routes := r.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for _, rt := range routes {
		if rt.Method == http.MethodHead {
			continue
		}
		out = append(out, RouteInfo{Method: rt.Method, Path: rt.Path})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// RouteTable renders the endpoint list for the startup log
func (s *Server) RouteTable() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Method", "Path"})
	for _, rt := range Routes(s.engine) {
		t.AppendRow(table.Row{rt.Method, rt.Path})
	}
	t.SetStyle(table.StyleRounded)
	return t.Render()
}
