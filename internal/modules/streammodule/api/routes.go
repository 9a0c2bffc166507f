package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the stream module routes.
//
// API Structure:
//
//	POST /start              - start transcoding a live source
//	POST /stop               - stop a session
//	GET  /status/:id         - fresh liveness of a session
//	GET  /hls/:id/*file      - playlist and segments (under the public prefix)
//	GET  /snapshot/:id       - latest still frame
//
//	/api
//	├── /sessions            - live sessions
//	├── /sessions/:id        - inspection of one session
//	├── /history             - persisted session records
//	├── /events              - WebSocket lifecycle events
//	└── /health              - liveness of the supervisor
func RegisterRoutes(router *gin.Engine, handler *APIHandler) {
	router.POST("/start", handler.StartStream)
	router.POST("/stop", handler.StopStream)
	router.GET("/status/:id", handler.GetStatus)

	hls := router.Group(handler.opts.PublicPrefix)
	{
		hls.GET("/:id/*file", handler.ServeHLS)
		hls.HEAD("/:id/*file", handler.ServeHLS)
	}
	router.GET("/snapshot/:id", handler.ServeSnapshot)

	api := router.Group("/api")
	{
		api.GET("/sessions", handler.ListSessions)
		api.GET("/sessions/:id", handler.GetSession)
		api.GET("/history", handler.GetHistory)
		api.GET("/health", handler.Health)

		if handler.events != nil {
			api.GET("/events", handler.StreamEvents)
		} else {
			api.GET("/events", eventsUnavailable)
		}
	}
}
