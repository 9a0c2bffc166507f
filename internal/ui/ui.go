// Package ui serves the single-page operator console.
package ui

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed index.html
var indexHTML []byte

// Index serves the console page
func Index(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// Register mounts the console at "/"
func Register(router *gin.Engine) {
	router.GET("/", Index)
	router.HEAD("/", Index)
}
