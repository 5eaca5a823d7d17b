// Package server handles embedding and serving of the dashboard UI.
// Static files are embedded via the root-level webui package,
// which can access the sibling web/ directory via go:embed.
package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vesaa/healdash/webui"
)

// RegisterStaticFiles mounts the embedded dashboard on the Gin engine.
// API routes registered before this take precedence; unknown /api paths
// answer 404 JSON, everything else falls back to index.html.
func RegisterStaticFiles(r *gin.Engine) {
	staticFS := uiFS()
	fileServer := http.FileServer(staticFS)

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if path != "/" {
			if f, err := staticFS.Open(path); err == nil {
				stat, serr := f.Stat()
				f.Close()
				if serr == nil && !stat.IsDir() {
					fileServer.ServeHTTP(c.Writer, c.Request)
					return
				}
			}
		}
		f, err := staticFS.Open("index.html")
		if err != nil {
			c.String(http.StatusNotFound, "UI not found")
			return
		}
		defer f.Close()
		stat, _ := f.Stat()
		c.DataFromReader(http.StatusOK, stat.Size(), "text/html; charset=utf-8", f, nil)
	})
}

// uiFS serves web/dist when a production build is present, otherwise web/.
func uiFS() http.FileSystem {
	webRoot, err := fs.Sub(webui.FS, "web")
	if err != nil {
		panic("embed: web sub-fs failed: " + err.Error())
	}
	distFS, err := fs.Sub(webRoot, "dist")
	if err != nil {
		return http.FS(webRoot)
	}
	entries, _ := fs.ReadDir(distFS, ".")
	for _, e := range entries {
		if e.Name() != ".gitkeep" {
			return http.FS(distFS)
		}
	}
	return http.FS(webRoot)
}
