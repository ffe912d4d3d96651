// Package web embeds the built frontend (dist/) and serves it as a
// single-page application.
//
// Run the frontend build before compiling for production; the checked-in
// dist/ only holds a placeholder page.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// assetsDir holds fingerprinted build output.
const assetsDir = "assets/"

// SPAHandler returns an http.Handler that serves the embedded frontend.
// Unknown paths fall back to index.html so client-side routes such as
// /chatbot or /challenges/thisMonth load the app.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return newSPAHandler(subFS)
}

func newSPAHandler(files fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(files))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == "." {
			name = "index.html"
		}

		if name != "index.html" && exists(files, name) {
			if strings.HasPrefix(name, assetsDir) {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		// API misses must not turn into the app shell.
		if strings.HasPrefix(name, "api/") {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func exists(files fs.FS, name string) bool {
	f, err := files.Open(name)
	if err != nil {
		return false
	}
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("Failed to close embedded file", "path", name, "error", closeErr)
	}
	return true
}
