package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/michaelbrown/sandboxer/web"
)

// spaHandler serves the embedded UI. Unknown paths get index.html.
func spaHandler() http.Handler {
	dist, _ := fs.Sub(web.Assets, "dist")
	fileServer := http.FileServer(http.FS(dist))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		if path != "" {
			if f, err := dist.Open(path); err == nil {
				f.Close()
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
