// Package webdav_handler mounts a read-only WebDAV view of the served root so
// the share can be opened from a file manager.
package webdav_handler

import (
	"net/http"
	"os"
	"sync"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/webdav"
)

// Prefix is where the view is mounted.
const Prefix = "/dav"

// Methods are the WebDAV verbs Fiber has to route in addition to its
// defaults.
var Methods = []string{"PROPFIND"}

const allow = "OPTIONS, GET, HEAD, PROPFIND"

var readOnly = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	"PROPFIND":         true,
}

// NewHandler creates a Fiber handler for serving WebDAV. root is asked on
// every request so a restart with a different root is picked up.
func NewHandler(root func() string) fiber.Handler {
	ls := webdav.NewMemLS()

	var mu sync.Mutex
	handlers := make(map[string]*webdav.Handler)
	davFor := func(dir string) *webdav.Handler {
		mu.Lock()
		defer mu.Unlock()
		h, ok := handlers[dir]
		if !ok {
			h = &webdav.Handler{
				Prefix:     Prefix,
				FileSystem: webdav.Dir(dir),
				LockSystem: ls,
			}
			handlers[dir] = h
		}
		return h
	}

	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !readOnly[r.Method] {
			w.Header().Set("Allow", allow)
			http.Error(w, "read-only share", http.StatusMethodNotAllowed)
			return
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("DAV", "1")
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusOK)
			return
		}
		dir := root()
		if fi, err := os.Stat(dir); dir == "" || err != nil || !fi.IsDir() {
			http.Error(w, "No folder is served", http.StatusNotFound)
			return
		}
		davFor(dir).ServeHTTP(w, r)
	})

	return adaptor.HTTPHandler(httpHandler)
}
