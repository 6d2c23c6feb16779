package webserver

import (
	"net/http"
	"strings"
)

// apiRedirectRouter is an http middleware. It accepts an http.Handler and
// returns a new http.Handler which adds the current api version to
// unversioned api calls (/api/sources becomes /api/v1.0/sources). This
// avoids a redirect and a second HTTP call to the versioned URL.
func (web *WebServer) apiRedirectRouter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {

		if strings.HasPrefix(req.URL.Path, "/api/") {
			if !web.apiMatch.MatchString(req.URL.Path) {
				req.URL.Path = strings.Replace(req.URL.Path, "api", "api/v"+web.apiVersion, 1)
			}
		}
		next.ServeHTTP(w, req)
	})
}
