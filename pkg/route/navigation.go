package route

import (
	"net/http"
	"strings"
)

// IsNavigation reports whether req is a page-level navigation (a document
// request), the only kind that may receive the offline fallback.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
