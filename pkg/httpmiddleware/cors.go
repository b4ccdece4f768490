package httpmiddleware

import (
	"net/http"
	"path"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access for browser clients such as the
// bar and kitchen dashboards.
type CORSConfig struct {
	// Origins lists allowed origins. Entries may be shell patterns
	// ("https://*.bar.local"). Empty or "*" allows any origin.
	Origins []string
	// Headers allowed in requests. Defaults to Content-Type, api_key and
	// X-Request-ID.
	Headers []string
	// MaxAge of preflight results in seconds.
	MaxAge int
}

var (
	corsMethods = "GET, POST, PATCH, OPTIONS"
	corsHeaders = []string{"Content-Type", "api_key", "X-Request-ID"}
)

// CORS answers preflight requests and sets Access-Control headers on
// requests from allowed origins. Requests from other origins pass through
// without CORS headers and are rejected by the browser.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := len(cfg.Origins) == 0
	patterns := make([]string, 0, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
		}
		patterns = append(patterns, strings.ToLower(o))
	}
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = corsHeaders
	}
	allowHeaders := strings.Join(headers, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	allowed := func(origin string) bool {
		if anyOrigin {
			return true
		}
		origin = strings.ToLower(origin)
		for _, p := range patterns {
			if ok, _ := path.Match(p, origin); ok {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" || !allowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			if anyOrigin {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
