package httpx

import "net/http"

// DefaultCSP is served when no policy is configured.
const DefaultCSP = "default-src 'self'; img-src 'self' data:; frame-src 'none'; object-src 'none'; base-uri 'self'"

// SecurityHeaders sets the baseline browser hardening headers.
func SecurityHeaders(csp string) Middleware {
	if csp == "" {
		csp = DefaultCSP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// DocsCSP is DefaultCSP plus the inline scripts and styles the Swagger UI needs.
const DocsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-src 'none'; object-src 'none'; base-uri 'self'"

// OverrideCSP replaces the policy set by SecurityHeaders for one subtree.
func OverrideCSP(csp string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
