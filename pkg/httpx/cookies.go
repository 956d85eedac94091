package httpx

import (
	"net/http"
	"time"
)

// Cookie names shared with the first-party client.
const (
	AccessCookie  = "token"
	RefreshCookie = "refreshToken"
)

// CookieConfig holds the attributes common to both session cookies.
type CookieConfig struct {
	Secure bool
	Domain string
	Path   string
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// SetSessionCookie writes an httpOnly, SameSite=Strict cookie whose max-age
// matches ttl.
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.path(),
		Domain:   cfg.Domain,
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cfg.path(),
			Domain:   cfg.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// CookieValue returns the named cookie's value, or "" when absent.
func CookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
