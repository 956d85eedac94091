package authsdk

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Client talks to the CMS auth API. It is safe for concurrent use, but all
// goroutines share one cookie session.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// DisableAutoRefresh turns off the refresh-and-retry on expired access
	// tokens.
	DisableAutoRefresh bool
}

// NewClient returns a client with its own cookie jar.
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
	}, nil
}

// HasSession reports whether the jar holds an access or refresh cookie
// for the base URL.
func (c *Client) HasSession() bool {
	if c.HTTPClient == nil || c.HTTPClient.Jar == nil {
		return false
	}
	u, err := url.Parse(c.BaseURL + "/api/auth/")
	if err != nil {
		return false
	}
	for _, ck := range c.HTTPClient.Jar.Cookies(u) {
		if (ck.Name == AccessCookie || ck.Name == RefreshCookie) && ck.Value != "" {
			return true
		}
	}
	return false
}
