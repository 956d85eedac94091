package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Me returns the caller's own profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.doAuthJSON(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SetTwoFactor turns email two-factor on or off for the caller.
func (c *Client) SetTwoFactor(ctx context.Context, enabled bool) (*User, error) {
	var out UserResponse
	err := c.doAuthJSON(ctx, http.MethodPut, "/api/auth/2fa", map[string]bool{"enabled": enabled}, &out)
	if err != nil {
		return nil, err
	}
	return &out.User, nil
}

// GetUser fetches any user by id. Requires the admin role.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.doAuthJSON(ctx, http.MethodGet, "/api/auth/users/"+url.PathEscape(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
