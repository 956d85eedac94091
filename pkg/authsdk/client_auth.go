package authsdk

import (
	"context"
	"net/http"
)

// Register creates an account. On success the server sets the access
// cookie only; call Login to get a refreshable session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/register", req)
	if err != nil {
		return nil, err
	}

	var out RegisterResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates with email and password. If the account has
// two-factor enabled, the result has TwoFactorRequired set and the caller
// must finish with VerifyTwoFactor.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTwoFactor submits the emailed code and opens the session.
func (c *Client) VerifyTwoFactor(ctx context.Context, userID, code string) (*LoginResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/verify-2fa", map[string]string{
		"userId": userID,
		"code":   code,
	})
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh rotates both cookies. The old refresh token stops working.
func (c *Client) Refresh(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/refresh-token", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}

// Logout revokes the refresh session. The server clears both cookies even
// when it reports an error.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/logout", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusOK)
}
