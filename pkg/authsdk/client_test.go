package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pressroom/cms/pkg/httpx"
)

// fakeAPI mimics the cookie behaviour of the auth API. The access cookie
// value "stale" is treated as expired.
type fakeAPI struct {
	refreshes atomic.Int32
	mux       *http.ServeMux
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{mux: http.NewServeMux()}
	cookies := httpx.CookieConfig{}

	f.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["email"] {
		case "mfa@x.com":
			httpx.WriteJSON(w, http.StatusOK, LoginResponse{Message: "Verification code sent to your email", UserID: "u2", TwoFactorRequired: true})
		case "ada@x.com":
			httpx.SetSessionCookie(w, cookies, AccessCookie, "stale", time.Minute)
			httpx.SetSessionCookie(w, cookies, RefreshCookie, "r1", time.Minute)
			httpx.WriteJSON(w, http.StatusOK, LoginResponse{Message: "Login successful", User: &User{ID: "u1", UserName: "ada"}})
		default:
			httpx.WriteError(w, http.StatusUnauthorized, "Email or Password is invalid")
		}
	})
	f.mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		if httpx.CookieValue(r, RefreshCookie) != "r1" {
			httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgInvalidToken)
			return
		}
		f.refreshes.Add(1)
		httpx.SetSessionCookie(w, cookies, AccessCookie, "fresh", time.Minute)
		httpx.SetSessionCookie(w, cookies, RefreshCookie, "r2", time.Minute)
		httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "Token refreshed"})
	})
	f.mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		switch httpx.CookieValue(r, AccessCookie) {
		case "fresh":
			httpx.WriteJSON(w, http.StatusOK, User{ID: "u1", UserName: "ada"})
		case "stale":
			w.Header().Set("WWW-Authenticate", `Cookie realm="cms", error="token_expired"`)
			httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgTokenExpired)
		default:
			w.Header().Set("WWW-Authenticate", `Cookie realm="cms", error="invalid_request"`)
			httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgNoToken)
		}
	})
	f.mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		httpx.ClearSessionCookies(w, cookies)
		httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
	})
	f.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "degraded",
			Checks: &HealthChecks{Database: "ok", Cache: "error"},
		})
	})
	return f
}

func TestClientRefreshesExpiredAccessToken(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.mux)
	defer srv.Close()

	ctx := context.Background()
	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, srv.URL, c.BaseURL)
	require.False(t, c.HasSession())

	res, err := c.Login(ctx, "ada@x.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "u1", res.User.ID)
	require.True(t, c.HasSession())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada", me.UserName)
	require.EqualValues(t, 1, api.refreshes.Load())

	// The rotated cookie is now fresh, so no further refresh happens.
	_, err = c.Me(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, api.refreshes.Load())

	require.NoError(t, c.Logout(ctx))
	require.False(t, c.HasSession())

	_, err = c.Me(ctx)
	require.True(t, IsUnauthorized(err))
	require.False(t, IsTokenExpired(err))
}

func TestClientWithoutAutoRefresh(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.mux)
	defer srv.Close()

	ctx := context.Background()
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	c.DisableAutoRefresh = true

	_, err = c.Login(ctx, "ada@x.com", "pw")
	require.NoError(t, err)

	_, err = c.Me(ctx)
	require.True(t, IsTokenExpired(err))
	require.Zero(t, api.refreshes.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, httpx.MsgTokenExpired, apiErr.Message)
	require.Equal(t, "token_expired", apiErr.Code)
}

func TestClientLoginOutcomes(t *testing.T) {
	srv := httptest.NewServer(newFakeAPI().mux)
	defer srv.Close()

	ctx := context.Background()
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	t.Run("two-factor pending", func(t *testing.T) {
		res, err := c.Login(ctx, "mfa@x.com", "pw")
		require.NoError(t, err)
		require.True(t, res.TwoFactorRequired)
		require.Equal(t, "u2", res.UserID)
		require.Nil(t, res.User)
		require.False(t, c.HasSession())
	})

	t.Run("bad credentials", func(t *testing.T) {
		_, err := c.Login(ctx, "nobody@x.com", "pw")
		require.Equal(t, http.StatusUnauthorized, StatusCode(err))
		require.Contains(t, err.Error(), "Email or Password is invalid")
	})
}

func TestClientReadinessDegraded(t *testing.T) {
	srv := httptest.NewServer(newFakeAPI().mux)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.GetReadiness(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestStatusCodeOfPlainError(t *testing.T) {
	require.Zero(t, StatusCode(context.Canceled))
	require.False(t, IsTokenExpired(nil))
}
