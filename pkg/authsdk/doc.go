/*
Package authsdk is a Go client for the CMS auth API.

The API keeps its session in two httpOnly cookies, so the client holds a
cookie jar and never sees the tokens directly. A Client is one browser-like
session: register or log in, then call the authenticated endpoints.

	c, err := authsdk.NewClient("https://cms.example.com")
	if err != nil {
		return err
	}

	res, err := c.Login(ctx, "ada@example.com", "Str0ng!pass")
	if err != nil {
		return err
	}
	if res.TwoFactorRequired {
		res, err = c.VerifyTwoFactor(ctx, res.UserID, code)
	}

	me, err := c.Me(ctx)

# Refresh

When an authenticated call fails with an expired access token the client
calls /api/auth/refresh-token once and retries the request. Set
DisableAutoRefresh to handle refresh yourself.

# Errors

Non-2xx responses come back as *APIError carrying the status code and the
server's message. IsTokenExpired, IsUnauthorized and StatusCode help
callers branch on them.
*/
package authsdk
