package httpx

import (
	"errors"
	"net/http"

	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

// Messages the client branches on.
const (
	MsgNoToken      = "Unauthorized: No token"
	MsgTokenExpired = "Unauthorized: Token expired"
	MsgInvalidToken = "Unauthorized: Invalid token"
)

// TokenVerifier is the part of jwtx.Codec the middleware needs.
type TokenVerifier interface {
	Verify(kind jwtx.Kind, token string) (jwtx.Claims, error)
}

// Authenticate verifies the access cookie and attaches the trusted identity.
// An expired token gets its own message and WWW-Authenticate error so the
// client knows to call refresh.
func Authenticate(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw := CookieValue(r, AccessCookie)
			if raw == "" {
				writeCookieError(w, "invalid_request", MsgNoToken)
				return
			}

			claims, err := v.Verify(jwtx.KindAccess, raw)
			switch {
			case errors.Is(err, jwtx.ErrExpired):
				writeCookieError(w, "token_expired", MsgTokenExpired)
				return
			case err != nil:
				log.Warn("access token rejected", "err", err)
				writeCookieError(w, "invalid_token", MsgInvalidToken)
				return
			}

			id := claims.Identity()
			ctx = WithIdentity(ctx, id)
			ctx = slogx.With(ctx, "user_id", id.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeCookieError(w http.ResponseWriter, code, msg string) {
	w.Header().Set("WWW-Authenticate", `Cookie realm="cms", error="`+code+`"`)
	WriteError(w, http.StatusUnauthorized, msg)
}
