package httpx

import (
	"net/http"
	"strings"

	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

// MsgForbidden is returned when the caller's role is not enough.
const MsgForbidden = "Forbidden: Insufficient role"

var knownRoles = map[string]struct{}{
	"user":  {},
	"admin": {},
}

// Authorize lets the request through only when the trusted identity holds
// one of roles. Roles compare case-insensitively and must be known roles.
// On success the identity is re-stored as a fresh copy with the normalized
// role.
func Authorize(roles ...string) Middleware {
	want := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		want[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, ok := IdentityFromContext(ctx)
			if !ok {
				writeCookieError(w, "invalid_token", MsgInvalidToken)
				return
			}

			role := strings.ToLower(strings.TrimSpace(id.Role))
			_, known := knownRoles[role]
			_, allowed := want[role]
			if !known || !allowed {
				slogx.FromContext(ctx).Warn("role check failed", "role", id.Role)
				WriteError(w, http.StatusForbidden, MsgForbidden)
				return
			}

			ctx = WithIdentity(ctx, jwtx.Identity{ID: id.ID, Role: role, Email: id.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
