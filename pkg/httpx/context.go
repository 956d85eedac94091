package httpx

import (
	"context"

	"github.com/pressroom/cms/pkg/jwtx"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// WithIdentity stores a copy of id on ctx.
func WithIdentity(ctx context.Context, id jwtx.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, jwtx.Identity{
		ID:    id.ID,
		Role:  id.Role,
		Email: id.Email,
	})
}

// IdentityFromContext returns the trusted identity attached by Authenticate.
// Values are returned by copy, so handlers cannot mutate what later
// middleware sees.
func IdentityFromContext(ctx context.Context) (jwtx.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(jwtx.Identity)
	if !ok || id.ID == "" || id.Role == "" || id.Email == "" {
		return jwtx.Identity{}, false
	}
	return id, true
}
