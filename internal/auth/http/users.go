package http

import (
	"net/http"

	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/pkg/httpx"
)

// UsersHandler serves the authenticated user endpoints. Every route is
// behind httpx.Authenticate.
type UsersHandler struct {
	Auth *service.AuthService
}

// HandleMe handles GET /api/auth/me.
//
//	@Summary	Current user
//	@Tags		Users
//	@Produce	json
//	@Success	200	{object}	domain.PublicUser
//	@Failure	401	{object}	httpx.ErrorResponse	"Unauthorized"
//	@Security	CookieAuth
//	@Router		/api/auth/me [get]
func (h *UsersHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgInvalidToken)
		return
	}

	u, err := h.Auth.Me(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

// HandleSetTwoFactor handles PUT /api/auth/2fa.
//
//	@Summary	Enable or disable two-factor login
//	@Tags		Users
//	@Accept		json
//	@Produce	json
//	@Param		body	body		TwoFactorRequest	true	"Desired state"
//	@Success	200		{object}	UserResponse
//	@Failure	400		{object}	httpx.ErrorResponse	"Bad Request"
//	@Failure	401		{object}	httpx.ErrorResponse	"Unauthorized"
//	@Security	CookieAuth
//	@Router		/api/auth/2fa [put]
func (h *UsersHandler) HandleSetTwoFactor(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgInvalidToken)
		return
	}

	var req TwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httpx.WriteError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	u, err := h.Auth.SetTwoFactor(r.Context(), id.ID, *req.Enabled)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg := "Two-factor authentication disabled"
	if u.TwoFactorEnabled {
		msg = "Two-factor authentication enabled"
	}
	httpx.WriteJSON(w, http.StatusOK, UserResponse{Message: msg, User: u})
}

// HandleGetUser handles GET /api/auth/users/{id}. Admin only.
//
//	@Summary	Look up a user
//	@Tags		Users
//	@Produce	json
//	@Param		id	path		string	true	"User id"
//	@Success	200	{object}	domain.PublicUser
//	@Failure	403	{object}	httpx.ErrorResponse	"Forbidden: Insufficient role"
//	@Failure	404	{object}	httpx.ErrorResponse	"User not found"
//	@Security	CookieAuth
//	@Router		/api/auth/users/{id} [get]
func (h *UsersHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Auth.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}
