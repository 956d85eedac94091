package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/pkg/authsdk"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

const (
	maxJSONBody   = 64 << 10
	avatarField   = "avatar"
	multipartSlop = 64 << 10
)

// AuthHandler serves the credential and session endpoints under /api/auth.
type AuthHandler struct {
	Auth          *service.AuthService
	Codec         *jwtx.Codec
	Cookies       httpx.CookieConfig
	MaxAvatarSize int64
}

func (h *AuthHandler) setSession(w http.ResponseWriter, t *service.TokenPair) {
	httpx.SetSessionCookie(w, h.Cookies, httpx.AccessCookie, t.AccessToken, h.Codec.TTL(jwtx.KindAccess))
	httpx.SetSessionCookie(w, h.Cookies, httpx.RefreshCookie, t.RefreshToken, h.Codec.TTL(jwtx.KindRefresh))
}

// HandleRegister handles POST /api/auth/register. It accepts JSON, or
// multipart/form-data when an avatar file is attached.
//
//	@Summary		Register
//	@Description	Create an account. Sets the access cookie only.
//	@Tags			Auth
//	@Accept			json
//	@Accept			mpfd
//	@Produce		json
//	@Param			body	body		authsdk.RegisterRequest	true	"Account details"
//	@Success		201		{object}	authsdk.RegisterResponse
//	@Failure		400		{object}	httpx.ErrorResponse	"Bad Request"
//	@Failure		409		{object}	httpx.ErrorResponse	"Email or username taken"
//	@Failure		413		{object}	httpx.ErrorResponse	"Avatar too large"
//	@Failure		429		{object}	httpx.ErrorResponse	"Too Many Requests"
//	@Router			/api/auth/register [post]
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readRegister(w, r)
	if !ok {
		return
	}

	res, err := h.Auth.Register(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.SetSessionCookie(w, h.Cookies, httpx.AccessCookie, res.AccessToken, h.Codec.TTL(jwtx.KindAccess))
	httpx.WriteJSON(w, http.StatusCreated, authsdk.RegisterResponse{
		Message: "User registered successfully",
		UserID:  res.User.ID,
	})
}

func (h *AuthHandler) readRegister(w http.ResponseWriter, r *http.Request) (service.RegisterInput, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req authsdk.RegisterRequest
		if !decodeJSON(w, r, &req) {
			return service.RegisterInput{}, false
		}
		return service.RegisterInput{
			UserName:  req.UserName,
			FullName:  req.FullName,
			Email:     req.Email,
			Password:  req.Password,
			Role:      req.Role,
			AvatarURL: req.Avatar,
		}, true
	}

	log := slogx.FromContext(r.Context())
	limit := h.MaxAvatarSize + multipartSlop
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Avatar is too large")
			return service.RegisterInput{}, false
		}
		log.Warn("failed to parse multipart form", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return service.RegisterInput{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := service.RegisterInput{
		UserName:  r.FormValue("userName"),
		FullName:  r.FormValue("fullName"),
		Email:     r.FormValue("email"),
		Password:  r.FormValue("password"),
		Role:      r.FormValue("role"),
		AvatarURL: r.FormValue(avatarField),
	}

	file, header, err := r.FormFile(avatarField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return in, true
	case err != nil:
		log.Warn("failed to read avatar", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return service.RegisterInput{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.MaxAvatarSize+1))
	if err != nil {
		log.Warn("failed to read avatar", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return service.RegisterInput{}, false
	}
	in.AvatarURL = ""
	in.AvatarFile = &service.AvatarFile{Name: header.Filename, Data: data}
	return in, true
}

// HandleLogin handles POST /api/auth/login.
//
//	@Summary		Log in
//	@Description	Sets the token and refreshToken cookies, or emails a code when two-factor is enabled.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	httpx.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	httpx.ErrorResponse	"Email or Password is invalid"
//	@Failure		429		{object}	httpx.ErrorResponse	"Too Many Requests"
//	@Router			/api/auth/login [post]
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if res.TwoFactorPending {
		httpx.WriteJSON(w, http.StatusOK, LoginResponse{
			Message:           "Verification code sent to your email",
			UserID:            res.User.ID,
			TwoFactorRequired: true,
		})
		return
	}

	h.setSession(w, res.Tokens)
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Message: "Login successful", User: &res.User})
}

// HandleVerifyTwoFactor handles POST /api/auth/verify-2fa.
//
//	@Summary		Verify two-factor code
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		VerifyTwoFactorRequest	true	"User id and code"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	httpx.ErrorResponse	"Bad Request"
//	@Failure		401		{object}	httpx.ErrorResponse	"Invalid or expired code"
//	@Failure		404		{object}	httpx.ErrorResponse	"User not found"
//	@Router			/api/auth/verify-2fa [post]
func (h *AuthHandler) HandleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Auth.VerifyTwoFactor(r.Context(), req.UserID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setSession(w, res.Tokens)
	httpx.WriteJSON(w, http.StatusOK, LoginResponse{Message: "Verification successful", User: &res.User})
}

// HandleRefresh handles POST /api/auth/refresh-token.
//
//	@Summary		Refresh session
//	@Description	Rotates the refreshToken cookie. The presented refresh token stops working.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	httpx.MessageResponse
//	@Failure		401	{object}	httpx.ErrorResponse	"Unauthorized"
//	@Router			/api/auth/refresh-token [post]
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := httpx.CookieValue(r, httpx.RefreshCookie)
	if raw == "" {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgNoToken)
		return
	}

	res, err := h.Auth.Refresh(r.Context(), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.setSession(w, res.Tokens)
	httpx.WriteJSON(w, http.StatusOK, httpx.MessageResponse{Message: "Token refreshed"})
}

// HandleLogout handles POST /api/auth/logout. Cookies are cleared whatever
// happens to the cached session.
//
//	@Summary	Log out
//	@Tags		Auth
//	@Produce	json
//	@Success	200	{object}	httpx.MessageResponse
//	@Failure	401	{object}	httpx.ErrorResponse	"Unauthorized"
//	@Router		/api/auth/logout [post]
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	access := httpx.CookieValue(r, httpx.AccessCookie)
	refresh := httpx.CookieValue(r, httpx.RefreshCookie)

	httpx.ClearSessionCookies(w, h.Cookies)

	if strings.TrimSpace(access) == "" || strings.TrimSpace(refresh) == "" {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgNoToken)
		return
	}

	if err := h.Auth.Logout(r.Context(), access, refresh); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.MessageResponse{Message: "Logout successful"})
}
