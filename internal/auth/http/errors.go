package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/slogx"
)

const (
	msgInvalidCredentials = "Email or Password is invalid"
	msgInvalidCode        = "Invalid or expired code"
	msgUserNotFound       = "User not found"
	msgInvalidBody        = "Invalid request body"
)

// writeServiceError maps service errors onto status codes. Anything it does
// not recognise is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *service.ValidationError
		ce *service.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, ve.Message)
	case errors.As(err, &ce):
		httpx.WriteError(w, http.StatusConflict, ce.Message)
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusUnauthorized, msgInvalidCode)
	case errors.Is(err, service.ErrUnauthorized):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.MsgInvalidToken)
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, msgUserNotFound)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		httpx.WriteInternalError(w)
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slogx.FromContext(r.Context()).Warn("failed to parse request", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}
