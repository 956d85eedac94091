package http

import (
	"net/http"
	"time"

	"github.com/pressroom/cms/pkg/authsdk"
	"github.com/pressroom/cms/pkg/httpx"
)

// LivezHandler always answers 200 while the process is up.
//
//	@Summary	Liveness
//	@Tags		Health
//	@Produce	json
//	@Success	200	{object}	authsdk.HealthResponse
//	@Router		/livez [get]
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}
