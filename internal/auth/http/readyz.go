package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pressroom/cms/pkg/authsdk"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/slogx"
)

// Pinger is anything readyz can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 while either the credential store or the
// session cache is unreachable. Ping errors are logged, not returned.
//
//	@Summary	Readiness
//	@Tags		Health
//	@Produce	json
//	@Success	200	{object}	authsdk.HealthResponse
//	@Failure	503	{object}	authsdk.HealthResponse	"Degraded"
//	@Router		/readyz [get]
func ReadyzHandler(startTime time.Time, version string, db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		log := slogx.FromContext(ctx)

		checks := &authsdk.HealthChecks{Database: "ok", Cache: "ok"}
		status, code := "ok", http.StatusOK

		if err := db.Ping(ctx); err != nil {
			log.Error("readiness: database unreachable", "err", err)
			checks.Database = "error"
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				log.Error("readiness: cache unreachable", "err", err)
				checks.Cache = "error"
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, code, authsdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
