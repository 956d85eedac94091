package http

import (
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/pressroom/cms/api/auth" // Swagger docs
	"github.com/pressroom/cms/internal/auth/metrics"
	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/internal/upload"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	codec        *jwtx.Codec
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	db    Pinger
	cache Pinger

	AuthService *service.AuthService
	Cookies     httpx.CookieConfig
	Uploads     *upload.DiskUploader // optional: serves /uploads/ when set
	Metrics     *metrics.Metrics     // optional: instruments and serves /metrics when set
	CSP         string

	// Rate limit profiles. Zero values disable limiting.
	StrictLimit   httpx.RateLimitConfig
	ModerateLimit httpx.RateLimitConfig
	MaxAvatarSize int64
}

func NewRouter(
	codec *jwtx.Codec,
	buildVersion string,
	db, cache Pinger,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:           http.NewServeMux(),
		codec:         codec,
		buildVersion:  buildVersion,
		startTime:     time.Now(),
		db:            db,
		cache:         cache,
		logger:        logger,
		StrictLimit:   httpx.StrictLimit,
		ModerateLimit: httpx.ModerateLimit,
		MaxAvatarSize: upload.DefaultMaxBytes,
	}
}

// ApplyRoutes registers every route and builds the global chain. Call it
// once, after the optional fields are set.
func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerUploads()
	r.registerSystem()

	// Metrics wraps the mux directly so it can read the matched pattern.
	r.middlewares = []httpx.Middleware{
		httpx.SecurityHeaders(r.CSP),
		slogx.HTTPMiddleware(r.logger),
	}
	if r.Metrics != nil {
		r.middlewares = append(r.middlewares, r.Metrics.Instrument)
	}
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title						CMS Authentication API
//	@version					0.1.0
//	@description				Cookie-based access/refresh JWT sessions for the CMS.
//	@BasePath					/
//	@schemes					http https
//	@securityDefinitions.apikey	CookieAuth
//	@in							header
//	@name						Cookie
//	@description				Access token in the httpOnly "token" cookie, set by login, verify-2fa and refresh-token.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Auth:          r.AuthService,
		Codec:         r.codec,
		Cookies:       r.Cookies,
		MaxAvatarSize: r.MaxAvatarSize,
	}

	// Credential endpoints are limited by IP to slow down guessing.
	r.Mux.Handle("POST /api/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister), httpx.RateLimitByIP(r.StrictLimit)))
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin), httpx.RateLimitByIP(r.StrictLimit)))
	r.Mux.Handle("POST /api/auth/verify-2fa",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyTwoFactor), httpx.RateLimitByIP(r.StrictLimit)))

	r.Mux.Handle("POST /api/auth/refresh-token",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh), httpx.RateLimitByIP(r.ModerateLimit)))
	r.Mux.Handle("POST /api/auth/logout", http.HandlerFunc(h.HandleLogout))
}

func (r *Router) registerUsers() {
	h := &UsersHandler{Auth: r.AuthService}
	authn := httpx.Authenticate(r.codec)

	r.Mux.Handle("GET /api/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe), authn))
	r.Mux.Handle("PUT /api/auth/2fa",
		httpx.Chain(http.HandlerFunc(h.HandleSetTwoFactor),
			authn,
			httpx.RateLimitByIdentity(r.ModerateLimit),
		))
	r.Mux.Handle("GET /api/auth/users/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGetUser),
			authn,
			httpx.Authorize("admin"),
		))
}

func (r *Router) registerUploads() {
	if r.Uploads == nil {
		return
	}
	r.Mux.Handle("GET /uploads/", http.StripPrefix("/uploads", r.Uploads.Handler()))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.db, r.cache))
	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
	r.Mux.Handle("GET /swagger/", httpx.Chain(
		httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")),
		httpx.OverrideCSP(httpx.DocsCSP),
	))
}
