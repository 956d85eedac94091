package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pressroom/cms/internal/auth/metrics"
	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/internal/auth/session"
	"github.com/pressroom/cms/internal/auth/store/drivers/sqlite"
	"github.com/pressroom/cms/internal/mail"
	"github.com/pressroom/cms/internal/upload"
	"github.com/pressroom/cms/pkg/authsdk"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	cryptox.SetPepper("test-pepper")
	os.Exit(m.Run())
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (c *captureMailer) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

var codeRe = regexp.MustCompile(`<strong>(\d{6})</strong>`)

func (c *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	m := codeRe.FindStringSubmatch(c.sent[len(c.sent)-1].HTML)
	require.Len(t, m, 2)
	return m[1]
}

type testServer struct {
	router  *Router
	mr      *miniredis.Miniredis
	mailer  *captureMailer
	metrics *metrics.Metrics

	mu  sync.Mutex
	now time.Time
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func newTestServer(t *testing.T, configure ...func(*Router)) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mr := miniredis.RunT(t)
	cache := session.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	ts := &testServer{mr: mr, mailer: &captureMailer{}, metrics: metrics.New("cms"), now: time.Now()}

	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "cms-test",
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
		Now:        ts.clock,
	})
	require.NoError(t, err)

	uploader, err := upload.NewDiskUploader(upload.Config{Dir: t.TempDir(), BaseURL: "/uploads"})
	require.NoError(t, err)

	r := NewRouter(codec, "test", st, cache, slogx.Discard())
	r.AuthService = &service.AuthService{
		Store:    st,
		Sessions: session.NewRefreshSessions(cache, ""),
		Codec:    codec,
		Mailer:   ts.mailer,
		Uploader: uploader,
		Events:   ts.metrics,
		Now:      ts.clock,
	}
	r.Uploads = uploader
	r.Metrics = ts.metrics
	r.StrictLimit = httpx.RateLimitConfig{}
	r.ModerateLimit = httpx.RateLimitConfig{}
	for _, fn := range configure {
		fn(r)
	}
	r.ApplyRoutes()

	ts.router = r
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func cookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

var alice = map[string]string{
	"userName": "alice",
	"fullName": "Alice Liddell",
	"email":    "alice@x.com",
	"password": "Abcd1234!",
}

func (s *testServer) register(t *testing.T, body map[string]string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res authsdk.RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.UserID
}

func (s *testServer) login(t *testing.T, email, password string) (*http.Cookie, *http.Cookie) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return cookie(t, rec, httpx.AccessCookie), cookie(t, rec, httpx.RefreshCookie)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	// register without fullName
	rec := s.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"userName": "alice",
		"email":    "alice@x.com",
		"password": "Abcd1234!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg authsdk.RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	require.Equal(t, "User registered successfully", reg.Message)
	require.NotEmpty(t, reg.UserID)

	regToken := cookie(t, rec, httpx.AccessCookie)
	require.NotNil(t, regToken)
	require.True(t, regToken.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, regToken.SameSite)
	require.Equal(t, int(jwtx.DefaultAccessTokenTTL/time.Second), regToken.MaxAge)
	require.Nil(t, cookie(t, rec, httpx.RefreshCookie))

	// login
	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@x.com", "password": "Abcd1234!"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	var login struct {
		Message string         `json:"message"`
		User    map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.Equal(t, "Login successful", login.Message)
	require.Equal(t, reg.UserID, login.User["id"])
	require.Equal(t, "alice", login.User["userName"])
	require.Equal(t, "user", login.User["role"])
	require.Equal(t, "alice@x.com", login.User["email"])
	require.Equal(t, "alice", login.User["fullName"])

	access, refresh := cookie(t, rec, httpx.AccessCookie), cookie(t, rec, httpx.RefreshCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, int(jwtx.DefaultRefreshTokenTTL/time.Second), refresh.MaxAge)
	require.True(t, s.mr.Exists(session.DefaultKeyPrefix+reg.UserID))

	// me
	rec = s.do(t, http.MethodGet, "/api/auth/me", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"userName":"alice"`)

	// refresh rotates
	rec = s.do(t, http.MethodPost, "/api/auth/refresh-token", nil, refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	newAccess, newRefresh := cookie(t, rec, httpx.AccessCookie), cookie(t, rec, httpx.RefreshCookie)
	require.NotNil(t, newRefresh)
	require.NotEqual(t, refresh.Value, newRefresh.Value)

	// the old refresh token is dead
	rec = s.do(t, http.MethodPost, "/api/auth/refresh-token", nil, refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// logout
	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil, newAccess, newRefresh)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Logout successful", message(t, rec))
	require.False(t, s.mr.Exists(session.DefaultKeyPrefix+reg.UserID))
	for _, name := range []string{httpx.AccessCookie, httpx.RefreshCookie} {
		c := cookie(t, rec, name)
		require.NotNil(t, c, name)
		require.Less(t, c.MaxAge, 0)
	}

	// second logout without cookies
	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.MsgNoToken, message(t, rec))

	// wrong password
	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@x.com", "password": "Wrong1234!"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Email or Password is invalid", message(t, rec))
	require.Nil(t, cookie(t, rec, httpx.AccessCookie))

	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "nobody@x.com", "password": "Abcd1234!"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Email or Password is invalid", message(t, rec))
}

func TestAuthenticateSignals(t *testing.T) {
	s := newTestServer(t)
	s.register(t, alice)
	access, _ := s.login(t, "alice@x.com", "Abcd1234!")

	rec := s.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.MsgNoToken, message(t, rec))

	rec = s.do(t, http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: httpx.AccessCookie, Value: "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.MsgInvalidToken, message(t, rec))

	s.advance(jwtx.DefaultAccessTokenTTL + time.Second)
	rec = s.do(t, http.MethodGet, "/api/auth/me", nil, access)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.MsgTokenExpired, message(t, rec))
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="token_expired"`)
}

func TestLogoutAfterAccessExpiry(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, alice)
	access, refresh := s.login(t, "alice@x.com", "Abcd1234!")

	s.advance(jwtx.DefaultAccessTokenTTL + time.Minute)

	rec := s.do(t, http.MethodPost, "/api/auth/logout", nil, access, refresh)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, s.mr.Exists(session.DefaultKeyPrefix+id))
}

func TestLogoutAfterAccessExpiryWithRotatedRefresh(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, alice)
	access, refresh := s.login(t, "alice@x.com", "Abcd1234!")

	rec := s.do(t, http.MethodPost, "/api/auth/refresh-token", nil, refresh)
	require.Equal(t, http.StatusOK, rec.Code)

	s.advance(jwtx.DefaultAccessTokenTTL + time.Minute)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil, access, refresh)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, httpx.MsgInvalidToken, message(t, rec))
	require.True(t, s.mr.Exists(session.DefaultKeyPrefix+id))
}

func TestLogoutClearsCookiesWhenCacheFails(t *testing.T) {
	s := newTestServer(t)
	s.register(t, alice)
	access, refresh := s.login(t, "alice@x.com", "Abcd1234!")

	s.mr.SetError("LOADING")
	rec := s.do(t, http.MethodPost, "/api/auth/logout", nil, access, refresh)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Internal Server Error", message(t, rec))
	require.Less(t, cookie(t, rec, httpx.AccessCookie).MaxAge, 0)
	require.Less(t, cookie(t, rec, httpx.RefreshCookie).MaxAge, 0)
}

func TestAdminRoute(t *testing.T) {
	s := newTestServer(t)
	aliceID := s.register(t, alice)
	s.register(t, map[string]string{
		"userName": "root", "fullName": "Root", "email": "root@x.com", "password": "Abcd1234!", "role": "admin",
	})

	userAccess, _ := s.login(t, "alice@x.com", "Abcd1234!")
	adminAccess, _ := s.login(t, "root@x.com", "Abcd1234!")

	rec := s.do(t, http.MethodGet, "/api/auth/users/"+aliceID, nil, userAccess)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, httpx.MsgForbidden, message(t, rec))

	rec = s.do(t, http.MethodGet, "/api/auth/users/"+aliceID, nil, adminAccess)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"email":"alice@x.com"`)

	rec = s.do(t, http.MethodGet, "/api/auth/users/01JAAAAAAAAAAAAAAAAAAAAAAA", nil, adminAccess)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/auth/users/"+aliceID, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.register(t, alice)
	access, _ := s.login(t, "alice@x.com", "Abcd1234!")

	rec := s.do(t, http.MethodPut, "/api/auth/2fa", map[string]bool{"enabled": true}, access)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"twoFactorEnabled":true`)

	rec = s.do(t, http.MethodPut, "/api/auth/2fa", map[string]string{}, access)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@x.com", "password": "Abcd1234!"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, cookie(t, rec, httpx.AccessCookie))
	var pending LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.True(t, pending.TwoFactorRequired)
	require.Equal(t, id, pending.UserID)
	require.Nil(t, pending.User)

	rec = s.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"userId": id, "code": "12"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	code := s.mailer.lastCode(t)
	rec = s.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"userId": id, "code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, cookie(t, rec, httpx.AccessCookie))
	require.NotNil(t, cookie(t, rec, httpx.RefreshCookie))

	rec = s.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"userId": id, "code": code})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, msgInvalidCode, message(t, rec))

	rec = s.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"userId": "01JAAAAAAAAAAAAAAAAAAAAAAA", "code": "123456"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, alice)

	rec := s.do(t, http.MethodPost, "/api/auth/register", alice)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "Email already exists", message(t, rec))

	rec = s.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"userName": "bob", "fullName": "Bob", "email": "bob@x", "password": "Abcd1234!",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Email is not valid", message(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"userName": 5}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, msgInvalidBody, message(t, rec))
}

func TestRegisterWithAvatarUpload(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range alice {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = fw.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	access := cookie(t, rec, httpx.AccessCookie)
	rec = s.do(t, http.MethodGet, "/api/auth/me", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Avatar string `json:"avatar"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.True(t, strings.HasPrefix(me.Avatar, "/uploads/"), me.Avatar)

	rec = s.do(t, http.MethodGet, me.Avatar, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestRateLimitOnLogin(t *testing.T) {
	s := newTestServer(t, func(r *Router) {
		r.StrictLimit = httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
	})

	body := map[string]string{"email": "alice@x.com", "password": "Abcd1234!"}
	rec := s.do(t, http.MethodPost, "/api/auth/login", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestSystemRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	require.NotEmpty(t, rec.Header().Get(slogx.RequestIDHeader))

	rec = s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `cms_http_requests_total{method="GET",route="GET /readyz",status="200"} 1`)

	s.mr.Close()
	rec = s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health authsdk.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "error", health.Checks.Cache)
	require.Equal(t, "ok", health.Checks.Database)
}

func TestSwaggerDocs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Info  struct{ Title string }
		Paths map[string]map[string]json.RawMessage
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "CMS Authentication API", doc.Info.Title)
	for _, p := range []string{"/api/auth/register", "/api/auth/login", "/api/auth/verify-2fa", "/api/auth/refresh-token", "/api/auth/logout"} {
		require.Contains(t, doc.Paths[p], "post", p)
	}
	require.Contains(t, doc.Paths["/api/auth/2fa"], "put")

	rec = s.do(t, http.MethodGet, "/swagger/index.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, httpx.DocsCSP, rec.Header().Get("Content-Security-Policy"))

	rec = s.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, httpx.DefaultCSP, rec.Header().Get("Content-Security-Policy"))
}
