package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/pressroom/cms/internal/auth/domain"
	"github.com/pressroom/cms/internal/auth/session"
	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/internal/mail"
	"github.com/pressroom/cms/internal/upload"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

// DefaultOTPTTL is how long an emailed two-factor code stays valid.
const DefaultOTPTTL = 5 * time.Minute

const otpIssuer = "cms"

// Uploader stores avatar images and returns their public URL.
type Uploader interface {
	FromBytes(ctx context.Context, filename string, data []byte) (string, error)
	FromURL(ctx context.Context, rawURL string) (string, error)
}

// EventRecorder counts auth outcomes. *metrics.Metrics implements it.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

// AuthService owns registration, login, two-factor verification, refresh
// rotation and logout. It keeps no state of its own: identity records live
// in Store and the single live refresh token per subject lives in Sessions.
type AuthService struct {
	Store    store.Store
	Sessions *session.RefreshSessions
	Codec    *jwtx.Codec
	Mailer   mail.Mailer
	Uploader Uploader // optional; avatars are rejected when nil
	Events   EventRecorder
	Now      func() time.Time
	OTPTTL   time.Duration
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is returned by Login and VerifyTwoFactor. When
// TwoFactorPending is set, Tokens is nil and a code has been emailed.
type LoginResult struct {
	User             domain.PublicUser
	Identity         jwtx.Identity
	Tokens           *TokenPair
	TwoFactorPending bool
}

// AvatarFile is an uploaded avatar.
type AvatarFile struct {
	Name string
	Data []byte
}

type RegisterInput struct {
	UserName   string
	FullName   string
	Email      string
	Password   string
	Role       string
	AvatarURL  string
	AvatarFile *AvatarFile
}

// RegisterResult carries the access token only. Registration never opens
// a refresh session.
type RegisterResult struct {
	User            domain.PublicUser
	Identity        jwtx.Identity
	AccessToken     string
	AccessExpiresAt time.Time
}

// dummyHash is compared against when the email is unknown so a miss costs
// the same as a wrong password.
var dummyHash = sync.OnceValue(func() string {
	h, _ := cryptox.HashPassword("not-a-real-password")
	return h
})

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) otpTTL() time.Duration {
	if s.OTPTTL > 0 {
		return s.OTPTTL
	}
	return DefaultOTPTTL
}

func (s *AuthService) record(event string, err error) {
	if s.Events == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.Events.AuthEvent(event, outcome)
}

func identityOf(u domain.User) jwtx.Identity {
	return jwtx.Identity{ID: u.ID, Role: u.Role.String(), Email: u.Email}
}

// Register validates input, stores the avatar, creates the user and
// returns an access token for it. An empty fullName falls back to userName.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (res RegisterResult, err error) {
	defer func() { s.record("register", err) }()
	l := slogx.FromContext(ctx)

	userName := strings.TrimSpace(in.UserName)
	fullName := strings.TrimSpace(in.FullName)
	email := domain.NormalizeEmail(in.Email)

	if userName == "" || email == "" || in.Password == "" {
		return res, invalid(msgRegisterRequired)
	}
	if err := checkUserName(userName); err != nil {
		return res, err
	}
	if fullName == "" {
		fullName = userName
	}
	if len([]rune(fullName)) > 2*maxNameLength {
		return res, invalid("fullName is too long")
	}
	if !validEmail(email) {
		return res, invalid("Email is not valid")
	}
	if err := checkPassword(in.Password); err != nil {
		return res, err
	}

	switch _, err := s.Store.Users().GetUserByEmail(ctx, email); {
	case err == nil:
		return res, &ConflictError{Message: "Email already exists"}
	case !errors.Is(err, store.ErrNotFound):
		return res, fmt.Errorf("lookup email: %w", err)
	}

	avatar, err := s.resolveAvatar(ctx, in)
	if err != nil {
		return res, err
	}

	u, err := s.Store.Users().CreateUser(ctx, domain.NewUser{
		FullName:  fullName,
		UserName:  userName,
		Email:     email,
		Password:  in.Password,
		Role:      domain.ParseRole(in.Role),
		AvatarURL: avatar,
	})
	if err != nil {
		var ce *store.ConflictError
		if errors.As(err, &ce) {
			if ce.Field == "userName" {
				return res, &ConflictError{Message: "Username already exists"}
			}
			return res, &ConflictError{Message: "Email already exists"}
		}
		return res, fmt.Errorf("create user: %w", err)
	}

	id := identityOf(u)
	token, exp, err := s.Codec.Issue(jwtx.KindAccess, id)
	if err != nil {
		return res, fmt.Errorf("issue access token: %w", err)
	}

	l.Info("user registered", slog.String("user_id", u.ID), slog.String("role", u.Role.String()))
	return RegisterResult{
		User:            u.Public(),
		Identity:        id,
		AccessToken:     token,
		AccessExpiresAt: exp,
	}, nil
}

func (s *AuthService) resolveAvatar(ctx context.Context, in RegisterInput) (string, error) {
	hasFile := in.AvatarFile != nil && len(in.AvatarFile.Data) > 0
	rawURL := strings.TrimSpace(in.AvatarURL)
	if !hasFile && rawURL == "" {
		return "", nil
	}
	if s.Uploader == nil {
		return "", invalid("Avatar uploads are not enabled")
	}

	var (
		assetURL string
		err      error
	)
	if hasFile {
		assetURL, err = s.Uploader.FromBytes(ctx, in.AvatarFile.Name, in.AvatarFile.Data)
	} else {
		assetURL, err = s.Uploader.FromURL(ctx, rawURL)
	}

	switch {
	case err == nil:
		return assetURL, nil
	case errors.Is(err, upload.ErrUnsupportedType):
		return "", invalid("Avatar must be a JPEG, PNG or WebP image")
	case errors.Is(err, upload.ErrTooLarge):
		return "", invalid("Avatar is too large")
	case errors.Is(err, upload.ErrInvalidURL), errors.Is(err, upload.ErrBlockedHost), errors.Is(err, upload.ErrEmpty):
		return "", invalid("Avatar URL is not valid")
	default:
		return "", fmt.Errorf("store avatar: %w", err)
	}
}

// Login checks credentials. Users with two-factor enabled get a code by
// email and a pending result; everyone else gets a new session.
func (s *AuthService) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	defer func() { s.record("login", err) }()
	l := slogx.FromContext(ctx)

	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return res, invalid("Email and password are required")
	}
	if !validEmail(email) {
		return res, invalid("Email is not valid")
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_ = cryptox.VerifyPassword(password, dummyHash())
		return res, ErrInvalidCredentials
	case err != nil:
		return res, fmt.Errorf("lookup email: %w", err)
	}

	if err := store.VerifyPassword(u, password); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unusable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		return res, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled {
		if err := s.sendChallenge(ctx, u); err != nil {
			return res, err
		}
		return LoginResult{User: u.Public(), TwoFactorPending: true}, nil
	}

	tokens, err := s.openSession(ctx, u)
	if err != nil {
		return res, err
	}
	return LoginResult{User: u.Public(), Identity: identityOf(u), Tokens: tokens}, nil
}

// otpOpts derives the TOTP parameters for emailed codes. The period is the
// code lifetime; one step of skew keeps a code issued late in a window valid
// for its full lifetime, and OTPExpiresAt bounds it from above.
func (s *AuthService) otpOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(s.otpTTL() / time.Second),
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// sendChallenge mints a per-challenge TOTP secret, stores it with an expiry
// and emails the derived code. If delivery fails the secret is cleared again
// so no unreachable code lingers.
func (s *AuthService) sendChallenge(ctx context.Context, u domain.User) error {
	l := slogx.FromContext(ctx)
	now := s.now()
	opts := s.otpOpts()

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      otpIssuer,
		AccountName: u.Email,
		Period:      opts.Period,
		Digits:      opts.Digits,
		Algorithm:   opts.Algorithm,
	})
	if err != nil {
		return fmt.Errorf("generate otp secret: %w", err)
	}
	secret := key.Secret()

	code, err := totp.GenerateCodeCustom(secret, now, opts)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	exp := now.Add(s.otpTTL())

	if _, err := s.Store.Users().UpdateUser(ctx, u.ID, domain.UserPatch{OTPSecret: &secret, OTPExpiresAt: &exp}); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	msg := mail.Message{
		To:      u.Email,
		Subject: "Your verification code",
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>Your verification code is <strong>%s</strong>. It expires in %d minutes.</p>",
			html.EscapeString(u.FullName), code, int(s.otpTTL().Minutes())),
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		if _, cerr := s.Store.Users().UpdateUser(ctx, u.ID, domain.UserPatch{ClearOTP: true}); cerr != nil {
			l.Error("failed to clear undelivered code", slog.String("user_id", u.ID), slog.Any("error", cerr))
		}
		s.record("2fa_challenge", err)
		return fmt.Errorf("send code: %w", err)
	}

	s.record("2fa_challenge", nil)
	l.Info("two-factor code sent", slog.String("user_id", u.ID))
	return nil
}

// VerifyTwoFactor consumes the pending code for userID and opens a session.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID, code string) (res LoginResult, err error) {
	defer func() { s.record("2fa_verify", err) }()
	l := slogx.FromContext(ctx)

	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" {
		return res, invalid("userId is required")
	}
	if !validCode(code) {
		return res, invalid("A 6-digit code is required")
	}

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res, ErrNotFound
	case err != nil:
		return res, fmt.Errorf("lookup user: %w", err)
	}

	if !u.PendingOTP(s.now()) {
		if u.OTPSecret != nil {
			if _, err := s.Store.Users().UpdateUser(ctx, u.ID, domain.UserPatch{ClearOTP: true}); err != nil {
				l.Warn("failed to clear expired code", slog.String("user_id", u.ID), slog.Any("error", err))
			}
		}
		return res, ErrInvalidCode
	}
	valid, err := totp.ValidateCustom(code, *u.OTPSecret, s.now(), s.otpOpts())
	if err != nil {
		l.Error("stored otp secret unusable", slog.String("user_id", u.ID), slog.Any("error", err))
	}
	if !valid {
		l.Info("two-factor code mismatch", slog.String("user_id", u.ID))
		return res, ErrInvalidCode
	}

	u, err = s.Store.Users().UpdateUser(ctx, u.ID, domain.UserPatch{ClearOTP: true})
	if err != nil {
		return res, fmt.Errorf("clear code: %w", err)
	}

	tokens, err := s.openSession(ctx, u)
	if err != nil {
		return res, err
	}
	return LoginResult{User: u.Public(), Identity: identityOf(u), Tokens: tokens}, nil
}

// Refresh rotates a refresh token. The presented token must be the one the
// session cache holds for its subject; on success it is replaced, so any
// token value works at most once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (res LoginResult, err error) {
	defer func() { s.record("refresh", err) }()
	l := slogx.FromContext(ctx)

	if refreshToken == "" {
		return res, ErrUnauthorized
	}

	claims, err := s.Codec.Verify(jwtx.KindRefresh, refreshToken)
	if err != nil {
		l.Info("refresh token rejected", slog.Any("error", err))
		return res, ErrUnauthorized
	}
	subject := claims.Identity().ID

	ok, err := s.Sessions.Matches(ctx, subject, refreshToken)
	if err != nil {
		return res, err
	}
	if !ok {
		l.Warn("refresh token not current", slog.String("user_id", subject))
		return res, ErrUnauthorized
	}

	if err := s.Sessions.Revoke(ctx, subject); err != nil {
		return res, err
	}

	// Reissue from the stored record so role changes take effect on rotation.
	u, err := s.Store.Users().GetUserByID(ctx, subject)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res, ErrUnauthorized
	case err != nil:
		return res, fmt.Errorf("lookup user: %w", err)
	}

	tokens, err := s.openSession(ctx, u)
	if err != nil {
		return res, err
	}
	return LoginResult{User: u.Public(), Identity: identityOf(u), Tokens: tokens}, nil
}

// Logout ends the subject's refresh session. Both tokens must be presented.
// An expired access token falls back to the refresh token's subject so an
// idle client can still sign out, provided that refresh token is the
// current one.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) (err error) {
	defer func() { s.record("logout", err) }()

	if accessToken == "" || refreshToken == "" {
		return ErrUnauthorized
	}

	l := slogx.FromContext(ctx)

	claims, err := s.Codec.Verify(jwtx.KindAccess, accessToken)
	fallback := errors.Is(err, jwtx.ErrExpired)
	if fallback {
		claims, err = s.Codec.Verify(jwtx.KindRefresh, refreshToken)
	}
	if err != nil {
		l.Info("logout token rejected", slog.Any("error", err))
		return ErrUnauthorized
	}
	subject := claims.Identity().ID

	// Without a live access token only the current refresh token may end
	// the session; a rotated-out one must not revoke its successor.
	if fallback {
		ok, err := s.Sessions.Matches(ctx, subject, refreshToken)
		if err != nil {
			return err
		}
		if !ok {
			l.Warn("logout with stale refresh token", slog.String("user_id", subject))
			return ErrUnauthorized
		}
	}

	if err := s.Sessions.Revoke(ctx, subject); err != nil {
		return err
	}
	l.Info("user logged out", slog.String("user_id", subject))
	return nil
}

// Me returns the caller's own record.
func (s *AuthService) Me(ctx context.Context, id jwtx.Identity) (domain.PublicUser, error) {
	return s.GetUser(ctx, id.ID)
}

// GetUser looks up any user by id.
func (s *AuthService) GetUser(ctx context.Context, userID string) (domain.PublicUser, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.PublicUser{}, ErrNotFound
	case err != nil:
		return domain.PublicUser{}, fmt.Errorf("lookup user: %w", err)
	}
	return u.Public(), nil
}

// SetTwoFactor switches two-factor login on or off for userID. Turning it
// off also drops any pending code.
func (s *AuthService) SetTwoFactor(ctx context.Context, userID string, enabled bool) (domain.PublicUser, error) {
	patch := domain.UserPatch{TwoFactorEnabled: &enabled, ClearOTP: !enabled}
	u, err := s.Store.Users().UpdateUser(ctx, userID, patch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.PublicUser{}, ErrNotFound
	case err != nil:
		return domain.PublicUser{}, fmt.Errorf("update user: %w", err)
	}
	slogx.FromContext(ctx).Info("two-factor updated", slog.String("user_id", u.ID), slog.Bool("enabled", enabled))
	return u.Public(), nil
}

// openSession issues both tokens and makes the refresh token the only live
// one for the subject.
func (s *AuthService) openSession(ctx context.Context, u domain.User) (*TokenPair, error) {
	id := identityOf(u)

	access, accessExp, err := s.Codec.Issue(jwtx.KindAccess, id)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.Codec.Issue(jwtx.KindRefresh, id)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.Sessions.Save(ctx, id.ID, refresh, s.Codec.TTL(jwtx.KindRefresh)); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
