package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pressroom/cms/pkg/cryptox"
)

// DefaultKeyPrefix namespaces refresh entries in a shared cache.
const DefaultKeyPrefix = "cms:refresh:"

// RefreshSessions maps a subject to the single refresh token currently
// allowed for it. Only a fingerprint of the token is cached.
type RefreshSessions struct {
	cache  Cache
	prefix string
}

func NewRefreshSessions(cache Cache, prefix string) *RefreshSessions {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RefreshSessions{cache: cache, prefix: prefix}
}

func (s *RefreshSessions) key(subject string) string { return s.prefix + subject }

// Save makes token the live refresh token for subject, replacing any
// previous one.
func (s *RefreshSessions) Save(ctx context.Context, subject, token string, ttl time.Duration) error {
	if subject == "" || token == "" {
		return errors.New("session: subject and token are required")
	}
	if err := s.cache.Set(ctx, s.key(subject), cryptox.FingerprintToken(token), ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Matches reports whether token is the live refresh token for subject. A
// missing entry is not an error, it just doesn't match.
func (s *RefreshSessions) Matches(ctx context.Context, subject, token string) (bool, error) {
	stored, err := s.cache.Get(ctx, s.key(subject))
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("session: lookup: %w", err)
	}
	return cryptox.MatchFingerprint(token, stored), nil
}

// Revoke removes the subject's entry. Deleting a missing entry succeeds.
func (s *RefreshSessions) Revoke(ctx context.Context, subject string) error {
	if err := s.cache.Del(ctx, s.key(subject)); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}
