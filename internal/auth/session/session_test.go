package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pressroom/cms/internal/auth/session"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *session.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := session.Connect(context.Background(), session.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, time.Minute, mr.TTL("k"))

	require.NoError(t, c.Del(ctx, "k"))
	require.NoError(t, c.Del(ctx, "k"), "deleting twice is fine")
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.Error(t, c.Set(ctx, "k", "v", 0))
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)

	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))
	mr.FastForward(time.Hour + time.Second)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := session.Connect(context.Background(), session.RedisOptions{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestRefreshSessions(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	s := session.NewRefreshSessions(c, "test:")

	require.NoError(t, s.Save(ctx, "u1", "token-a", time.Hour))

	t.Run("stores a fingerprint under the subject key", func(t *testing.T) {
		raw, err := mr.Get("test:u1")
		require.NoError(t, err)
		require.Equal(t, cryptox.FingerprintToken("token-a"), raw)
		require.NotContains(t, raw, "token-a")
	})

	t.Run("matches current token only", func(t *testing.T) {
		ok, err := s.Matches(ctx, "u1", "token-a")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.Matches(ctx, "u1", "token-b")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("save overwrites previous token", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "u1", "token-b", time.Hour))

		ok, err := s.Matches(ctx, "u1", "token-a")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.Matches(ctx, "u1", "token-b")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, s.Revoke(ctx, "u1"))
		ok, err := s.Matches(ctx, "u1", "token-b")
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, s.Revoke(ctx, "u1"))
	})

	t.Run("cache outage surfaces as error", func(t *testing.T) {
		broken := session.NewRefreshSessions(session.NewRedisCache(redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})), "")
		_, err := broken.Matches(ctx, "u1", "x")
		require.Error(t, err)
		require.Error(t, broken.Save(ctx, "u1", "x", time.Minute))
	})

	require.Error(t, s.Save(ctx, "", "x", time.Minute))
}
