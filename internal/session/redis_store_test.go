package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"teamulate/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-1", "usr_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	userID, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if userID != "usr_1" {
		t.Fatalf("LookupRefreshSession() = %q, want usr_1", userID)
	}
	if ttl := mr.TTL("refresh:hash-1"); ttl <= 23*time.Hour {
		t.Fatalf("TTL = %v, want about 24h", ttl)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "short", "usr_2", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := s.LookupRefreshSession(ctx, "short"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	s, _ := setupTestRedis(t)
	if err := s.SaveRefreshSession(context.Background(), "old", "usr_3", time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for an already expired session")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	for _, hash := range []string{"token-1", "token-2"} {
		if err := s.SaveRefreshSession(ctx, hash, "usr_"+hash, expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession(%s) error = %v", hash, err)
		}
	}
	if err := s.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if err := s.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Fatalf("RevokeRefreshSession() missing error = %v", err)
	}

	if _, err := s.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("revoked token lookup error = %v", err)
	}
	if userID, err := s.LookupRefreshSession(ctx, "token-2"); err != nil || userID != "usr_token-2" {
		t.Fatalf("other session = %q, %v", userID, err)
	}
}

func TestLookupCorruptPayload(t *testing.T) {
	s, mr := setupTestRedis(t)
	if err := mr.Set("refresh:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := s.LookupRefreshSession(context.Background(), "bad")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want decode error", err)
	}
}
