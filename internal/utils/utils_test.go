package utils

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("secret", 42, "admin", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := ParseAccessToken("secret", tok.Token)
	if err != nil || id != 42 {
		t.Fatalf("parse: id=%d err=%v", id, err)
	}
	if _, err := ParseAccessToken("other", tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret must fail, got %v", err)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	tok, err := NewAccessToken("secret", 7, "user", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken("secret", tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestRefreshTokenHash(t *testing.T) {
	rt, err := NewRefreshToken(30)
	if err != nil {
		t.Fatalf("new refresh: %v", err)
	}
	if len(rt.Raw) != 96 {
		t.Fatalf("expected 96 hex chars, got %d", len(rt.Raw))
	}
	h := HashRefreshRaw(rt.Raw)
	if len(h) != 64 || h != HashRefreshRaw(rt.Raw) {
		t.Fatalf("hash must be a stable 64-char hex digest, got %q", h)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("password123", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword(hash, "password123") || VerifyPassword(hash, "password124") {
		t.Fatal("verify mismatch")
	}
	if _, err := HashPassword("short", bcrypt.MinCost); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}
