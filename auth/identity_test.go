package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMintAndParse_Verified(t *testing.T) {
	secret := []byte("s3cret")
	userID := uuid.New()
	token, err := Mint(secret, userID, "ana@example.com", time.Hour)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	identity, err := Parser{Secret: secret}.Parse("Bearer " + token)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if identity.UserID != userID || identity.Email != "ana@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, _ := Mint([]byte("a"), uuid.New(), "", time.Hour)
	if _, err := (Parser{Secret: []byte("b")}).Parse(token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParse_UnverifiedReadsClaims(t *testing.T) {
	userID := uuid.New()
	token, _ := Mint([]byte("server-only"), userID, "", time.Hour)
	identity, err := Parser{}.Parse(token)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if identity.UserID != userID {
		t.Fatalf("expected %s, got %s", userID, identity.UserID)
	}
}

func TestParse_Expired(t *testing.T) {
	token, _ := Mint([]byte("k"), uuid.New(), "", time.Minute)
	later := func() time.Time { return time.Now().Add(time.Hour) }

	if _, err := (Parser{Now: later}).Parse(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := (Parser{Secret: []byte("k"), Now: later}).Parse(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := (Parser{}).Parse("  "); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestSession_CurrentAndSignOut(t *testing.T) {
	s := NewSession(Parser{})
	if _, ok := s.Current(); ok {
		t.Fatal("expected signed out")
	}
	token, _ := Mint([]byte("k"), uuid.New(), "", time.Hour)
	if _, err := s.SignIn(token); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, ok := s.Current(); !ok {
		t.Fatal("expected signed in")
	}
	s.SignOut()
	if _, ok := s.Current(); ok {
		t.Fatal("expected signed out after SignOut")
	}
}
