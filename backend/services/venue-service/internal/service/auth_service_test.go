package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cuehall/backend/services/venue-service/internal/repository/memory"
)

func TestLoginIssuesValidToken(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	auth := NewAuthService(memory.NewOperatorRepository(), NewBcryptHasher(bcrypt.MinCost), tokens, nil)
	ctx := context.Background()

	if err := auth.EnsureOperator(ctx, "Admin", "pa55", "Anna"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// second bootstrap is a no-op
	if err := auth.EnsureOperator(ctx, "admin", "other", ""); err != nil {
		t.Fatalf("ensure again: %v", err)
	}

	token, op, err := auth.Login(ctx, "admin", "pa55")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := tokens.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.OperatorID != op.ID || claims.Name != "Anna" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	for _, pw := range []string{"other", ""} {
		if _, _, err := auth.Login(ctx, "admin", pw); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials for %q, got %v", pw, err)
		}
	}
	if _, _, err := auth.Login(ctx, "ghost", "pa55"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	token, err := NewTokenService("one", time.Hour).GenerateToken("op-1", "admin", "Anna")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenService("two", time.Hour).ValidateToken(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	tokens := NewTokenService("secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	token, err := tokens.GenerateToken("op-1", "admin", "Anna")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tokens.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
