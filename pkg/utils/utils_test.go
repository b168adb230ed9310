package utils

import (
	"testing"
)

func TestJWT(t *testing.T) {
	secret := "supersecret"
	userID := "123"
	role := "staff_manager"

	token, err := GenerateToken(userID, role, secret)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}

	if claims.Role != role {
		t.Errorf("Expected Role %s, got %s", role, claims.Role)
	}

	_, err = ValidateToken(token, "wrongsecret")
	if err == nil {
		t.Errorf("Expected error with wrong secret")
	}
}

func TestValidateTokenRejectsMissingUser(t *testing.T) {
	token, err := GenerateToken("", "member", "secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Fatal("expected error for token without user id")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token", "secret"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPeekClaimsSkipsSignature(t *testing.T) {
	token, err := GenerateToken("42", "member", "server-only-secret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := PeekClaims(token)
	if err != nil {
		t.Fatalf("PeekClaims: %v", err)
	}
	if claims.UserID != "42" || claims.Role != "member" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := PeekClaims("not-a-token"); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
}
