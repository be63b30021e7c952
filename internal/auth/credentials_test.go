package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPICredentials(t *testing.T) {
	apiID, apiKey, err := GenerateAPICredentials()
	if err != nil {
		t.Fatalf("GenerateAPICredentials() failed: %v", err)
	}

	if !strings.HasPrefix(apiID, "pw_api_") {
		t.Errorf("Expected api_id prefix 'pw_api_', got %s", apiID)
	}
	if len(apiID) != len("pw_api_")+16 {
		t.Errorf("Expected api_id with 16 hex chars, got %s", apiID)
	}
	if len(apiKey) != 64 {
		t.Errorf("Expected 64 hex char api_key, got %d chars", len(apiKey))
	}
}

func TestGenerateEnrollmentToken(t *testing.T) {
	key, secret, err := GenerateEnrollmentToken()
	if err != nil {
		t.Fatalf("GenerateEnrollmentToken() failed: %v", err)
	}

	if !strings.HasPrefix(key, "pw_tok_") {
		t.Errorf("Expected token_key prefix 'pw_tok_', got %s", key)
	}
	if len(key) != 32 {
		t.Errorf("Expected 32 char token_key, got %d chars", len(key))
	}
	if len(secret) != 96 {
		t.Errorf("Expected 96 hex char token_secret, got %d chars", len(secret))
	}
	if strings.HasPrefix(key, "pw_api_") {
		t.Error("token_key prefix must be distinct from api_id prefix")
	}
}

func TestGenerateAPICredentials_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		apiID, apiKey, err := GenerateAPICredentials()
		if err != nil {
			t.Fatalf("GenerateAPICredentials() failed: %v", err)
		}
		if seen[apiID] || seen[apiKey] {
			t.Fatalf("Duplicate credential generated: %s", apiID)
		}
		seen[apiID] = true
		seen[apiKey] = true
	}
}

func TestHashSessionToken(t *testing.T) {
	h1 := HashSessionToken("token-a")
	h2 := HashSessionToken("token-a")
	h3 := HashSessionToken("token-b")

	if h1 != h2 {
		t.Error("Expected deterministic hash for the same token")
	}
	if h1 == h3 {
		t.Error("Expected different hashes for different tokens")
	}
	if len(h1) != 64 {
		t.Errorf("Expected 64 hex char SHA-256 digest, got %d chars", len(h1))
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	tok, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() failed: %v", err)
	}
	if len(tok) != 128 {
		t.Errorf("Expected 128 hex chars (64 random bytes), got %d", len(tok))
	}
}
