package auth

import (
	mrand "math/rand"
	"testing"
)

func TestHashPassword(t *testing.T) {
	plain := "testpassword123"
	
	hash, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	
	if hash == "" {
		t.Error("Expected non-empty hash")
	}
	
	if hash == plain {
		t.Error("Hash should not equal plain text password")
	}
}

func TestComparePassword(t *testing.T) {
	plain := "testpassword123"
	
	hash, err := HashPassword(plain)
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	
	// Test correct password
	if err := ComparePassword(hash, plain); err != nil {
		t.Errorf("ComparePassword() failed for correct password: %v", err)
	}
	
	// Test wrong password
	if err := ComparePassword(hash, "wrongpassword"); err == nil {
		t.Error("ComparePassword() should fail for wrong password")
	}
}

func TestPasswordRoundTrip_RandomPasswords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow bcrypt round-trip test in short mode")
	}

	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	rng := mrand.New(mrand.NewSource(1))

	for i := 0; i < 100; i++ {
		length := 6 + rng.Intn(59) // 6..64
		pw := make([]byte, length)
		for j := range pw {
			pw[j] = alphabet[rng.Intn(len(alphabet))]
		}
		plain := string(pw)

		hash, err := HashPassword(plain)
		if err != nil {
			t.Fatalf("HashPassword(%q) failed: %v", plain, err)
		}
		if err := ComparePassword(hash, plain); err != nil {
			t.Errorf("ComparePassword() failed for original plaintext %q: %v", plain, err)
		}
		if err := ComparePassword(hash, plain+"x"); err == nil {
			t.Errorf("ComparePassword() succeeded for wrong plaintext derived from %q", plain)
		}
	}
}

func TestTokenSecretRoundTrip(t *testing.T) {
	secret := "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"

	hash, err := HashTokenSecret(secret)
	if err != nil {
		t.Fatalf("HashTokenSecret() failed: %v", err)
	}
	if err := CompareTokenSecret(hash, secret); err != nil {
		t.Errorf("CompareTokenSecret() failed for correct secret: %v", err)
	}
	if err := CompareTokenSecret(hash, "wrong"); err == nil {
		t.Error("CompareTokenSecret() should fail for wrong secret")
	}
}

func TestComparePassword_DifferentHashes(t *testing.T) {
	plain := "testpassword123"
	
	hash1, _ := HashPassword(plain)
	hash2, _ := HashPassword(plain)
	
	// Bcrypt should generate different hashes for the same password
	if hash1 == hash2 {
		t.Error("Expected different hashes for same password (bcrypt salt)")
	}
	
	// But both should validate correctly
	if err := ComparePassword(hash1, plain); err != nil {
		t.Error("First hash should validate")
	}
	
	if err := ComparePassword(hash2, plain); err != nil {
		t.Error("Second hash should validate")
	}
}
