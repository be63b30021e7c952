package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func TestVerifyTOTP(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("patchwatch", "testuser")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret() failed: %v", err)
	}

	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() failed: %v", err)
	}

	if !VerifyTOTP(secret, code) {
		t.Error("VerifyTOTP() should accept the current code")
	}
	if VerifyTOTP(secret, "000000") {
		t.Error("VerifyTOTP() should reject a bogus code")
	}
}

func TestVerifyTOTP_ClockSkew(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("patchwatch", "testuser")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret() failed: %v", err)
	}

	// One step in the past must still validate (±2 step window).
	code, err := totp.GenerateCodeCustom(secret, time.Now().UTC().Add(-totpPeriod*time.Second), totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() failed: %v", err)
	}

	if !VerifyTOTP(secret, code) {
		t.Error("VerifyTOTP() should tolerate one step of clock skew")
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10)
	if err != nil {
		t.Fatalf("GenerateBackupCodes() failed: %v", err)
	}

	if len(codes) != 10 {
		t.Fatalf("Expected 10 codes, got %d", len(codes))
	}
	for _, code := range codes {
		if len(code) != backupCodeLength {
			t.Errorf("Expected %d char code, got %q", backupCodeLength, code)
		}
	}
}
