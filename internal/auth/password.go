package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt cost factors. User passwords take the slower cost; enrollment
// token secrets are long random strings so a lighter cost is enough.
const (
	PasswordHashCost = 12
	TokenSecretCost  = 10
)

// HashPassword hashes a plain text password using bcrypt
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), PasswordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with a plain text password
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// HashTokenSecret hashes an enrollment token secret using bcrypt
func HashTokenSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), TokenSecretCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareTokenSecret compares a bcrypt hashed token secret with a plain secret
func CompareTokenSecret(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
