package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost matches the cost factor the rest of the deployment's stored
// hashes were created with.
const passwordCost = 10

// HashPassword hashes a plaintext password using salted bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored hash. Malformed
// hashes verify as false rather than erroring; bcrypt's comparison does not
// leak timing usable to distinguish hash validity.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
