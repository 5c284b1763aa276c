package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword returns a bcrypt hash of password. bcrypt is the pack's
// grounded memory-hard/slow choice (golang.org/x/crypto, as imported by
// AleutianLocal and kubernaut) for password storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
