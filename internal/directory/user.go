package directory

import (
	"crypto/subtle"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is the record stored at users/{username}.json.
type User struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Password     string    `json:"password,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Profile is the part of a user record that may leave the service.
type Profile struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Profile() Profile {
	return Profile{Username: u.Username, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt}
}

// checkPassword verifies against the bcrypt hash. Records written before hashing
// was introduced only carry a plaintext password; those are compared in constant
// time.
func (u User) checkPassword(password string) bool {
	if u.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
	}
	if u.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}
