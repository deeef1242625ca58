package models

import "time"

// User represents an application user. The password is stored only as a
// bcrypt hash; the root secret never reaches durable server storage.
type User struct {
	// Username is the login name chosen by the user.
	Username string
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash []byte
	// CreatedAt is the registration timestamp.
	CreatedAt time.Time
}
