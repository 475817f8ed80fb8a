// Package user defines the user model used throughout the application,
// particularly for authentication and task ownership.
package user

// User represents a system user.
// Only ID is consumed by the task layer; Email and PasswordHash belong to the
// credential service.
type User struct {
	// ID is the unique identifier of the user, meaning a UUID.
	ID string

	// Email is the login name of the user.
	Email string

	// PasswordHash is an encoded Argon2id hash of the user's password.
	PasswordHash string
}
