package models

import "time"

// User represents a user in the credential store
type User struct {
	UserID    int64     `json:"user_id" dynamodbav:"user_id"`     // Store-assigned
	Username  string    `json:"username" dynamodbav:"username"`   // Unique username
	Password  string    `json:"-" dynamodbav:"password_hash"`     // bcrypt hash (never in JSON)
	RoleName  string    `json:"role_name" dynamodbav:"role_name"` // student, instructor, admin...
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// PublicUser is the client-facing view of a User
type PublicUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	RoleName string `json:"role_name"`
}

// Public strips the password hash and internal fields
func (u *User) Public() PublicUser {
	return PublicUser{
		UserID:   u.UserID,
		Username: u.Username,
		RoleName: u.RoleName,
	}
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents registration request payload.
// RoleName is a pointer so an absent field can be told apart from an empty one.
type RegisterRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	RoleName *string `json:"role_name,omitempty"`
}

// LoginResponse represents login response payload
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}
