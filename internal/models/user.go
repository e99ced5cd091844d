package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     *string   `json:"fullName"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CachedUser is the single-slot record that lets the app render a logged-in
// shell while the session cannot be verified.
type CachedUser struct {
	UserData        *User `json:"userData"`
	IsAuthenticated bool  `json:"isAuthenticated"`
}

func NewCachedUser(u *User) CachedUser {
	return CachedUser{UserData: u, IsAuthenticated: u != nil}
}

type Credentials struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	FullName *string `json:"fullName,omitempty"`
}

type SessionClaims struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}
