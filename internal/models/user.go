package models

// User represents a registered account holder
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"` // Not serialized
	CreatedAt    string `json:"created_at"`
}
