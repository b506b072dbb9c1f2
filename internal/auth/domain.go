package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents an account able to authenticate.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	TenantID     string
	CompanyID    string
	GlobalRole   string
	IsActive     bool
}

// Claims are the access token claims. The subject is the user ID and the
// token ID is the session ID.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tid,omitempty"`
	CompanyID  string `json:"cid,omitempty"`
	GlobalRole string `json:"role,omitempty"`
}

// IssuedToken is returned by a successful login.
type IssuedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
