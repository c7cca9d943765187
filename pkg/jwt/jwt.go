package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Role is the caller's role in the civic app
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

// Permission gates individual operations
type Permission string

const (
	PermChat          Permission = "assistant:chat"
	PermResetHistory  Permission = "assistant:reset"
	PermInspectStatus Permission = "assistant:inspect"
)

var rolePermissions = map[Role][]Permission{
	RoleCitizen: {PermChat, PermResetHistory},
	RoleAdmin:   {PermChat, PermResetHistory, PermInspectStatus},
}

// JWTClaims represents the claims in a JWT token
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the given role
func (c *JWTClaims) HasRole(role Role) bool {
	return c.Role == role
}

// HasPermission reports whether the claims' role grants the permission
func (c *JWTClaims) HasPermission(permission Permission) bool {
	for _, p := range rolePermissions[c.Role] {
		if p == permission {
			return true
		}
	}
	return false
}
