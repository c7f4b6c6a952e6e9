package user

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

var Roles = []Role{RoleUser, RoleAdmin}

// ParseRole accepts any casing of a known role name.
func ParseRole(value string) (Role, bool) {
	candidate := Role(strings.ToUpper(strings.TrimSpace(value)))
	for _, role := range Roles {
		if role == candidate {
			return role, true
		}
	}
	return "", false
}

type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	AvatarURL    string
	PasswordHash string
	Role         Role
	RefreshToken string
	TokenEpoch   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
)
