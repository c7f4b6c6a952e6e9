package auth

import (
	"blog-serverless/internal/session"
	"blog-serverless/internal/user"
)

type UserView struct {
	ID        int64  `json:"id"`
	Username  string `json:"userName"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarURL string `json:"avatarUrl"`
	Role      string `json:"role"`
}

func NewUserView(u user.User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		Role:      string(u.Role),
	}
}

type LoginResponse struct {
	session.Pair
	User UserView `json:"user"`
}

type RegisterInput struct {
	Username  string `json:"userName"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	AvatarURL string `json:"avatarUrl"`
}

// ValidationError carries a message safe to return to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
