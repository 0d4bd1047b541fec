package service

import "github.com/agencydesk/identity/internal/domain"

// RegisterRequest carries the self-service registration payload.
type RegisterRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Phone    string `json:"phone"`
	NPN      string `json:"npn"`
}

// UserView is the user projection returned to clients.
type UserView struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Phone  string `json:"phone,omitempty"`
	NPN    string `json:"npn,omitempty"`
}

// AuthResponse bundles the token pair with the user projection.
type AuthResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	User         UserView `json:"user"`
}

// OtpResponse acknowledges an OTP send.
type OtpResponse struct {
	Message string `json:"message"`
	Phone   string `json:"phone"`
}

// MessageResponse is a plain acknowledgment.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenIntrospection is the result of a successful access-token check.
type TokenIntrospection struct {
	UserID   int64           `json:"user_id"`
	Role     string          `json:"role"`
	Provider domain.Provider `json:"provider"`
	Version  int64           `json:"version"`
	User     UserView        `json:"user"`
}

func newUserView(user domain.User) UserView {
	return UserView{
		ID:     user.ID,
		Handle: user.Handle,
		Email:  user.Email,
		Role:   user.Role,
		Phone:  user.Phone,
		NPN:    user.NPN,
	}
}
