package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the payload for account creation.
type RegisterRequest struct {
	Phone      string `json:"phone" validate:"required,len=11,numeric"`
	Password   string `json:"password" validate:"required,min=6"`
	Nickname   string `json:"nickname" validate:"required,min=1,max=50"`
	ChildGrade string `json:"child_grade" validate:"required,max=20"`
	SMSCode    string `json:"sms_code" validate:"required,len=6"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Phone    string `json:"phone" validate:"required,len=11,numeric"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	NewGrade    *string   `json:"new_grade,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// SendSMSCodeRequest asks for a verification code.
type SendSMSCodeRequest struct {
	Phone   string `json:"phone" validate:"required,len=11,numeric"`
	Purpose string `json:"purpose" validate:"required,oneof=register login reset_password"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Phone      string   `json:"phone"`
	Nickname   string   `json:"nickname"`
	Role       UserRole `json:"role"`
	ChildGrade string   `json:"child_grade"`
	Points     int64    `json:"points"`
	Level      string   `json:"level"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Phone  string   `json:"phone"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
