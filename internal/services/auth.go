package services

import (
	"crypto/subtle"
	"errors"

	"dashboard-backend/internal/config"
	"dashboard-backend/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// AuthService authenticates the configured operator account and issues
// tokens for the cache admin endpoints. There is no user store; the
// single admin identity comes from configuration.
type AuthService struct {
	adminEmail    string
	adminPassHash string
	jwtUtil       *jwt.JWTUtil
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func NewAuthService(cfg *config.Config, jwtUtil *jwt.JWTUtil) *AuthService {
	return &AuthService{
		adminEmail:    cfg.AdminEmail,
		adminPassHash: cfg.AdminPassHash,
		jwtUtil:       jwtUtil,
	}
}

func (s *AuthService) Login(req *LoginRequest) (*LoginResponse, error) {
	if s.adminPassHash == "" {
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(req.Email), []byte(s.adminEmail)) != 1 {
		// Run the hash comparison anyway so a wrong email costs the
		// same as a wrong password.
		bcrypt.CompareHashAndPassword([]byte(s.adminPassHash), []byte(req.Password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPassHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtUtil.GenerateToken(s.adminEmail, "admin")
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, Email: s.adminEmail, Role: "admin"}, nil
}
