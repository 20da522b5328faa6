package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

// UserStore is the account persistence the service needs
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"max=100"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by register and login
type TokenResponse struct {
	Token     string       `json:"access_token"`
	TokenType string       `json:"token_type"`
	User      *models.User `json:"user"`
}

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", common.ErrUnauthorized)

// Service registers and authenticates users
type Service struct {
	users    UserStore
	issuer   *TokenIssuer
	validate *validator.Validate
	log      *slog.Logger
}

// NewService creates the account service
func NewService(users UserStore, issuer *TokenIssuer, logger *slog.Logger) *Service {
	return &Service{
		users:    users,
		issuer:   issuer,
		validate: validator.New(),
		log:      common.OrDefault(logger),
	}
}

// Register creates an account and returns a token for it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("auth.registered", "user_id", user.ID)
	return s.tokenFor(user)
}

// Login checks credentials and returns a token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, common.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		s.log.Info("auth.login.rejected", "user_id", user.ID)
		return nil, errInvalidCredentials
	}
	return s.tokenFor(user)
}

func (s *Service) tokenFor(user *models.User) (*TokenResponse, error) {
	token, err := s.issuer.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token, TokenType: "bearer", User: user}, nil
}

// RegisterHandler handles POST /api/auth/register
func (s *Service) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp, err := s.Register(ctx, req)
	switch {
	case errors.Is(err, common.ErrDuplicate):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
	case err != nil:
		s.log.Error("auth.register.failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	default:
		writeJSON(w, http.StatusCreated, resp)
	}
}

// LoginHandler handles user authentication
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp, err := s.Login(ctx, req)
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		unauthorized(w, "invalid credentials")
	case err != nil:
		s.log.Error("auth.login.failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// MeHandler returns the authenticated user
func (s *Service) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := GetClaimsFromContext(r.Context())
	if err != nil {
		unauthorized(w, "authorization required")
		return
	}
	user, err := s.users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, common.ErrNotFound) {
		unauthorized(w, "account no longer exists")
		return
	}
	if err != nil {
		s.log.Error("auth.me.failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
		return false
	}
	return true
}

// validationMessage names the first failing field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid request"
}
