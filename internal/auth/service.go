package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Roles accepted at registration and login.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

const (
	maxUsernameLength = 150
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// Accounts is the user storage the service needs.
type Accounts interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Service handles registration and sign-in.
type Service struct {
	accounts  Accounts
	tokens    *Tokens
	adminCode string
	log       zerolog.Logger
}

// NewService creates the auth service. An empty adminCode disables admin
// self-registration.
func NewService(accounts Accounts, tokens *Tokens, adminCode string, log zerolog.Logger) *Service {
	return &Service{accounts: accounts, tokens: tokens, adminCode: adminCode, log: log}
}

// Session is a signed-in user and their bearer token.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username        string
	Password        string
	PasswordConfirm string
	Role            string
	AdminCode       string
}

// Register creates an account and signs it in. Usernames are stored
// lower-cased; the admin role requires the registration code.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password, in.PasswordConfirm); err != nil {
		return nil, err
	}

	role := normalizeRole(in.Role)
	isStaff := false
	if role == RoleAdmin {
		code := strings.TrimSpace(in.AdminCode)
		if s.adminCode == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.adminCode)) != 1 {
			return nil, &domain.AuthorizationError{Reason: "Invalid admin registration code."}
		}
		isStaff = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("Register: hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		IsStaff:      isStaff,
	}
	if err := s.accounts.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("username", username).Bool("is_staff", isStaff).Msg("User registered")
	return s.session(user)
}

// LoginInput is a sign-in request.
type LoginInput struct {
	Username string
	Password string
	Role     string
}

// Login checks credentials. Signing in as admin requires a staff account.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	wrong := &domain.AuthenticationError{Reason: "Wrong username or password."}

	user, err := s.accounts.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, wrong
	}
	if err != nil {
		return nil, fmt.Errorf("Login: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		s.log.Warn().Str("username", username).Msg("Failed login attempt")
		return nil, wrong
	}
	if normalizeRole(in.Role) == RoleAdmin && !user.IsStaff {
		return nil, &domain.AuthorizationError{Reason: "This account is not an admin account."}
	}

	return s.session(user)
}

func (s *Service) session(user *domain.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

func normalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleMember
}

func normalizeUsername(raw string) (string, error) {
	username, err := domain.RequireText("username", strings.ToLower(raw), maxUsernameLength)
	if err != nil {
		return "", err
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("@.+-_", r):
		default:
			return "", domain.NewValidationError("username", "may contain only letters, digits and @/./+/-/_")
		}
	}
	return username, nil
}

func validatePassword(password, confirm string) error {
	switch {
	case len(password) < minPasswordLength:
		return domain.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	case len(password) > maxPasswordLength:
		return domain.NewValidationError("password", fmt.Sprintf("must be at most %d bytes", maxPasswordLength))
	case confirm != "" && confirm != password:
		return domain.NewValidationError("password_confirm", "does not match password")
	}
	return nil
}
