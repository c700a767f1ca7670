package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.DefaultCost)

// Service implements account and session business logic.
type Service struct {
	users       UserStore
	connections ConnectionStore
	jwtSecret   []byte
	tokenTTL    time.Duration
}

// NewService creates an auth service.
func NewService(users UserStore, connections ConnectionStore, jwtSecret string, tokenTTL time.Duration) *Service {
	return &Service{
		users:       users,
		connections: connections,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
	}
}

// Register creates an account and returns it with a fresh session token.
func (s *Service) Register(ctx context.Context, email, name, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if len(password) < 8 {
		return nil, "", ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, "", err
	}

	token, err := issueToken(s.jwtSecret, u.ID, u.Email, s.tokenTTL)
	if err != nil {
		return nil, "", err
	}

	logger.Info("user registered", "email", email)
	return u, token, nil
}

// Login verifies credentials and returns the user with a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Run the hash comparison anyway so lookup failures and password
		// failures take comparable time.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := issueToken(s.jwtSecret, u.ID, u.Email, s.tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Verify parses a session token and returns its claims.
func (s *Service) Verify(tokenString string) (*SessionClaims, error) {
	return parseToken(s.jwtSecret, tokenString)
}

// User returns the account behind a session.
func (s *Service) User(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// Connections lists the user's linked provider accounts.
func (s *Service) Connections(ctx context.Context, userID string) ([]domain.ProviderConnection, error) {
	return s.connections.ListByUser(ctx, userID)
}

// Disconnect unlinks a provider account. Previously sent mail and its
// tracking history are untouched.
func (s *Service) Disconnect(ctx context.Context, userID string, p domain.Provider) error {
	if err := s.connections.Delete(ctx, userID, p); err != nil {
		return err
	}
	logger.Info("provider disconnected", "user_id", userID, "provider", string(p))
	return nil
}
