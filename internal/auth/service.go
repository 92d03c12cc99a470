package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

const minPasswordLen = 8

// Session is returned by signup and login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        jobs.User `json:"user"`
}

// Service registers and authenticates users.
type Service struct {
	users  jobs.UserStore
	tokens *Tokens
	ids    jobs.IDGenerator
	clock  jobs.Clock
	cost   int
	logger *zap.Logger
}

// NewService wires the account store and token issuer. A zero cost uses
// bcrypt.DefaultCost.
func NewService(users jobs.UserStore, tokens *Tokens, cost int, logger *zap.Logger) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:  users,
		tokens: tokens,
		ids:    jobs.UUIDv7{},
		clock:  jobs.SystemClock{},
		cost:   cost,
		logger: logger.Named("auth"),
	}
}

// Tokens exposes the resolver used by the HTTP middleware.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Signup creates an account. A taken email returns jobs.ErrConflict.
func (s *Service) Signup(ctx context.Context, email, password, name string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < minPasswordLen {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Session{}, err
	}
	user := jobs.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(name),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", id.String()))
	return s.session(user)
}

// Login checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, jobs.ErrNotFound) {
		return Session{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	return s.session(user)
}

// Me loads the account behind an authenticated request.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (jobs.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, jobs.ErrNotFound) {
		return jobs.User{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
	}
	return user, err
}

func (s *Service) session(user jobs.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, TokenType: "bearer", User: user}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return email, nil
}
