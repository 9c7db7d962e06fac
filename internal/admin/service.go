package admin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/admin"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAdminExists      = errors.New("admin already exists")
	ErrInvalidCreds     = errors.New("invalid credentials")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrInvalidEmail     = errors.New("invalid email")
)

type Repository interface {
	CreateAdmin(ctx context.Context, a *admin.Admin) error
	FindAdminByEmail(ctx context.Context, email string) (*admin.Admin, error)
}

type Service struct {
	repo      Repository
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewService(repo Repository, jwtSecret []byte, jwtTTL time.Duration) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

// CreateAdmin заводит учётную запись оператора. Используется командой create-admin.
func (s *Service) CreateAdmin(ctx context.Context, email, password string) (*admin.Admin, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}
	_, err := s.repo.FindAdminByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrAdminExists
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	a := &admin.Admin{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateAdmin(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate returns a signed HS256 token whose subject is the admin email.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	a, err := s.repo.FindAdminByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCreds
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCreds
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   a.Email,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
