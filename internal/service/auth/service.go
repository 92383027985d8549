package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-apime/relay/internal/storage"
	"github.com/open-apime/relay/internal/storage/model"
)

var (
	ErrInvalidCredentials = errors.New("credenciais inválidas")
	ErrInvalidToken       = errors.New("token inválido")
	ErrBanned             = errors.New("usuário bloqueado")
)

type Service struct {
	secret   []byte
	expHours int
	repo     storage.UserRepository
	now      func() time.Time
}

func NewService(secret string, expHours int, repo storage.UserRepository) *Service {
	if expHours <= 0 {
		expHours = 24
	}
	return &Service{
		secret:   []byte(secret),
		expHours: expHours,
		repo:     repo,
		now:      time.Now,
	}
}

// Login confere email e senha e emite um token para o usuário.
func (s *Service) Login(ctx context.Context, email, password string) (string, model.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", model.User{}, ErrInvalidCredentials
		}
		return "", model.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", model.User{}, ErrInvalidCredentials
	}
	if user.Banned {
		return "", model.User{}, ErrBanned
	}

	token, err := s.Issue(user)
	if err != nil {
		return "", model.User{}, err
	}
	return token, user, nil
}

func (s *Service) Issue(user model.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(time.Duration(s.expHours) * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: assinar token: %w", err)
	}
	return signed, nil
}

// Lookup resolve um bearer token para o usuário dono dele.
func (s *Service) Lookup(ctx context.Context, tokenString string) (model.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return model.User{}, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return model.User{}, ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, sub)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.User{}, ErrInvalidToken
		}
		return model.User{}, err
	}
	if user.Banned {
		return model.User{}, ErrBanned
	}
	return user, nil
}
