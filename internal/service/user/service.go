package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-apime/relay/internal/storage"
	"github.com/open-apime/relay/internal/storage/model"
)

var ErrInvalidInput = errors.New("dados de usuário inválidos")

type Service struct {
	repo storage.UserRepository
}

func NewService(repo storage.UserRepository) *Service {
	return &Service{repo: repo}
}

type CreateInput struct {
	Email    string
	Password string
	Role     model.UserRole
}

func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required, validation.Length(4, 72)),
		validation.Field(&in.Role, validation.In(model.UserRoleAdmin, model.UserRoleUser)),
	)
}

type UpdateInput struct {
	Role     *model.UserRole
	Banned   *bool
	Password *string
}

func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Role, validation.NilOrNotEmpty, validation.In(model.UserRoleAdmin, model.UserRoleUser)),
		validation.Field(&in.Password, validation.NilOrNotEmpty, validation.Length(4, 72)),
	)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Role == "" {
		in.Role = model.UserRoleUser
	}
	if err := in.Validate(); err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("user: hash da senha: %w", err)
	}
	return s.repo.Create(ctx, model.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
	})
}

func (s *Service) Get(ctx context.Context, id string) (model.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.User, error) {
	if err := in.Validate(); err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.User{}, fmt.Errorf("user: hash da senha: %w", err)
		}
		if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
			return model.User{}, err
		}
	}
	if in.Role == nil && in.Banned == nil {
		return user, nil
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	if in.Banned != nil {
		user.Banned = *in.Banned
	}
	return s.repo.Update(ctx, user)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// EnsureAdmin cria o administrador inicial quando a base está vazia.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string, log *zap.Logger) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("user: contar usuários: %w", err)
	}
	if n > 0 {
		return nil
	}
	if email == "" || password == "" {
		log.Warn("nenhum usuário cadastrado e ADMIN_EMAIL/ADMIN_PASSWORD ausentes")
		return nil
	}

	admin, err := s.Create(ctx, CreateInput{Email: email, Password: password, Role: model.UserRoleAdmin})
	if err != nil {
		return err
	}
	log.Info("administrador inicial criado", zap.String("email", admin.Email))
	return nil
}
