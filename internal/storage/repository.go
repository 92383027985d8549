package storage

import (
	"context"

	"github.com/open-apime/relay/internal/storage/model"
)

var (
	ErrNotFound  = model.ErrNotFound
	ErrLastAdmin = model.ErrLastAdmin
	ErrDuplicate = model.ErrDuplicate
)

type UserRepository interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, user model.User) (model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// LogRepository guarda as linhas do log operacional exibidas no painel.
type LogRepository interface {
	Append(ctx context.Context, entry model.LogEntry) (model.LogEntry, error)
	Recent(ctx context.Context, limit int) ([]model.LogEntry, error)
	DeleteByInstance(ctx context.Context, instanceID string) error
}
