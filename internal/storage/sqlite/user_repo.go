package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/open-apime/relay/internal/storage/model"
)

const userColumns = `id, email, password_hash, role, banned, created_at`

type userRepo struct {
	db *DB
}

// NewUserRepository cria um novo repositório de usuários.
func NewUserRepository(db *DB) *userRepo {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO users (id, email, password_hash, role, banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, string(user.Role), boolToInt(user.Banned), user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.User{}, mapError(err)
	}

	return user, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

func (r *userRepo) Update(ctx context.Context, user model.User) (model.User, error) {
	result, err := r.db.Conn.ExecContext(ctx, `
		UPDATE users
		SET role = ?, banned = ?
		WHERE id = ?
	`, string(user.Role), boolToInt(user.Banned), user.ID)
	if err != nil {
		return model.User{}, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return model.User{}, mapError(sql.ErrNoRows)
	}
	return r.GetByID(ctx, user.ID)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.Conn.ExecContext(ctx, `
		UPDATE users
		SET password_hash = ?
		WHERE id = ?
	`, passwordHash, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	// Verificar se é o último admin antes de deletar
	var role string
	err := r.db.Conn.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&role)
	if err != nil {
		return mapError(err)
	}

	if role == string(model.UserRoleAdmin) {
		var adminCount int
		if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&adminCount); err != nil {
			return err
		}
		if adminCount <= 1 {
			return ErrLastAdmin
		}
	}

	result, err := r.db.Conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (model.User, error) {
	var user model.User
	var role string
	var banned int
	var createdAt string

	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &banned, &createdAt); err != nil {
		return model.User{}, mapError(err)
	}

	user.Role = model.UserRole(role)
	user.Banned = banned != 0
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return user, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
