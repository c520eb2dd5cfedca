package repositories

import (
	"context"
	"fmt"

	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserRepository defines the interface for user lookups.
type UserRepository interface {
	Create(ctx context.Context, tx pgx.Tx, user models.User) (pgconn.CommandTag, error)
	FindById(ctx context.Context, userID uuid.UUID) (models.User, error)
}

type UserRepositoryImpl struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (u UserRepositoryImpl) Create(ctx context.Context, tx pgx.Tx, user models.User) (pgconn.CommandTag, error) {
	return tx.Exec(ctx, `INSERT INTO users (id, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`,
		user.ID, user.Username, user.CreatedAt, user.UpdatedAt)
}

func (u UserRepositoryImpl) FindById(ctx context.Context, userID uuid.UUID) (models.User, error) {
	if userID == uuid.Nil {
		return models.User{}, fmt.Errorf("invalid user ID: %s", userID.String())
	}
	var user models.User
	err := u.db.QueryRow(ctx, `SELECT id, username, created_at, updated_at FROM users WHERE id = $1`, userID).Scan(
		&user.ID, &user.Username, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}
