package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-chat/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	UpsertByExternalID(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

// UpsertByExternalID crea el usuario o actualiza nombre y avatar si ya existe.
func (r *PgUserRepository) UpsertByExternalID(ctx context.Context, user domain.User) (domain.User, error) {
	const query = `
		INSERT INTO users (google_id, name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $4)
		ON CONFLICT (google_id) DO UPDATE
		SET name = EXCLUDED.name,
		    avatar_url = EXCLUDED.avatar_url,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, google_id, name, COALESCE(avatar_url, ''), created_at, updated_at
	`
	now := time.Now().UTC()
	var u domain.User
	err := r.pool.QueryRow(ctx, query, user.ExternalID, user.Name, user.AvatarURL, now).Scan(
		&u.ID,
		&u.ExternalID,
		&u.Name,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id int64) (domain.User, error) {
	const query = `
		SELECT id, google_id, name, COALESCE(avatar_url, ''), created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.ExternalID,
		&u.Name,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
