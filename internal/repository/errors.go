package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnknownUser = errors.New("unknown user")
)

const pgForeignKeyViolation = "23503"

// mapError traduce errores de pgx a los sentinels del paquete.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrUnknownUser
	}
	return err
}
