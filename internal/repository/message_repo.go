package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-chat/internal/domain"
)

// MessageRepository define la persistencia de mensajes y sus transiciones.
// Las transiciones son condicionales: solo afectan filas cuyo timestamp sigue sin asignar.
type MessageRepository interface {
	Create(ctx context.Context, senderID, recipientID int64, content string, createdAt time.Time) (domain.Message, error)
	GetByID(ctx context.Context, id int64) (domain.Message, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) (domain.Message, bool, error)
	DeliverPending(ctx context.Context, recipientID int64, at time.Time) ([]domain.Message, error)
	MarkSeen(ctx context.Context, id, viewerID int64, at time.Time) (domain.Message, bool, error)
	MarkAllSeenFrom(ctx context.Context, viewerID, senderID int64, at time.Time) ([]domain.Message, error)
	ListConversation(ctx context.Context, userA, userB int64) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

const messageColumns = `id, from_id, to_id, content, created_at, delivered_at, delivered_seq, seen_at, seen_seq`

func (r *PgMessageRepository) Create(ctx context.Context, senderID, recipientID int64, content string, createdAt time.Time) (domain.Message, error) {
	query := `
		INSERT INTO messages (from_id, to_id, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	msg, err := scanMessage(r.pool.QueryRow(ctx, query, senderID, recipientID, content, createdAt))
	if err != nil {
		return domain.Message{}, mapError(err)
	}
	return msg, nil
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id int64) (domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Message{}, mapError(err)
	}
	return msg, nil
}

// MarkDelivered asigna delivered_at si aun no estaba; el bool indica si hubo transicion.
func (r *PgMessageRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) (domain.Message, bool, error) {
	query := `
		UPDATE messages
		SET delivered_at = $2, delivered_seq = nextval('message_event_seq')
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING ` + messageColumns

	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id, at))
	if err == nil {
		return msg, true, nil
	}
	if mapError(err) != ErrNotFound {
		return domain.Message{}, false, err
	}
	current, err := r.GetByID(ctx, id)
	return current, false, err
}

// DeliverPending marca como entregados, en una sola transaccion, todos los mensajes
// pendientes del destinatario y los devuelve en orden created_at, id.
func (r *PgMessageRepository) DeliverPending(ctx context.Context, recipientID int64, at time.Time) ([]domain.Message, error) {
	const selectQuery = `
		SELECT id FROM messages
		WHERE to_id = $1 AND delivered_at IS NULL
		ORDER BY created_at ASC, id ASC
		FOR UPDATE`
	updateQuery := `
		UPDATE messages
		SET delivered_at = $2, delivered_seq = nextval('message_event_seq')
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING ` + messageColumns

	var out []domain.Message
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ids, err := collectIDs(ctx, tx, selectQuery, recipientID)
		if err != nil {
			return err
		}
		out, err = updateInOrder(ctx, tx, updateQuery, ids, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deliver pending: %w", err)
	}
	return out, nil
}

// MarkSeen asigna seen_at a un mensaje ya entregado al viewer.
func (r *PgMessageRepository) MarkSeen(ctx context.Context, id, viewerID int64, at time.Time) (domain.Message, bool, error) {
	query := `
		UPDATE messages
		SET seen_at = $3, seen_seq = nextval('message_event_seq')
		WHERE id = $1 AND to_id = $2 AND seen_at IS NULL AND delivered_at IS NOT NULL
		RETURNING ` + messageColumns

	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id, viewerID, at))
	if err == nil {
		return msg, true, nil
	}
	if mapError(err) != ErrNotFound {
		return domain.Message{}, false, err
	}
	current, err := r.GetByID(ctx, id)
	return current, false, err
}

// MarkAllSeenFrom marca como vistos todos los mensajes entregados de senderID a viewerID.
func (r *PgMessageRepository) MarkAllSeenFrom(ctx context.Context, viewerID, senderID int64, at time.Time) ([]domain.Message, error) {
	const selectQuery = `
		SELECT id FROM messages
		WHERE to_id = $1 AND from_id = $2 AND seen_at IS NULL AND delivered_at IS NOT NULL
		ORDER BY created_at ASC, id ASC
		FOR UPDATE`
	updateQuery := `
		UPDATE messages
		SET seen_at = $2, seen_seq = nextval('message_event_seq')
		WHERE id = $1 AND seen_at IS NULL
		RETURNING ` + messageColumns

	var out []domain.Message
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ids, err := collectIDs(ctx, tx, selectQuery, viewerID, senderID)
		if err != nil {
			return err
		}
		out, err = updateInOrder(ctx, tx, updateQuery, ids, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mark all seen: %w", err)
	}
	return out, nil
}

func (r *PgMessageRepository) ListConversation(ctx context.Context, userA, userB int64) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func collectIDs(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// updateInOrder encola una actualizacion por id y lee los resultados en el mismo orden,
// de modo que la secuencia asignada sigue el orden de seleccion.
func updateInOrder(ctx context.Context, tx pgx.Tx, query string, ids []int64, at time.Time) ([]domain.Message, error) {
	if len(ids) == 0 {
		return []domain.Message{}, nil
	}
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(query, id, at)
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	out := make([]domain.Message, 0, len(ids))
	for range ids {
		msg, err := scanMessage(results.QueryRow())
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		msg          domain.Message
		deliveredSeq *int64
		seenSeq      *int64
	)
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.CreatedAt,
		&msg.DeliveredAt,
		&deliveredSeq,
		&msg.SeenAt,
		&seenSeq,
	)
	if err != nil {
		return domain.Message{}, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.DeliveredAt != nil {
		t := msg.DeliveredAt.UTC()
		msg.DeliveredAt = &t
	}
	if msg.SeenAt != nil {
		t := msg.SeenAt.UTC()
		msg.SeenAt = &t
	}
	if deliveredSeq != nil {
		msg.DeliveredSeq = *deliveredSeq
	}
	if seenSeq != nil {
		msg.SeenSeq = *seenSeq
	}
	return msg, nil
}
