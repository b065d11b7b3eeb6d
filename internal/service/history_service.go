package service

import (
	"context"
	"errors"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/repository"
)

// HistoryService expone el historial ordenado entre dos usuarios.
type HistoryService struct {
	repo repository.MessageRepository
}

var ErrHistoryServiceNotConfigured = errors.New("history service not configured")

func NewHistoryService(repo repository.MessageRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// ListConversation devuelve los mensajes en ambos sentidos, por created_at y luego id.
func (s *HistoryService) ListConversation(ctx context.Context, userA, userB int64) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrHistoryServiceNotConfigured
	}
	msgs, err := s.repo.ListConversation(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}
