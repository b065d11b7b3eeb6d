package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/repository"
)

// UserService coordina el login contra el proveedor de identidad y la persistencia de usuarios.
type UserService struct {
	logger   *zap.Logger
	users    repository.UserRepository
	identity IdentityVerifier
}

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUserServiceNotReady = errors.New("user service not configured")
)

func NewUserService(logger *zap.Logger, users repository.UserRepository, identity IdentityVerifier) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		logger:   logger,
		users:    users,
		identity: identity,
	}
}

// Login valida el credential y crea o actualiza el usuario asociado a su subject.
func (s *UserService) Login(ctx context.Context, credential string) (domain.User, error) {
	if s.users == nil || s.identity == nil {
		return domain.User{}, ErrUserServiceNotReady
	}

	id, err := s.identity.Verify(ctx, credential)
	if err != nil {
		return domain.User{}, err
	}

	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = id.Subject
	}
	user, err := s.users.UpsertByExternalID(ctx, domain.User{
		ExternalID: id.Subject,
		Name:       name,
		AvatarURL:  strings.TrimSpace(id.AvatarURL),
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID))
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, ErrUserServiceNotReady
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}
