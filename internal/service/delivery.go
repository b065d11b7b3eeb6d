package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/protocol"
	"realtime-chat/internal/repository"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessageNotDelivered = errors.New("message not delivered yet")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrDeliveryNotReady    = errors.New("delivery engine not configured")
)

// Notifier es la vista del registro de presencia que necesita el motor de entrega.
type Notifier interface {
	IsOnline(userID int64) bool
	Unicast(userID int64, ev protocol.Event) bool
}

// ContentValidator valida y sanea el contenido antes de persistirlo.
type ContentValidator interface {
	ValidateContent(text string) ContentResult
}

// DeliveryEngine maneja el ciclo de vida created -> delivered -> seen de los mensajes.
type DeliveryEngine struct {
	logger    *zap.Logger
	messages  repository.MessageRepository
	notifier  Notifier
	validator ContentValidator
	locks     *keyedMutex
	now       func() time.Time
}

func NewDeliveryEngine(logger *zap.Logger, messages repository.MessageRepository, notifier Notifier, validator ContentValidator) *DeliveryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryEngine{
		logger:    logger,
		messages:  messages,
		notifier:  notifier,
		validator: validator,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit persiste el mensaje, confirma al emisor y lo entrega si el destinatario esta conectado.
func (e *DeliveryEngine) Submit(ctx context.Context, senderID, recipientID int64, raw string) (domain.Message, error) {
	if e == nil || e.messages == nil || e.notifier == nil {
		return domain.Message{}, ErrDeliveryNotReady
	}

	content := raw
	if e.validator != nil {
		res := e.validator.ValidateContent(raw)
		if !res.OK {
			return domain.Message{}, &ValidationError{Reasons: res.Errors}
		}
		if len(res.Warnings) > 0 {
			e.logger.Debug("message sanitized",
				zap.Int64("sender_id", senderID),
				zap.Strings("warnings", res.Warnings),
			)
		}
		content = res.Text
	}

	msg, err := e.messages.Create(ctx, senderID, recipientID, content, e.now())
	if err != nil {
		if errors.Is(err, repository.ErrUnknownUser) {
			return domain.Message{}, ErrRecipientNotFound
		}
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}

	e.notifier.Unicast(senderID, protocol.NewMessageSent(msg))

	unlock := e.locks.Lock(recipientID)
	defer unlock()

	if !e.notifier.IsOnline(recipientID) {
		return msg, nil
	}

	// Un replay concurrente pudo haberlo entregado ya.
	current, err := e.messages.GetByID(ctx, msg.ID)
	if err != nil {
		return msg, fmt.Errorf("reload message %d: %w", msg.ID, err)
	}
	if current.IsDelivered() {
		return current, nil
	}

	if !e.notifier.Unicast(recipientID, protocol.NewNewMessage(msg)) {
		e.logger.Info("live delivery failed, message left pending",
			zap.Int64("message_id", msg.ID),
			zap.Int64("recipient_id", recipientID),
		)
		return msg, nil
	}

	delivered, transitioned, err := e.messages.MarkDelivered(ctx, msg.ID, e.now())
	if err != nil {
		return msg, fmt.Errorf("mark delivered %d: %w", msg.ID, err)
	}
	if transitioned {
		e.notifier.Unicast(senderID, protocol.NewMessageDelivered(delivered))
	}
	return delivered, nil
}

// MarkSeen marca un mensaje como visto por su destinatario y avisa al emisor.
// Repetir la llamada sobre un mensaje ya visto no tiene efecto.
func (e *DeliveryEngine) MarkSeen(ctx context.Context, viewerID, messageID int64) (domain.Message, error) {
	if e == nil || e.messages == nil || e.notifier == nil {
		return domain.Message{}, ErrDeliveryNotReady
	}

	msg, transitioned, err := e.messages.MarkSeen(ctx, messageID, viewerID, e.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Message{}, ErrMessageNotFound
		}
		return domain.Message{}, fmt.Errorf("mark seen %d: %w", messageID, err)
	}
	if msg.RecipientID != viewerID {
		return domain.Message{}, ErrMessageNotFound
	}
	if !transitioned {
		if !msg.IsDelivered() {
			return msg, ErrMessageNotDelivered
		}
		return msg, nil
	}

	e.notifier.Unicast(msg.SenderID, protocol.NewMessageSeen(msg))
	return msg, nil
}

// MarkAllSeenFrom marca como vistos todos los mensajes entregados de senderID a viewerID
// y notifica al emisor uno por uno, en el mismo orden en que se marcaron.
func (e *DeliveryEngine) MarkAllSeenFrom(ctx context.Context, viewerID, senderID int64) ([]domain.Message, error) {
	if e == nil || e.messages == nil || e.notifier == nil {
		return nil, ErrDeliveryNotReady
	}

	seen, err := e.messages.MarkAllSeenFrom(ctx, viewerID, senderID, e.now())
	if err != nil {
		return nil, fmt.Errorf("mark all seen from %d: %w", senderID, err)
	}
	for _, m := range seen {
		e.notifier.Unicast(m.SenderID, protocol.NewMessageSeen(m))
	}
	return seen, nil
}

// ReplayPending entrega los mensajes que userID recibio mientras estaba desconectado.
// Se invoca una vez por conexion antes de atender eventos en vivo.
func (e *DeliveryEngine) ReplayPending(ctx context.Context, userID int64) ([]domain.Message, error) {
	if e == nil || e.messages == nil || e.notifier == nil {
		return nil, ErrDeliveryNotReady
	}

	unlock := e.locks.Lock(userID)
	defer unlock()
	return e.replayLocked(ctx, userID)
}

// Connect ejecuta register y el replay de userID bajo el mismo lock del destinatario,
// de modo que ningun Submit entregue en vivo antes de que termine el replay.
func (e *DeliveryEngine) Connect(ctx context.Context, userID int64, register func()) ([]domain.Message, error) {
	if e == nil || e.messages == nil || e.notifier == nil {
		if register != nil {
			register()
		}
		return nil, ErrDeliveryNotReady
	}

	unlock := e.locks.Lock(userID)
	defer unlock()
	if register != nil {
		register()
	}
	return e.replayLocked(ctx, userID)
}

func (e *DeliveryEngine) replayLocked(ctx context.Context, userID int64) ([]domain.Message, error) {
	pending, err := e.messages.DeliverPending(ctx, userID, e.now())
	if err != nil {
		return nil, fmt.Errorf("replay pending for %d: %w", userID, err)
	}
	if len(pending) == 0 {
		return pending, nil
	}

	e.logger.Info("replaying pending messages",
		zap.Int64("user_id", userID),
		zap.Int("count", len(pending)),
	)
	interrupted := false
	for _, m := range pending {
		if !e.notifier.Unicast(userID, protocol.NewNewMessage(m)) && !interrupted {
			interrupted = true
			e.logger.Warn("replay interrupted, recipient went away",
				zap.Int64("user_id", userID),
				zap.Int64("message_id", m.ID),
			)
		}
		e.notifier.Unicast(m.SenderID, protocol.NewMessageDelivered(m))
	}
	return pending, nil
}

// keyedMutex serializa operaciones por usuario.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
