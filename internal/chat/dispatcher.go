package chat

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/protocol"
	"realtime-chat/internal/service"
)

// Presence es la parte del registro que usa el dispatcher.
type Presence interface {
	Register(userID int64, h presence.Handle, profile domain.Profile) presence.Handle
	Disconnect(userID int64, h presence.Handle) bool
	Touch(userID int64)
	Unicast(userID int64, ev protocol.Event) bool
	ListOnline() []domain.PresenceEntry
}

// Engine es la parte del motor de entrega que usa el dispatcher.
type Engine interface {
	Submit(ctx context.Context, senderID, recipientID int64, raw string) (domain.Message, error)
	MarkSeen(ctx context.Context, viewerID, messageID int64) (domain.Message, error)
	MarkAllSeenFrom(ctx context.Context, viewerID, senderID int64) ([]domain.Message, error)
	Connect(ctx context.Context, userID int64, register func()) ([]domain.Message, error)
}

type Options struct {
	SendQueue  int
	PingPeriod time.Duration
}

// Dispatcher atiende una tarea por conexion: registra la sesion, reenvia lo
// pendiente y enruta cada frame entrante al registro o al motor de entrega.
type Dispatcher struct {
	logger   *zap.Logger
	presence Presence
	engine   Engine
	opts     Options
}

func NewDispatcher(logger *zap.Logger, p Presence, engine Engine, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger, presence: p, engine: engine, opts: opts}
}

// Serve bloquea hasta que la conexion termina. El socket ya esta autenticado como user.
func (d *Dispatcher) Serve(ctx context.Context, ws *websocket.Conn, user domain.User) {
	conn := newConn(ws, user.ID, d.opts.SendQueue, d.opts.PingPeriod, d.logger)
	go conn.writePump()

	register := func() {
		if prev := d.presence.Register(user.ID, conn, domain.ProfileFromUser(user)); prev != nil {
			d.logger.Info("closing replaced connection",
				zap.Int64("user_id", user.ID),
				zap.String("conn_id", prev.ID()),
			)
			prev.Close()
		}
	}
	if _, err := d.engine.Connect(ctx, user.ID, register); err != nil {
		d.logger.Error("replay pending failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	d.readLoop(ctx, conn)

	d.presence.Disconnect(user.ID, conn)
	conn.Close()
	<-conn.done
}

func (d *Dispatcher) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(conn.pongWait))
	ws.SetPongHandler(func(string) error {
		d.presence.Touch(conn.userID)
		return ws.SetReadDeadline(time.Now().Add(conn.pongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				d.logger.Info("websocket read failed", zap.Int64("user_id", conn.userID), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(conn.pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		d.handleFrame(ctx, conn, data)
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, conn *Conn, raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		d.reply(conn, protocol.NewError("Invalid message format"))
		return
	}
	if !env.Known() {
		d.logger.Debug("ignoring unknown event", zap.Int64("user_id", conn.userID), zap.String("event", env.Event))
		return
	}
	if err := env.Validate(); err != nil {
		var envErr *protocol.EnvelopeError
		if errors.As(err, &envErr) {
			d.reply(conn, protocol.NewError("Invalid "+env.Event+" event", envErr.Reasons...))
			return
		}
		d.reply(conn, protocol.NewError("Invalid message format"))
		return
	}

	userID := conn.userID
	switch env.Event {
	case protocol.EventMessage:
		_, err = d.engine.Submit(ctx, userID, env.To.Int64(), *env.Message)
	case protocol.EventTyping:
		d.presence.Unicast(env.To.Int64(), protocol.NewTyping(userID, *env.IsTyping))
	case protocol.EventMessageSeen:
		_, err = d.engine.MarkSeen(ctx, userID, *env.MessageID)
	case protocol.EventMarkMessagesSeen:
		_, err = d.engine.MarkAllSeenFrom(ctx, userID, env.FromUserID.Int64())
	case protocol.EventGetConnectedUsers:
		d.reply(conn, protocol.NewConnectedUsers(d.presence.ListOnline()))
	}
	if err != nil {
		d.reply(conn, d.errorEvent(userID, env.Event, err))
	}
}

func (d *Dispatcher) errorEvent(userID int64, event string, err error) protocol.Error {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		d.logger.Info("message rejected", zap.Int64("user_id", userID), zap.Strings("reasons", vErr.Reasons))
		return protocol.NewError("Message validation failed", vErr.Reasons...)
	case errors.Is(err, service.ErrMessageNotFound):
		return protocol.NewError("Message not found")
	case errors.Is(err, service.ErrMessageNotDelivered):
		return protocol.NewError("Message not delivered yet")
	case errors.Is(err, service.ErrRecipientNotFound):
		return protocol.NewError("Recipient not found")
	default:
		d.logger.Error("event handling failed",
			zap.Int64("user_id", userID),
			zap.String("event", event),
			zap.Error(err),
		)
		return protocol.NewError("Internal server error")
	}
}

// reply responde solo a esta conexion, aunque el usuario tenga otra sesion registrada.
func (d *Dispatcher) reply(conn *Conn, ev protocol.Event) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		d.logger.Error("encode event failed", zap.String("event", ev.Name()), zap.Error(err))
		return
	}
	if err := conn.Send(payload); err != nil {
		d.logger.Warn("reply failed, dropping connection", zap.Int64("user_id", conn.userID), zap.Error(err))
		d.presence.Disconnect(conn.userID, conn)
	}
}
