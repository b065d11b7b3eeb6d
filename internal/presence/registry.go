package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/protocol"
)

// Handle es el extremo de una conexion viva. Send no debe bloquear: encola el
// payload en el buzon de la conexion o falla.
type Handle interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Mirror replica la presencia fuera del proceso (p.ej. Redis). Es opcional.
type Mirror interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

type session struct {
	handle      Handle
	profile     domain.Profile
	connectedAt time.Time
	lastUpdated *time.Time
}

func (s *session) entry(userID int64) domain.PresenceEntry {
	return domain.NewPresenceEntry(userID, s.profile, s.connectedAt, s.lastUpdated)
}

type target struct {
	userID int64
	handle Handle
}

// Registry mantiene una sesion por usuario conectado. El mutex protege solo los
// mapas; ningun envio se hace con el lock tomado.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*session

	logger        *zap.Logger
	mirror        Mirror
	mirrorTimeout time.Duration
	now           func() time.Time
}

type Option func(*Registry)

func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		sessions:      make(map[int64]*session),
		logger:        logger,
		mirrorTimeout: 500 * time.Millisecond,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserta o reemplaza la sesion del usuario y difunde user_connected con
// el snapshot completo. Devuelve el handle anterior (si era otro) para que el
// llamador lo cierre.
func (r *Registry) Register(userID int64, h Handle, profile domain.Profile) Handle {
	s := &session{handle: h, profile: profile, connectedAt: r.now()}

	r.mu.Lock()
	var prev Handle
	if old, ok := r.sessions[userID]; ok && old.handle != h {
		prev = old.handle
	}
	r.sessions[userID] = s
	entry := s.entry(userID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Info("user connected",
		zap.Int64("user_id", userID),
		zap.String("conn_id", h.ID()),
		zap.Bool("replaced", prev != nil),
	)
	r.mirrorOnline(userID)
	r.Broadcast(protocol.NewUserConnected(entry, snapshot))
	return prev
}

// Deregister quita la sesion del usuario. Es idempotente y no difunde nada.
func (r *Registry) Deregister(userID int64) bool {
	r.mu.Lock()
	_, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if ok {
		r.mirrorOffline(userID)
	}
	return ok
}

// Shutdown cierra todas las sesiones al apagar el proceso, sin difundir
// user_disconnected. Devuelve cuantas cerro.
func (r *Registry) Shutdown() int {
	r.mu.RLock()
	handles := make(map[int64]Handle, len(r.sessions))
	for userID, s := range r.sessions {
		handles[userID] = s.handle
	}
	r.mu.RUnlock()

	closed := 0
	for userID, h := range handles {
		if r.Deregister(userID) {
			h.Close()
			closed++
		}
	}
	return closed
}

// Disconnect es la ruta de desconexion: quita la sesion solo si h sigue siendo la
// actual, cierra el handle y difunde user_disconnected. Una sesion reemplazada no
// genera desconexion.
func (r *Registry) Disconnect(userID int64, h Handle) bool {
	return r.evict([]target{{userID: userID, handle: h}})
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListOnline devuelve el snapshot de presencia ordenado por id.
func (r *Registry) ListOnline() []domain.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// UpdateProfile refresca la metadata de un usuario conectado y difunde users_updated.
func (r *Registry) UpdateProfile(userID int64, profile domain.Profile) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	now := r.now()
	s.profile = profile
	s.lastUpdated = &now
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.Broadcast(protocol.NewUsersUpdated(snapshot))
	return true
}

// Touch renueva la presencia replicada de un usuario conectado.
func (r *Registry) Touch(userID int64) {
	if r.mirror == nil || !r.IsOnline(userID) {
		return
	}
	r.mirrorOnline(userID)
}

// Unicast envia un evento a un usuario. Un fallo de transporte se trata como
// desconexion implicita; el resultado indica si el payload quedo encolado.
func (r *Registry) Unicast(userID int64, ev protocol.Event) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	var h Handle
	if ok {
		h = s.handle
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := protocol.Encode(ev)
	if err != nil {
		r.logger.Error("encode event failed", zap.String("event", ev.Name()), zap.Error(err))
		return false
	}
	if err := h.Send(payload); err != nil {
		r.logger.Warn("unicast failed, dropping connection",
			zap.Int64("user_id", userID),
			zap.String("event", ev.Name()),
			zap.Error(err),
		)
		r.evict([]target{{userID: userID, handle: h}})
		return false
	}
	return true
}

// Broadcast envia un evento a todas las sesiones. Los destinatarios se copian antes
// de iterar y los fallidos se desconectan al terminar la pasada.
func (r *Registry) Broadcast(ev protocol.Event) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		r.logger.Error("encode event failed", zap.String("event", ev.Name()), zap.Error(err))
		return
	}
	r.evict(r.sendAll(payload))
}

func (r *Registry) sendAll(payload []byte) []target {
	r.mu.RLock()
	targets := lo.MapToSlice(r.sessions, func(userID int64, s *session) target {
		return target{userID: userID, handle: s.handle}
	})
	r.mu.RUnlock()

	var failed []target
	for _, t := range targets {
		if err := t.handle.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed",
				zap.Int64("user_id", t.userID),
				zap.Error(err),
			)
			failed = append(failed, t)
		}
	}
	return failed
}

// evict desconecta los destinos fallidos. Cada user_disconnected puede producir
// nuevos fallos; se procesan por rondas hasta vaciar la lista.
func (r *Registry) evict(failed []target) bool {
	removedAny := false
	for len(failed) > 0 {
		var next []target
		for _, t := range failed {
			if !r.removeIf(t.userID, t.handle) {
				continue
			}
			removedAny = true
			t.handle.Close()
			r.mirrorOffline(t.userID)
			r.logger.Info("user disconnected",
				zap.Int64("user_id", t.userID),
				zap.String("conn_id", t.handle.ID()),
			)

			payload, err := protocol.Encode(protocol.NewUserDisconnected(t.userID, r.ListOnline()))
			if err != nil {
				r.logger.Error("encode event failed", zap.Error(err))
				continue
			}
			next = append(next, r.sendAll(payload)...)
		}
		failed = next
	}
	return removedAny
}

func (r *Registry) removeIf(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || s.handle != h {
		return false
	}
	delete(r.sessions, userID)
	return true
}

func (r *Registry) snapshotLocked() []domain.PresenceEntry {
	entries := make([]domain.PresenceEntry, 0, len(r.sessions))
	for userID, s := range r.sessions {
		entries = append(entries, s.entry(userID))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (r *Registry) mirrorOnline(userID int64) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.Online(ctx, userID); err != nil {
		r.logger.Warn("presence mirror online failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (r *Registry) mirrorOffline(userID int64) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.mirrorTimeout)
	defer cancel()
	if err := r.mirror.Offline(ctx, userID); err != nil {
		r.logger.Warn("presence mirror offline failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
