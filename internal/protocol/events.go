package protocol

import (
	"encoding/json"
	"strconv"
	"time"

	"realtime-chat/internal/domain"
)

// Eventos salientes.
const (
	EventUserConnected    = "user_connected"
	EventUsersUpdated     = "users_updated"
	EventUserDisconnected = "user_disconnected"
	EventConnectedUsers   = "connected_users"
	EventMessageSent      = "message_sent"
	EventNewMessage       = "new_message"
	EventMessageDelivered = "message_delivered"
	EventTypingRelay      = "typing"
	EventMessageSeenAck   = "message_seen"
	EventError            = "error"
)

// Event es cualquier payload saliente; Name devuelve su etiqueta.
type Event interface {
	Name() string
}

// Encode serializa un evento para escribirlo en el socket.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func userIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}

type UserConnected struct {
	Event          string                 `json:"event"`
	UserID         string                 `json:"user_id"`
	UserInfo       domain.PresenceEntry   `json:"user_info"`
	ConnectedUsers []domain.PresenceEntry `json:"connected_users"`
}

func (UserConnected) Name() string { return EventUserConnected }

func NewUserConnected(entry domain.PresenceEntry, snapshot []domain.PresenceEntry) UserConnected {
	return UserConnected{
		Event:          EventUserConnected,
		UserID:         entry.UserID,
		UserInfo:       entry,
		ConnectedUsers: nonNil(snapshot),
	}
}

type UserDisconnected struct {
	Event          string                 `json:"event"`
	UserID         string                 `json:"user_id"`
	ConnectedUsers []domain.PresenceEntry `json:"connected_users"`
}

func (UserDisconnected) Name() string { return EventUserDisconnected }

func NewUserDisconnected(userID int64, snapshot []domain.PresenceEntry) UserDisconnected {
	return UserDisconnected{
		Event:          EventUserDisconnected,
		UserID:         userIDString(userID),
		ConnectedUsers: nonNil(snapshot),
	}
}

type UsersUpdated struct {
	Event          string                 `json:"event"`
	ConnectedUsers []domain.PresenceEntry `json:"connected_users"`
}

func (UsersUpdated) Name() string { return EventUsersUpdated }

func NewUsersUpdated(snapshot []domain.PresenceEntry) UsersUpdated {
	return UsersUpdated{Event: EventUsersUpdated, ConnectedUsers: nonNil(snapshot)}
}

type ConnectedUsers struct {
	Event string                 `json:"event"`
	Users []domain.PresenceEntry `json:"users"`
}

func (ConnectedUsers) Name() string { return EventConnectedUsers }

func NewConnectedUsers(snapshot []domain.PresenceEntry) ConnectedUsers {
	return ConnectedUsers{Event: EventConnectedUsers, Users: nonNil(snapshot)}
}

type MessageSent struct {
	Event     string    `json:"event"`
	MessageID int64     `json:"message_id"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (MessageSent) Name() string { return EventMessageSent }

func NewMessageSent(m domain.Message) MessageSent {
	return MessageSent{
		Event:     EventMessageSent,
		MessageID: m.ID,
		To:        userIDString(m.RecipientID),
		Message:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

type NewMessage struct {
	Event     string    `json:"event"`
	From      string    `json:"from"`
	MessageID int64     `json:"message_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (NewMessage) Name() string { return EventNewMessage }

func NewNewMessage(m domain.Message) NewMessage {
	return NewMessage{
		Event:     EventNewMessage,
		From:      userIDString(m.SenderID),
		MessageID: m.ID,
		Message:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

type MessageDelivered struct {
	Event       string    `json:"event"`
	MessageID   int64     `json:"message_id"`
	Timestamp   time.Time `json:"timestamp"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (MessageDelivered) Name() string { return EventMessageDelivered }

func NewMessageDelivered(m domain.Message) MessageDelivered {
	ev := MessageDelivered{
		Event:     EventMessageDelivered,
		MessageID: m.ID,
		Timestamp: m.CreatedAt,
	}
	if m.DeliveredAt != nil {
		ev.DeliveredAt = *m.DeliveredAt
	}
	return ev
}

type MessageSeen struct {
	Event     string    `json:"event"`
	MessageID int64     `json:"message_id"`
	SeenAt    time.Time `json:"seen_at"`
}

func (MessageSeen) Name() string { return EventMessageSeenAck }

func NewMessageSeen(m domain.Message) MessageSeen {
	ev := MessageSeen{Event: EventMessageSeenAck, MessageID: m.ID}
	if m.SeenAt != nil {
		ev.SeenAt = *m.SeenAt
	}
	return ev
}

type Typing struct {
	Event    string `json:"event"`
	From     string `json:"from"`
	IsTyping bool   `json:"is_typing"`
}

func (Typing) Name() string { return EventTypingRelay }

func NewTyping(from int64, isTyping bool) Typing {
	return Typing{Event: EventTypingRelay, From: userIDString(from), IsTyping: isTyping}
}

// Error se envia solo a la conexion que origino el problema.
type Error struct {
	Event   string   `json:"event"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (Error) Name() string { return EventError }

func NewError(message string, reasons ...string) Error {
	return Error{Event: EventError, Message: message, Errors: reasons}
}

func nonNil(entries []domain.PresenceEntry) []domain.PresenceEntry {
	if entries == nil {
		return []domain.PresenceEntry{}
	}
	return entries
}
