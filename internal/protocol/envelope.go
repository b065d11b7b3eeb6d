package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Eventos entrantes reconocidos.
const (
	EventMessage           = "message"
	EventTyping            = "typing"
	EventMessageSeen       = "message_seen"
	EventMarkMessagesSeen  = "mark_messages_seen"
	EventGetConnectedUsers = "get_connected_users"
)

// DefaultEvent se aplica cuando el sobre no trae "event"; los clientes antiguos
// mandaban {"to","message"} sin etiqueta.
const DefaultEvent = EventMessage

var ErrMalformedEnvelope = errors.New("malformed envelope")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// UserRef acepta un id de usuario como numero JSON o como string numerico.
type UserRef int64

func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("user id must be a valid integer")
	}
	*r = UserRef(n)
	return nil
}

func (r UserRef) Int64() int64 {
	return int64(r)
}

// Envelope es el sobre entrante de un frame del socket.
type Envelope struct {
	Event      string   `json:"event"`
	To         *UserRef `json:"to,omitempty"`
	Message    *string  `json:"message,omitempty"`
	MessageID  *int64   `json:"message_id,omitempty"`
	FromUserID *UserRef `json:"from_user_id,omitempty"`
	IsTyping   *bool    `json:"is_typing,omitempty"`
}

// DecodeEnvelope decodifica un frame y aplica DefaultEvent si falta la etiqueta.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		env.Event = DefaultEvent
	}
	return env, nil
}

// Known indica si el evento tiene un handler.
func (e Envelope) Known() bool {
	switch e.Event {
	case EventMessage, EventTyping, EventMessageSeen, EventMarkMessagesSeen, EventGetConnectedUsers:
		return true
	}
	return false
}

type messageShape struct {
	To      *UserRef `json:"to" validate:"required,gt=0"`
	Message *string  `json:"message" validate:"required"`
}

type typingShape struct {
	To       *UserRef `json:"to" validate:"required,gt=0"`
	IsTyping *bool    `json:"is_typing" validate:"required"`
}

type messageSeenShape struct {
	MessageID *int64 `json:"message_id" validate:"required,gt=0"`
}

type markSeenShape struct {
	FromUserID *UserRef `json:"from_user_id" validate:"required,gt=0"`
}

// EnvelopeError lista los motivos por los que un sobre no tiene la forma esperada.
type EnvelopeError struct {
	Event   string
	Reasons []string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("invalid %s envelope: %s", e.Event, strings.Join(e.Reasons, "; "))
}

// Validate comprueba los campos requeridos por el evento. Eventos sin campos
// o desconocidos siempre son validos.
func (e Envelope) Validate() error {
	var shape any
	switch e.Event {
	case EventMessage:
		shape = messageShape{To: e.To, Message: e.Message}
	case EventTyping:
		shape = typingShape{To: e.To, IsTyping: e.IsTyping}
	case EventMessageSeen:
		shape = messageSeenShape{MessageID: e.MessageID}
	case EventMarkMessagesSeen:
		shape = markSeenShape{FromUserID: e.FromUserID}
	default:
		return nil
	}

	err := validate.Struct(shape)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &EnvelopeError{Event: e.Event, Reasons: []string{err.Error()}}
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			reasons = append(reasons, "Missing required field: "+fe.Field())
		case "gt":
			reasons = append(reasons, "Invalid "+fe.Field())
		default:
			reasons = append(reasons, fmt.Sprintf("Invalid %s (%s)", fe.Field(), fe.Tag()))
		}
	}
	return &EnvelopeError{Event: e.Event, Reasons: reasons}
}
