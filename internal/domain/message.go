package domain

import "time"

type MessageStatus string

const (
	StatusCreated   MessageStatus = "created"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Message es un mensaje directo entre dos usuarios.
// DeliveredSeq y SeenSeq ordenan transiciones que comparten el mismo instante.
type Message struct {
	ID           int64      `json:"id"`
	SenderID     int64      `json:"from"`
	RecipientID  int64      `json:"to"`
	Content      string     `json:"message"`
	CreatedAt    time.Time  `json:"timestamp"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	DeliveredSeq int64      `json:"-"`
	SeenAt       *time.Time `json:"seen_at,omitempty"`
	SeenSeq      int64      `json:"-"`
}

func (m Message) Status() MessageStatus {
	switch {
	case m.SeenAt != nil:
		return StatusSeen
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusCreated
	}
}

func (m Message) IsDelivered() bool {
	return m.DeliveredAt != nil
}

func (m Message) IsSeen() bool {
	return m.SeenAt != nil
}
