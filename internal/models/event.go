package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип доменного события
type EventType string

const (
	EventMatchFound     EventType = "match_found"
	EventTradeProposed  EventType = "trade_proposed"
	EventTradeCountered EventType = "trade_countered"
	EventTradeAccepted  EventType = "trade_accepted"
	EventTradeCompleted EventType = "trade_completed"
	EventTradeCancelled EventType = "trade_cancelled"
)

// Event представляет доменное событие для внешнего нотификатора.
// Доставка идёт минимум один раз; потребители дедуплицируют по паре
// (conversation_id|match_id, version).
type Event struct {
	ID   uuid.UUID `json:"id"`
	Type EventType `json:"type"`
	// У событий переговоров заполнен ConversationID, у match_found — MatchID
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	MatchID        *uuid.UUID `json:"match_id,omitempty"`
	ActorID        uuid.UUID  `json:"actor_id"`
	Version        int       `json:"version"`
	Timestamp      time.Time `json:"timestamp"`

	// Служебные поля доставки, наружу не сериализуются
	Attempts    int        `json:"-"`
	PublishedAt *time.Time `json:"-"`
}
