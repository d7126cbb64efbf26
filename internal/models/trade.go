package models

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus — статус предложения обмена
type TradeStatus string

const (
	TradeProposed            TradeStatus = "proposed"
	TradeCountered           TradeStatus = "countered"
	TradeAcceptedByResponder TradeStatus = "accepted_by_responder"
	TradeCompleted           TradeStatus = "completed"
	TradeCancelled           TradeStatus = "cancelled"
)

// IsTerminal сообщает, завершено ли предложение окончательно
func (s TradeStatus) IsTerminal() bool {
	return s == TradeCompleted || s == TradeCancelled
}

// TradeProposal представляет предложение обмена в рамках одного разговора.
// На разговор допускается не более одного незавершённого предложения;
// завершённые записи неизменяемы и хранятся для истории.
type TradeProposal struct {
	ID                uuid.UUID   `json:"id"`
	ConversationID    uuid.UUID   `json:"conversation_id"`
	InitiatorID       uuid.UUID   `json:"initiator_id"`
	ResponderID       uuid.UUID   `json:"responder_id"`
	InitiatorOffering string      `json:"initiator_offering"`
	ResponderOffering *string     `json:"responder_offering,omitempty"`
	Status            TradeStatus `json:"status"`
	Version           int         `json:"version"` // монотонный счётчик для оптимистичной блокировки
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// HasParty проверяет, является ли участник стороной предложения
func (t TradeProposal) HasParty(id uuid.UUID) bool {
	return t.InitiatorID == id || t.ResponderID == id
}

// OtherParty возвращает вторую сторону предложения
func (t TradeProposal) OtherParty(id uuid.UUID) uuid.UUID {
	if t.InitiatorID == id {
		return t.ResponderID
	}
	return t.InitiatorID
}
