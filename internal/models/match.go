package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus — статус пары кандидатов
type MatchStatus string

const (
	MatchProposed  MatchStatus = "proposed"
	MatchMutual    MatchStatus = "mutual"
	MatchDismissed MatchStatus = "dismissed"
	MatchExpired   MatchStatus = "expired"
)

// IsActive сообщает, блокирует ли этот матч создание нового для той же пары
func (s MatchStatus) IsActive() bool {
	return s == MatchProposed || s == MatchMutual
}

// Match представляет подобранную пару участников до начала переговоров.
// Пара хранится в каноническом порядке (MemberA < MemberB по строке UUID),
// чтобы для неупорядоченной пары существовала ровно одна запись.
type Match struct {
	ID        uuid.UUID   `json:"id"`
	MemberA   uuid.UUID   `json:"member_a"`
	MemberB   uuid.UUID   `json:"member_b"`
	Score     int         `json:"score"`
	Status    MatchStatus `json:"status"`
	InterestA bool        `json:"interest_a"`
	InterestB bool        `json:"interest_b"`
	CreatedAt time.Time   `json:"created_at"`
	DecidedAt *time.Time  `json:"decided_at,omitempty"`
}

// CanonicalPair возвращает пару в каноническом порядке
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// HasMember проверяет, входит ли участник в пару
func (m Match) HasMember(id uuid.UUID) bool {
	return m.MemberA == id || m.MemberB == id
}

// Conversation представляет чат-контейнер, связывающий взаимный матч с переговорами.
// Сам чат (сообщения, доставка) живёт во внешнем сервисе, здесь нужна только привязка сторон.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	MatchID   uuid.UUID `json:"match_id"`
	MemberA   uuid.UUID `json:"member_a"`
	MemberB   uuid.UUID `json:"member_b"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember проверяет, является ли участник стороной разговора
func (c Conversation) HasMember(id uuid.UUID) bool {
	return c.MemberA == id || c.MemberB == id
}

// TradeRecord — запись об успешно завершённом обмене для истории.
// Матч остаётся в статусе mutual, запись только ссылается на завершённое предложение.
type TradeRecord struct {
	ID        uuid.UUID `json:"id"`
	MatchID   uuid.UUID `json:"match_id"`
	TradeID   uuid.UUID `json:"trade_id"`
	CreatedAt time.Time `json:"created_at"`
}
