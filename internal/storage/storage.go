// Package storage определяет контракты хранилищ движка обменов.
// Реализации: storage/postgres (pgx) для продакшена, storage/memory для тестов.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
)

// ProfileStore читает анкеты участников. Хранилище профилей принадлежит
// внешнему сервису, движок работает с ним строго в режиме чтения.
type ProfileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (models.MemberProfile, error)
	// ListCandidates возвращает пул кандидатов для подбора (без забаненных)
	ListCandidates(ctx context.Context) ([]models.MemberProfile, error)
}

// MatchStore хранит матчи. Записи никогда не удаляются, только меняют статус.
type MatchStore interface {
	// CreateMatch создаёт матч; models.ErrDuplicateMatch, если для пары
	// уже существует активный (proposed/mutual) матч
	CreateMatch(ctx context.Context, match models.Match) error

	GetMatch(ctx context.Context, id uuid.UUID) (models.Match, error)

	// FindActiveMatch ищет активный матч для неупорядоченной пары;
	// models.ErrNotFound, если такого нет
	FindActiveMatch(ctx context.Context, a, b uuid.UUID) (models.Match, error)

	// ListActivePartners возвращает участников, с которыми у memberID
	// есть активный матч (для исключения из выдачи подбора)
	ListActivePartners(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error)

	// RecordInterest атомарно отмечает интерес участника одним условным
	// обновлением. updated=false означает, что интерес уже был отмечен
	// или статус больше не proposed — решение принимает вызывающий по
	// перечитанному состоянию. Переход в mutual происходит в том же
	// обновлении, что фиксирует второй интерес: из двух одновременных
	// вызовов ровно один увидит match.Status == mutual при updated=true.
	RecordInterest(ctx context.Context, matchID, memberID uuid.UUID, now time.Time) (match models.Match, updated bool, err error)

	// TransitionMatch условно переводит матч из статуса from в to.
	// applied=false — матч уже не в статусе from.
	TransitionMatch(ctx context.Context, id uuid.UUID, from, to models.MatchStatus, decidedAt time.Time) (applied bool, err error)

	// ExpireBefore переводит proposed-матчи старше cutoff в expired
	// и возвращает число затронутых записей
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)

	// CreateTradeRecord добавляет запись истории о завершённом обмене
	CreateTradeRecord(ctx context.Context, record models.TradeRecord) error
}

// ConversationStore хранит привязку разговоров к матчам и сторонам
type ConversationStore interface {
	CreateConversation(ctx context.Context, conversation models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error)
}

// TradeStore хранит предложения обмена как append-only историю:
// завершённые записи не перезаписываются, «текущее» предложение — это
// последняя незавершённая запись разговора.
type TradeStore interface {
	// CreateTrade вставляет новое предложение вместе с событием в outbox
	// одной транзакцией; models.ErrTradeInProgress, если в разговоре уже
	// есть незавершённое предложение
	CreateTrade(ctx context.Context, trade models.TradeProposal, event models.Event) error

	// GetLiveTrade возвращает незавершённое предложение разговора;
	// models.ErrNotFound, если его нет
	GetLiveTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error)

	// GetLatestTrade возвращает последнее предложение разговора вне
	// зависимости от статуса (для снапшотов и проверки идемпотентных повторов)
	GetLatestTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error)

	// UpdateTrade условно обновляет предложение: применяется только если
	// хранимая версия равна expectedVersion. Событие пишется в outbox в той
	// же транзакции. applied=false — версия уже ушла вперёд.
	UpdateTrade(ctx context.Context, trade models.TradeProposal, expectedVersion int, event models.Event) (applied bool, err error)
}

// OutboxStore хранит невыданные доменные события. Доставка минимум один
// раз: событие остаётся pending, пока нотификатор не подтвердит публикацию.
type OutboxStore interface {
	AppendEvent(ctx context.Context, event models.Event) error
	ListPendingEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkEventPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	BumpEventAttempts(ctx context.Context, id uuid.UUID) error
}

// Store объединяет все контракты; обе реализации удовлетворяют ему целиком
type Store interface {
	ProfileStore
	MatchStore
	ConversationStore
	TradeStore
	OutboxStore
}
