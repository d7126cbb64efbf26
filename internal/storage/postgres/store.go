// Package postgres реализует хранилища движка поверх PostgreSQL (pgx).
// Все условные переходы выполняются одиночными UPDATE с проверкой условия
// в WHERE — никаких «прочитал, потом записал».
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/barter-api/internal/models"
)

// Store реализует storage.Store поверх пула соединений pgx
type Store struct {
	pool *pgxpool.Pool
}

// NewStore создаёт хранилище поверх готового пула
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// mapError переводит ошибки драйвера в доменные
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "matches_active_pair_idx":
			return models.ErrDuplicateMatch
		case "trades_live_conversation_idx":
			return models.ErrTradeInProgress
		}
	}
	return err
}

// GetProfile возвращает анкету участника
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (models.MemberProfile, error) {
	var profile models.MemberProfile
	err := s.pool.QueryRow(ctx, `
        SELECT id, username, offered_tags, needed_tags, region, trust_score, verified, banned
        FROM users
        WHERE id = $1
    `, id).Scan(
		&profile.ID,
		&profile.Username,
		&profile.Offered,
		&profile.Needed,
		&profile.Region,
		&profile.TrustScore,
		&profile.Verified,
		&profile.Banned,
	)
	if err != nil {
		return models.MemberProfile{}, mapError(err)
	}
	return profile, nil
}

// ListCandidates возвращает пул кандидатов для подбора без забаненных
func (s *Store) ListCandidates(ctx context.Context) ([]models.MemberProfile, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, username, offered_tags, needed_tags, region, trust_score, verified, banned
        FROM users
        WHERE NOT banned
        ORDER BY id
    `)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var candidates []models.MemberProfile
	for rows.Next() {
		var profile models.MemberProfile
		if err := rows.Scan(
			&profile.ID,
			&profile.Username,
			&profile.Offered,
			&profile.Needed,
			&profile.Region,
			&profile.TrustScore,
			&profile.Verified,
			&profile.Banned,
		); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании анкеты: %w", err)
		}
		candidates = append(candidates, profile)
	}
	return candidates, rows.Err()
}

// CreateMatch создаёт матч; частичный уникальный индекс по активной паре
// превращает гонку в models.ErrDuplicateMatch
func (s *Store) CreateMatch(ctx context.Context, match models.Match) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO matches (id, member_a, member_b, score, status, interest_a, interest_b, created_at, decided_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, match.ID, match.MemberA, match.MemberB, match.Score, match.Status,
		match.InterestA, match.InterestB, match.CreatedAt, match.DecidedAt)
	return mapError(err)
}

const matchColumns = `id, member_a, member_b, score, status, interest_a, interest_b, created_at, decided_at`

func scanMatch(row pgx.Row) (models.Match, error) {
	var match models.Match
	err := row.Scan(
		&match.ID,
		&match.MemberA,
		&match.MemberB,
		&match.Score,
		&match.Status,
		&match.InterestA,
		&match.InterestB,
		&match.CreatedAt,
		&match.DecidedAt,
	)
	if err != nil {
		return models.Match{}, mapError(err)
	}
	return match, nil
}

// GetMatch возвращает матч по ID
func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (models.Match, error) {
	return scanMatch(s.pool.QueryRow(ctx, `
        SELECT `+matchColumns+` FROM matches WHERE id = $1
    `, id))
}

// FindActiveMatch ищет активный матч для неупорядоченной пары
func (s *Store) FindActiveMatch(ctx context.Context, a, b uuid.UUID) (models.Match, error) {
	first, second := models.CanonicalPair(a, b)
	return scanMatch(s.pool.QueryRow(ctx, `
        SELECT `+matchColumns+`
        FROM matches
        WHERE member_a = $1 AND member_b = $2 AND status IN ('proposed', 'mutual')
    `, first, second))
}

// ListActivePartners возвращает участников с активным матчем против memberID
func (s *Store) ListActivePartners(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT CASE WHEN member_a = $1 THEN member_b ELSE member_a END
        FROM matches
        WHERE (member_a = $1 OR member_b = $1) AND status IN ('proposed', 'mutual')
    `, memberID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var partners []uuid.UUID
	for rows.Next() {
		var partner uuid.UUID
		if err := rows.Scan(&partner); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании пары: %w", err)
		}
		partners = append(partners, partner)
	}
	return partners, rows.Err()
}

// RecordInterest атомарно отмечает интерес участника одним условным UPDATE.
// Фиксация второго интереса тем же выражением переводит матч в mutual,
// поэтому из двух одновременных вызовов ровно один увидит переход.
func (s *Store) RecordInterest(ctx context.Context, matchID, memberID uuid.UUID, now time.Time) (models.Match, bool, error) {
	match, err := scanMatch(s.pool.QueryRow(ctx, `
        UPDATE matches SET
            interest_a = interest_a OR (member_a = $2),
            interest_b = interest_b OR (member_b = $2),
            status = CASE
                WHEN (interest_a OR member_a = $2) AND (interest_b OR member_b = $2) THEN 'mutual'
                ELSE status
            END,
            decided_at = CASE
                WHEN (interest_a OR member_a = $2) AND (interest_b OR member_b = $2) THEN $3
                ELSE decided_at
            END
        WHERE id = $1
          AND status = 'proposed'
          AND ((member_a = $2 AND NOT interest_a) OR (member_b = $2 AND NOT interest_b))
        RETURNING `+matchColumns+`
    `, matchID, memberID, now))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Условие не сработало: интерес уже отмечен или статус сменился.
			// Перечитываем текущее состояние, решает вызывающий.
			current, getErr := s.GetMatch(ctx, matchID)
			if getErr != nil {
				return models.Match{}, false, getErr
			}
			return current, false, nil
		}
		return models.Match{}, false, err
	}
	return match, true, nil
}

// TransitionMatch условно переводит матч из статуса from в to
func (s *Store) TransitionMatch(ctx context.Context, id uuid.UUID, from, to models.MatchStatus, decidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE matches
        SET status = $3, decided_at = $4
        WHERE id = $1 AND status = $2
    `, id, from, to, decidedAt)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireBefore переводит протухшие proposed-матчи в expired
func (s *Store) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE matches
        SET status = 'expired'
        WHERE status = 'proposed' AND created_at < $1
    `, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

// CreateTradeRecord добавляет запись истории о завершённом обмене
func (s *Store) CreateTradeRecord(ctx context.Context, record models.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO trade_records (id, match_id, trade_id, created_at)
        VALUES ($1, $2, $3, $4)
    `, record.ID, record.MatchID, record.TradeID, record.CreatedAt)
	return mapError(err)
}

// CreateConversation создаёт разговор
func (s *Store) CreateConversation(ctx context.Context, conversation models.Conversation) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO conversations (id, match_id, member_a, member_b, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, conversation.ID, conversation.MatchID, conversation.MemberA, conversation.MemberB, conversation.CreatedAt)
	return mapError(err)
}

// GetConversation возвращает разговор по ID
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	var conversation models.Conversation
	err := s.pool.QueryRow(ctx, `
        SELECT id, match_id, member_a, member_b, created_at
        FROM conversations
        WHERE id = $1
    `, id).Scan(
		&conversation.ID,
		&conversation.MatchID,
		&conversation.MemberA,
		&conversation.MemberB,
		&conversation.CreatedAt,
	)
	if err != nil {
		return models.Conversation{}, mapError(err)
	}
	return conversation, nil
}

const tradeColumns = `id, conversation_id, initiator_id, responder_id, initiator_offering, responder_offering, status, version, created_at, updated_at`

func scanTrade(row pgx.Row) (models.TradeProposal, error) {
	var trade models.TradeProposal
	err := row.Scan(
		&trade.ID,
		&trade.ConversationID,
		&trade.InitiatorID,
		&trade.ResponderID,
		&trade.InitiatorOffering,
		&trade.ResponderOffering,
		&trade.Status,
		&trade.Version,
		&trade.CreatedAt,
		&trade.UpdatedAt,
	)
	if err != nil {
		return models.TradeProposal{}, mapError(err)
	}
	return trade, nil
}

// CreateTrade вставляет предложение вместе с событием одной транзакцией.
// Частичный уникальный индекс по незавершённым предложениям разговора
// превращает гонку в models.ErrTradeInProgress.
func (s *Store) CreateTrade(ctx context.Context, trade models.TradeProposal, event models.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO trades (id, conversation_id, initiator_id, responder_id, initiator_offering, responder_offering, status, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, trade.ID, trade.ConversationID, trade.InitiatorID, trade.ResponderID,
		trade.InitiatorOffering, trade.ResponderOffering, trade.Status, trade.Version,
		trade.CreatedAt, trade.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx))
}

// GetLiveTrade возвращает незавершённое предложение разговора
func (s *Store) GetLiveTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error) {
	return scanTrade(s.pool.QueryRow(ctx, `
        SELECT `+tradeColumns+`
        FROM trades
        WHERE conversation_id = $1 AND status NOT IN ('completed', 'cancelled')
    `, conversationID))
}

// GetLatestTrade возвращает последнее предложение разговора
func (s *Store) GetLatestTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error) {
	return scanTrade(s.pool.QueryRow(ctx, `
        SELECT `+tradeColumns+`
        FROM trades
        WHERE conversation_id = $1
        ORDER BY created_at DESC, version DESC
        LIMIT 1
    `, conversationID))
}

// UpdateTrade условно обновляет предложение и пишет событие той же транзакцией
func (s *Store) UpdateTrade(ctx context.Context, trade models.TradeProposal, expectedVersion int, event models.Event) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, mapError(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE trades
        SET initiator_offering = $3, responder_offering = $4, status = $5, version = $6, updated_at = $7
        WHERE id = $1 AND version = $2 AND status NOT IN ('completed', 'cancelled')
    `, trade.ID, expectedVersion, trade.InitiatorOffering, trade.ResponderOffering,
		trade.Status, trade.Version, trade.UpdatedAt)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, mapError(err)
	}
	return true, nil
}

// insertEvent добавляет событие в outbox внутри транзакции
func insertEvent(ctx context.Context, tx pgx.Tx, event models.Event) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO outbox_events (id, type, conversation_id, match_id, actor_id, version, ts, attempts, published_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, event.ID, event.Type, event.ConversationID, event.MatchID, event.ActorID,
		event.Version, event.Timestamp, event.Attempts, event.PublishedAt)
	return mapError(err)
}

// AppendEvent добавляет событие в outbox вне транзакции предложения
func (s *Store) AppendEvent(ctx context.Context, event models.Event) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO outbox_events (id, type, conversation_id, match_id, actor_id, version, ts, attempts, published_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, event.ID, event.Type, event.ConversationID, event.MatchID, event.ActorID,
		event.Version, event.Timestamp, event.Attempts, event.PublishedAt)
	return mapError(err)
}

// ListPendingEvents возвращает невыданные события в порядке записи
func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, type, conversation_id, match_id, actor_id, version, ts, attempts
        FROM outbox_events
        WHERE published_at IS NULL
        ORDER BY ts ASC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.ConversationID,
			&event.MatchID,
			&event.ActorID,
			&event.Version,
			&event.Timestamp,
			&event.Attempts,
		); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании события: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkEventPublished отмечает событие доставленным
func (s *Store) MarkEventPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE outbox_events SET published_at = $2 WHERE id = $1
    `, id, publishedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// BumpEventAttempts увеличивает счётчик попыток доставки
func (s *Store) BumpEventAttempts(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1
    `, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
