// Package registry реализует реестр матчей: создание пары, выражение
// интереса, отклонение и протухание. Реестр следит за инвариантом
// «не больше одного активного матча на неупорядоченную пару».
package registry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/storage"
)

type registryStore interface {
	storage.MatchStore
	storage.OutboxStore
}

// Registry управляет жизненным циклом матчей
type Registry struct {
	store registryStore
	clock func() time.Time
}

// New создаёт реестр матчей
func New(store registryStore) *Registry {
	return &Registry{
		store: store,
		clock: time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Propose создаёт матч для пары участников в статусе proposed.
// Возвращает models.ErrDuplicateMatch, если активный матч уже есть.
func (r *Registry) Propose(ctx context.Context, a, b uuid.UUID, score int) (models.Match, error) {
	if a == b {
		return models.Match{}, models.ErrInvalidState
	}
	first, second := models.CanonicalPair(a, b)
	match := models.Match{
		ID:        uuid.New(),
		MemberA:   first,
		MemberB:   second,
		Score:     score,
		Status:    models.MatchProposed,
		CreatedAt: r.clock(),
	}
	if err := r.store.CreateMatch(ctx, match); err != nil {
		return models.Match{}, err
	}
	return match, nil
}

// ExpressInterest отмечает интерес участника к матчу. Повторный вызов от
// того же участника — идемпотентный no-op с текущим состоянием. Когда
// интерес выразили обе стороны, матч атомарно переходит в mutual, и ровно
// один из двух одновременных вызовов получает becameMutual=true.
func (r *Registry) ExpressInterest(ctx context.Context, matchID, memberID uuid.UUID) (models.Match, bool, error) {
	match, err := r.store.GetMatch(ctx, matchID)
	if err != nil {
		return models.Match{}, false, err
	}
	if !match.HasMember(memberID) {
		return models.Match{}, false, models.ErrForbidden
	}
	if !match.Status.IsActive() {
		return models.Match{}, false, models.ErrInvalidState
	}

	// Интерес и возможный переход в mutual фиксируются одним условным
	// обновлением: гонка двух одновременных вызовов решается в хранилище,
	// а не чтением с последующей записью.
	match, updated, err := r.store.RecordInterest(ctx, matchID, memberID, r.clock())
	if err != nil {
		return models.Match{}, false, err
	}
	if !updated {
		if !match.Status.IsActive() {
			return models.Match{}, false, models.ErrInvalidState
		}
		// Интерес уже был отмечен раньше — возвращаем текущее состояние
		return match, false, nil
	}

	becameMutual := match.Status == models.MatchMutual
	if becameMutual {
		event := models.Event{
			ID:        uuid.New(),
			Type:      models.EventMatchFound,
			MatchID:   &match.ID,
			ActorID:   memberID,
			Version:   1,
			Timestamp: r.clock(),
		}
		// Потеря события не откатывает переход: нотификатор дотянет его
		// из outbox, а здесь достаточно залогировать сбой записи
		if err := r.store.AppendEvent(ctx, event); err != nil {
			log.Printf("Ошибка записи события match_found для матча %s: %v", match.ID, err)
		}
	}
	return match, becameMutual, nil
}

// Dismiss отклоняет матч. Взаимный матч отклонить нельзя — он завершается
// только через переговоры.
func (r *Registry) Dismiss(ctx context.Context, matchID, memberID uuid.UUID) (models.Match, error) {
	match, err := r.store.GetMatch(ctx, matchID)
	if err != nil {
		return models.Match{}, err
	}
	if !match.HasMember(memberID) {
		return models.Match{}, models.ErrForbidden
	}
	if match.Status != models.MatchProposed {
		return models.Match{}, models.ErrInvalidState
	}

	applied, err := r.store.TransitionMatch(ctx, matchID, models.MatchProposed, models.MatchDismissed, r.clock())
	if err != nil {
		return models.Match{}, err
	}
	if !applied {
		// Статус успел измениться между чтением и обновлением
		return models.Match{}, models.ErrInvalidState
	}
	return r.store.GetMatch(ctx, matchID)
}

// SweepExpired переводит proposed-матчи старше ttl в expired.
// Лучшее из возможного: запускается фоновым тикером, точность не критична.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	return r.store.ExpireBefore(ctx, now.Add(-ttl))
}

// MarkTraded добавляет запись истории о завершённом обмене.
// Матч остаётся в статусе mutual, запись только ссылается на предложение.
func (r *Registry) MarkTraded(ctx context.Context, matchID, tradeID uuid.UUID) error {
	return r.store.CreateTradeRecord(ctx, models.TradeRecord{
		ID:        uuid.New(),
		MatchID:   matchID,
		TradeID:   tradeID,
		CreatedAt: r.clock(),
	})
}

// ActivePartners возвращает участников с активным матчем против memberID
func (r *Registry) ActivePartners(ctx context.Context, memberID uuid.UUID) (map[uuid.UUID]bool, error) {
	ids, err := r.store.ListActivePartners(ctx, memberID)
	if err != nil {
		return nil, err
	}
	partners := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		partners[id] = true
	}
	return partners, nil
}
