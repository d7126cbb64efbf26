package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
)

func newMatch(a, b uuid.UUID) models.Match {
	first, second := models.CanonicalPair(a, b)
	return models.Match{
		ID:        uuid.New(),
		MemberA:   first,
		MemberB:   second,
		Score:     70,
		Status:    models.MatchProposed,
		CreatedAt: time.Now(),
	}
}

func TestRecordInterestConditionalUpdate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	match := newMatch(a, b)
	if err := store.CreateMatch(ctx, match); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	// Первый интерес применяется
	updated, applied, err := store.RecordInterest(ctx, match.ID, a, time.Now())
	if err != nil || !applied {
		t.Fatalf("первый интерес: applied=%v err=%v", applied, err)
	}
	if updated.Status != models.MatchProposed {
		t.Errorf("один интерес не делает матч взаимным")
	}

	// Повтор того же интереса — условие не выполняется
	_, applied, err = store.RecordInterest(ctx, match.ID, a, time.Now())
	if err != nil || applied {
		t.Fatalf("повтор интереса: applied=%v err=%v", applied, err)
	}

	// Второй интерес переводит в mutual тем же обновлением
	updated, applied, err = store.RecordInterest(ctx, match.ID, b, time.Now())
	if err != nil || !applied {
		t.Fatalf("второй интерес: applied=%v err=%v", applied, err)
	}
	if updated.Status != models.MatchMutual {
		t.Fatalf("оба интереса должны дать mutual, получили %s", updated.Status)
	}

	// После mutual условие больше не срабатывает
	_, applied, err = store.RecordInterest(ctx, match.ID, a, time.Now())
	if err != nil || applied {
		t.Fatalf("интерес после mutual: applied=%v err=%v", applied, err)
	}
}

func TestCreateMatchDuplicate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	if err := store.CreateMatch(ctx, newMatch(a, b)); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := store.CreateMatch(ctx, newMatch(a, b)); !errors.Is(err, models.ErrDuplicateMatch) {
		t.Fatalf("ожидали ErrDuplicateMatch, получили %v", err)
	}
}

func newTrade(conversationID uuid.UUID, version int) models.TradeProposal {
	return models.TradeProposal{
		ID:                uuid.New(),
		ConversationID:    conversationID,
		InitiatorID:       uuid.New(),
		ResponderID:       uuid.New(),
		InitiatorOffering: "гитара",
		Status:            models.TradeProposed,
		Version:           version,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}

func newEvent(conversationID uuid.UUID, version int) models.Event {
	return models.Event{
		ID:             uuid.New(),
		Type:           models.EventTradeProposed,
		ConversationID: &conversationID,
		ActorID:        uuid.New(),
		Version:        version,
		Timestamp:      time.Now(),
	}
}

func TestCreateTradeLiveUniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	conversationID := uuid.New()

	if err := store.CreateTrade(ctx, newTrade(conversationID, 1), newEvent(conversationID, 1)); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	if err := store.CreateTrade(ctx, newTrade(conversationID, 1), newEvent(conversationID, 1)); !errors.Is(err, models.ErrTradeInProgress) {
		t.Fatalf("ожидали ErrTradeInProgress, получили %v", err)
	}
}

func TestUpdateTradeVersionCAS(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	conversationID := uuid.New()

	trade := newTrade(conversationID, 1)
	if err := store.CreateTrade(ctx, trade, newEvent(conversationID, 1)); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	next := trade
	next.Status = models.TradeCancelled
	next.Version = 2

	// Неверная ожидаемая версия — обновление не применяется
	applied, err := store.UpdateTrade(ctx, next, 5, newEvent(conversationID, 2))
	if err != nil || applied {
		t.Fatalf("устаревшая версия: applied=%v err=%v", applied, err)
	}

	applied, err = store.UpdateTrade(ctx, next, 1, newEvent(conversationID, 2))
	if err != nil || !applied {
		t.Fatalf("верная версия: applied=%v err=%v", applied, err)
	}

	// Терминальная запись больше не обновляется даже с верной версией
	again := next
	again.Version = 3
	applied, err = store.UpdateTrade(ctx, again, 2, newEvent(conversationID, 3))
	if err != nil || applied {
		t.Fatalf("обновление терминальной записи: applied=%v err=%v", applied, err)
	}

	// После отмены живого предложения нет, но история осталась
	if _, err := store.GetLiveTrade(ctx, conversationID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("живого предложения быть не должно, получили %v", err)
	}
	latest, err := store.GetLatestTrade(ctx, conversationID)
	if err != nil || latest.Status != models.TradeCancelled {
		t.Errorf("история должна сохраниться: %v %s", err, latest.Status)
	}
}

func TestExpiredContextBecomesTimeout(t *testing.T) {
	store := NewStore()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	if _, err := store.GetMatch(ctx, uuid.New()); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("истёкший дедлайн должен давать ErrTimeout, получили %v", err)
	}
	if err := store.AppendEvent(ctx, models.Event{ID: uuid.New()}); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("истёкший дедлайн должен давать ErrTimeout, получили %v", err)
	}
}
