package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/registry"
	"github.com/rajivgeraev/barter-api/internal/storage/memory"
)

type fixture struct {
	store        *memory.Store
	coordinator  *Coordinator
	conversation models.Conversation
	initiator    uuid.UUID
	responder    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	reg := registry.New(store)

	memberA, memberB := uuid.New(), uuid.New()
	conversation := models.Conversation{
		ID:        uuid.New(),
		MatchID:   uuid.New(),
		MemberA:   memberA,
		MemberB:   memberB,
		CreatedAt: time.Now(),
	}
	if err := store.CreateConversation(context.Background(), conversation); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	return &fixture{
		store:        store,
		coordinator:  NewCoordinator(store, reg),
		conversation: conversation,
		initiator:    memberA,
		responder:    memberB,
	}
}

func (f *fixture) submit(t *testing.T, actor uuid.UUID, cmd Command, offering *string, version int) models.TradeProposal {
	t.Helper()
	trade, err := f.coordinator.Submit(context.Background(), f.conversation.ID, actor, cmd, offering, version)
	if err != nil {
		t.Fatalf("Submit(%s): %v", cmd, err)
	}
	return trade
}

func (f *fixture) pendingEvents(t *testing.T) []models.Event {
	t.Helper()
	events, err := f.store.ListPendingEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListPendingEvents: %v", err)
	}
	return events
}

func TestSubmitProposeCreatesTrade(t *testing.T) {
	f := newFixture(t)

	trade := f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)
	if trade.Status != models.TradeProposed || trade.Version != 1 {
		t.Fatalf("ожидали proposed v1, получили %s v%d", trade.Status, trade.Version)
	}
	if trade.ResponderID != f.responder {
		t.Errorf("респондентом должна стать вторая сторона разговора")
	}

	events := f.pendingEvents(t)
	if len(events) != 1 || events[0].Type != models.EventTradeProposed || events[0].Version != 1 {
		t.Fatalf("ожидали одно событие trade_proposed v1, получили %+v", events)
	}
}

func TestSubmitSecondProposeFails(t *testing.T) {
	f := newFixture(t)

	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)

	// Пока есть живое предложение, новое не создаётся — даже от другой стороны
	_, err := f.coordinator.Submit(context.Background(), f.conversation.ID, f.responder, CommandPropose, strPtr("дизайн"), 0)
	if !errors.Is(err, models.ErrTradeInProgress) {
		t.Fatalf("ожидали ErrTradeInProgress, получили %v", err)
	}

	// То же самое из статуса countered
	trade := f.submit(t, f.responder, CommandCounter, strPtr("дизайн"), 1)
	if trade.Status != models.TradeCountered {
		t.Fatalf("counter: %s", trade.Status)
	}
	_, err = f.coordinator.Submit(context.Background(), f.conversation.ID, f.responder, CommandPropose, strPtr("ещё обмен"), 0)
	if !errors.Is(err, models.ErrTradeInProgress) {
		t.Fatalf("ожидали ErrTradeInProgress из countered, получили %v", err)
	}
}

func TestSubmitProposeIdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first := f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)
	replay := f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)

	if replay.ID != first.ID || replay.Version != first.Version {
		t.Fatalf("повтор propose должен вернуть то же предложение: %+v vs %+v", first, replay)
	}
	if events := f.pendingEvents(t); len(events) != 1 {
		t.Fatalf("повтор не должен порождать второе событие, получили %d", len(events))
	}
}

func TestSubmitFullNegotiation(t *testing.T) {
	f := newFixture(t)

	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)
	f.submit(t, f.responder, CommandCounter, strPtr("дизайн логотипа"), 1)
	f.submit(t, f.initiator, CommandAccept, nil, 2)
	trade := f.submit(t, f.initiator, CommandComplete, nil, 3)

	if trade.Status != models.TradeCompleted || trade.Version != 4 {
		t.Fatalf("ожидали completed v4, получили %s v%d", trade.Status, trade.Version)
	}

	events := f.pendingEvents(t)
	if len(events) != 4 {
		t.Fatalf("ожидали 4 события, получили %d", len(events))
	}
	wantTypes := []models.EventType{
		models.EventTradeProposed,
		models.EventTradeCountered,
		models.EventTradeAccepted,
		models.EventTradeCompleted,
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("событие %d: ожидали %s, получили %s", i, want, events[i].Type)
		}
		if events[i].Version != i+1 {
			t.Errorf("событие %d: версия %d", i, events[i].Version)
		}
	}

	// Завершённый обмен оставляет запись истории по матчу
	records := f.store.TradeRecords()
	if len(records) != 1 || records[0].MatchID != f.conversation.MatchID || records[0].TradeID != trade.ID {
		t.Fatalf("ожидали запись истории по матчу, получили %+v", records)
	}
}

func TestSubmitReleasesLockAfterFinalization(t *testing.T) {
	f := newFixture(t)

	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)

	f.coordinator.locksMutex.Lock()
	held := len(f.coordinator.locks)
	f.coordinator.locksMutex.Unlock()
	if held != 1 {
		t.Fatalf("пока предложение живо, мьютекс разговора должен храниться: %d", held)
	}

	trade := f.submit(t, f.responder, CommandCancel, nil, 1)
	if trade.Status != models.TradeCancelled {
		t.Fatalf("cancel: %s", trade.Status)
	}

	// Терминальный статус освобождает мьютекс — карта не растёт с числом
	// завершённых разговоров
	f.coordinator.locksMutex.Lock()
	held = len(f.coordinator.locks)
	f.coordinator.locksMutex.Unlock()
	if held != 0 {
		t.Fatalf("после терминального статуса мьютекс должен удаляться: %d", held)
	}
}

func TestSubmitStaleVersionConflict(t *testing.T) {
	f := newFixture(t)

	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)
	f.submit(t, f.responder, CommandCounter, strPtr("дизайн"), 1)

	// Клиент повторяет counter с устаревшей версией и другими условиями
	_, err := f.coordinator.Submit(context.Background(), f.conversation.ID, f.responder, CommandCounter, strPtr("другое"), 1)
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("ожидали ErrVersionConflict, получили %v", err)
	}
}

func TestSubmitCompletionRequiresAcceptedState(t *testing.T) {
	f := newFixture(t)

	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)

	_, err := f.coordinator.Submit(context.Background(), f.conversation.ID, f.initiator, CommandComplete, nil, 1)
	if !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("proposed -> completed должен падать с ErrInvalidState, получили %v", err)
	}
}

func TestSubmitGuards(t *testing.T) {
	f := newFixture(t)

	if _, err := f.coordinator.Submit(context.Background(), uuid.New(), f.initiator, CommandPropose, strPtr("x"), 0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("неизвестный разговор: ожидали ErrNotFound, получили %v", err)
	}
	if _, err := f.coordinator.Submit(context.Background(), f.conversation.ID, uuid.New(), CommandPropose, strPtr("x"), 0); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("посторонний участник: ожидали ErrForbidden, получили %v", err)
	}
	if _, err := f.coordinator.Submit(context.Background(), f.conversation.ID, f.initiator, CommandCancel, nil, 0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("команда без предложения: ожидали ErrNotFound, получили %v", err)
	}
}

func TestSubmitConcurrentCommandsSerialized(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.initiator, CommandPropose, strPtr("уроки гитары"), 0)

	// Обе стороны одновременно шлют команду против v1: применяется ровно
	// одна, вторая получает конфликт версии или запрет перехода
	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.coordinator.Submit(context.Background(), f.conversation.ID, f.responder, CommandCounter, strPtr("дизайн"), 1)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.coordinator.Submit(context.Background(), f.conversation.ID, f.responder, CommandAccept, nil, 1)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, models.ErrVersionConflict) && !errors.Is(err, models.ErrInvalidState) {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("из двух конкурирующих команд должна пройти ровно одна, прошло %d", succeeded)
	}

	trade, err := f.store.GetLatestTrade(context.Background(), f.conversation.ID)
	if err != nil {
		t.Fatalf("GetLatestTrade: %v", err)
	}
	if trade.Version != 2 {
		t.Fatalf("после одной применённой команды версия должна быть 2, получили %d", trade.Version)
	}
	if events := f.pendingEvents(t); len(events) != 2 {
		t.Fatalf("ожидали события propose + одна команда, получили %d", len(events))
	}
}

func TestSubmitParallelConversationsIndependent(t *testing.T) {
	f := newFixture(t)
	other := newFixture(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.submit(t, f.initiator, CommandPropose, strPtr("гитара"), 0)
	}()
	go func() {
		defer wg.Done()
		other.submit(t, other.initiator, CommandPropose, strPtr("дизайн"), 0)
	}()
	wg.Wait()

	if _, err := f.store.GetLiveTrade(context.Background(), f.conversation.ID); err != nil {
		t.Errorf("первый разговор: %v", err)
	}
	if _, err := other.store.GetLiveTrade(context.Background(), other.conversation.ID); err != nil {
		t.Errorf("второй разговор: %v", err)
	}
}

func TestSubmitCancelledContextAfterWriteStillReports(t *testing.T) {
	f := newFixture(t)

	// Контекст с дедлайном в будущем: запись успевает пройти, а вот
	// повторная проверка после записи не должна превращать успех в ошибку
	ctx, cancel := context.WithCancel(context.Background())
	trade, err := f.coordinator.Submit(ctx, f.conversation.ID, f.initiator, CommandPropose, strPtr("гитара"), 0)
	cancel()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if trade.Version != 1 {
		t.Fatalf("ожидали v1, получили v%d", trade.Version)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.submit(t, f.initiator, CommandPropose, strPtr("гитара"), 0)

	snapshot, err := f.coordinator.Snapshot(context.Background(), f.conversation.ID, f.responder)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Status != models.TradeProposed {
		t.Errorf("ожидали proposed, получили %s", snapshot.Status)
	}

	if _, err := f.coordinator.Snapshot(context.Background(), f.conversation.ID, uuid.New()); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("посторонний участник: ожидали ErrForbidden, получили %v", err)
	}
}
