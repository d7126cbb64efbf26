package negotiation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/registry"
	"github.com/rajivgeraev/barter-api/internal/storage"
)

// maxSubmitAttempts — лимит повторов при конфликте версий в хранилище.
// Внутри процесса команды по разговору и так идут по одному через мьютекс,
// повторы нужны на случай второй реплики, пишущей в ту же базу.
const maxSubmitAttempts = 3

type coordinatorStore interface {
	storage.ConversationStore
	storage.TradeStore
}

// Coordinator принимает команды переговоров от HTTP-слоя. Команды одного
// разговора выполняются строго по одной, разные разговоры — параллельно.
type Coordinator struct {
	store    coordinatorStore
	registry *registry.Registry
	clock    func() time.Time

	locksMutex sync.Mutex
	locks      map[uuid.UUID]*sync.Mutex // conversationID -> мьютекс разговора
}

// NewCoordinator создаёт координатор переговоров
func NewCoordinator(store coordinatorStore, reg *registry.Registry) *Coordinator {
	return &Coordinator{
		store:    store,
		registry: reg,
		clock:    time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// WithClock подменяет источник времени (для тестов)
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// conversationLock возвращает мьютекс разговора, создавая его при первом обращении
func (c *Coordinator) conversationLock(conversationID uuid.UUID) *sync.Mutex {
	c.locksMutex.Lock()
	defer c.locksMutex.Unlock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[conversationID] = lock
	}
	return lock
}

// Snapshot возвращает последнее предложение разговора для его участника
func (c *Coordinator) Snapshot(ctx context.Context, conversationID, actorID uuid.UUID) (models.TradeProposal, error) {
	conversation, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return models.TradeProposal{}, err
	}
	if !conversation.HasMember(actorID) {
		return models.TradeProposal{}, models.ErrForbidden
	}
	return c.store.GetLatestTrade(ctx, conversationID)
}

// Submit выполняет команду переговоров и возвращает снапшот предложения.
// Успешный переход пишет ровно одно событие в outbox в той же транзакции,
// что и само изменение; доставка события идёт отдельно и минимум один раз.
//
// Отмена контекста уважается до момента записи в хранилище. Если запись
// уже прошла, результат возвращается как есть: состоявшийся переход нельзя
// трактовать как отменённый из-за оборванного запроса.
func (c *Coordinator) Submit(ctx context.Context, conversationID, actorID uuid.UUID, cmd Command, offering *string, expectedVersion int) (models.TradeProposal, error) {
	conversation, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return models.TradeProposal{}, err
	}
	if !conversation.HasMember(actorID) {
		return models.TradeProposal{}, models.ErrForbidden
	}

	// Мьютекс держится только на время read-modify-write этого разговора
	lock := c.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		trade, wrote, err := c.submitOnce(ctx, conversation, actorID, cmd, offering, expectedVersion)
		if err == nil {
			// Запись истории только при реально записанном переходе:
			// идемпотентный повтор complete не плодит дублей
			if wrote && trade.Status == models.TradeCompleted {
				c.markTraded(conversation, trade)
			}
			if trade.Status.IsTerminal() {
				c.forgetLock(conversationID)
			}
			return trade, nil
		}
		// Повторяем только проигрыш гонки в хранилище; доменные ошибки
		// отдаём сразу
		if !errors.Is(err, errStoreConflict) {
			return models.TradeProposal{}, err
		}
	}
	return models.TradeProposal{}, models.ErrBusy
}

// forgetLock удаляет мьютекс разговора после терминального статуса, чтобы
// карта не росла бесконечно. Опоздавший конкурент может создать мьютекс
// заново; это безопасно: записи по завершённому предложению всё равно
// отсекает условное обновление в хранилище.
func (c *Coordinator) forgetLock(conversationID uuid.UUID) {
	c.locksMutex.Lock()
	defer c.locksMutex.Unlock()
	delete(c.locks, conversationID)
}

// errStoreConflict — условное обновление не применилось, состояние перечитывается
var errStoreConflict = errors.New("store conflict")

func (c *Coordinator) submitOnce(ctx context.Context, conversation models.Conversation, actorID uuid.UUID, cmd Command, offering *string, expectedVersion int) (models.TradeProposal, bool, error) {
	now := c.clock()

	live, err := c.store.GetLiveTrade(ctx, conversation.ID)
	switch {
	case err == nil:
		// Живое предложение есть
	case errors.Is(err, models.ErrNotFound):
		return c.submitWithoutLive(ctx, conversation, actorID, cmd, offering, expectedVersion, now)
	default:
		return models.TradeProposal{}, false, err
	}

	if cmd == CommandPropose {
		// Повтор успешного propose: то же предложение от того же инициатора
		if live.InitiatorID == actorID && live.Status == models.TradeProposed &&
			offering != nil && live.InitiatorOffering == *offering {
			return live, false, nil
		}
		return models.TradeProposal{}, false, models.ErrTradeInProgress
	}

	next, eventType, err := Transition(live, actorID, cmd, offering, expectedVersion, now)
	if err != nil {
		return models.TradeProposal{}, false, err
	}
	if eventType == "" {
		// Идемпотентный повтор: состояние уже такое, писать нечего
		return next, false, nil
	}

	event := models.Event{
		ID:             uuid.New(),
		Type:           eventType,
		ConversationID: &conversation.ID,
		ActorID:        actorID,
		Version:        next.Version,
		Timestamp:      now,
	}
	applied, err := c.store.UpdateTrade(ctx, next, live.Version, event)
	if err != nil {
		return models.TradeProposal{}, false, err
	}
	if !applied {
		return models.TradeProposal{}, false, errStoreConflict
	}
	return next, true, nil
}

// submitWithoutLive обрабатывает команды, когда незавершённого предложения нет
func (c *Coordinator) submitWithoutLive(ctx context.Context, conversation models.Conversation, actorID uuid.UUID, cmd Command, offering *string, expectedVersion int, now time.Time) (models.TradeProposal, bool, error) {
	if cmd == CommandPropose {
		if offering == nil || *offering == "" {
			return models.TradeProposal{}, false, models.ErrInvalidState
		}
		trade := models.TradeProposal{
			ID:                uuid.New(),
			ConversationID:    conversation.ID,
			InitiatorID:       actorID,
			ResponderID:       conversation.MemberA,
			InitiatorOffering: *offering,
			Status:            models.TradeProposed,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if actorID == conversation.MemberA {
			trade.ResponderID = conversation.MemberB
		}
		event := models.Event{
			ID:             uuid.New(),
			Type:           models.EventTradeProposed,
			ConversationID: &conversation.ID,
			ActorID:        actorID,
			Version:        trade.Version,
			Timestamp:      now,
		}
		if err := c.store.CreateTrade(ctx, trade, event); err != nil {
			if errors.Is(err, models.ErrTradeInProgress) {
				// Кто-то успел создать предложение первым: перечитываем,
				// вдруг это наш же повтор
				return models.TradeProposal{}, false, errStoreConflict
			}
			return models.TradeProposal{}, false, err
		}
		return trade, true, nil
	}

	// Команда по завершённому предложению: точный повтор финального
	// перехода идемпотичен, всё остальное — AlreadyFinalized
	latest, err := c.store.GetLatestTrade(ctx, conversation.ID)
	if err != nil {
		return models.TradeProposal{}, false, err
	}
	result, eventType, err := Transition(latest, actorID, cmd, offering, expectedVersion, now)
	if err != nil {
		return models.TradeProposal{}, false, err
	}
	if eventType != "" {
		// Transition согласился писать, но живого предложения нет —
		// значит параллельно его кто-то финализировал
		return models.TradeProposal{}, false, errStoreConflict
	}
	return result, false, nil
}

// markTraded добавляет запись истории после завершённого обмена.
// Сбой не отменяет сам обмен: переход уже записан, запись истории догонит.
func (c *Coordinator) markTraded(conversation models.Conversation, trade models.TradeProposal) {
	if c.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.registry.MarkTraded(ctx, conversation.MatchID, trade.ID); err != nil {
		log.Printf("Ошибка записи истории обмена для матча %s: %v", conversation.MatchID, err)
	}
}
