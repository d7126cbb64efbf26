// Package outbox доставляет доменные события внешнему нотификатору.
// События пишутся в хранилище той же транзакцией, что и переходы состояний,
// а сюда попадают уже записанными: диспетчер гарантирует доставку минимум
// один раз, потребители дедуплицируют по (conversation_id|match_id, version).
package outbox

import (
	"context"
	"log"
	"time"

	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/storage"
)

// Notifier публикует событие внешнему потребителю
type Notifier interface {
	Publish(ctx context.Context, event models.Event) error
}

// Dispatcher — фоновый цикл доставки событий из outbox
type Dispatcher struct {
	store    storage.OutboxStore
	notifier Notifier
	interval time.Duration
	batch    int
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewDispatcher создаёт диспетчер доставки событий
func NewDispatcher(store storage.OutboxStore, notifier Notifier) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		interval: time.Second,
		batch:    50,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает цикл доставки в отдельной горутине
func (d *Dispatcher) Start() {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.Flush(d.ctx)
			}
		}
	}()
}

// Stop останавливает цикл доставки
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Flush пытается доставить все невыданные события. Сбой публикации
// оставляет событие в outbox до следующего прохода — доставка минимум
// один раз, а не максимум.
func (d *Dispatcher) Flush(ctx context.Context) {
	events, err := d.store.ListPendingEvents(ctx, d.batch)
	if err != nil {
		log.Printf("Ошибка чтения outbox: %v", err)
		return
	}

	for _, event := range events {
		if err := d.notifier.Publish(ctx, event); err != nil {
			log.Printf("Ошибка публикации события %s (%s, попытка %d): %v",
				event.ID, event.Type, event.Attempts+1, err)
			if err := d.store.BumpEventAttempts(ctx, event.ID); err != nil {
				log.Printf("Ошибка обновления счётчика попыток %s: %v", event.ID, err)
			}
			continue
		}
		if err := d.store.MarkEventPublished(ctx, event.ID, time.Now()); err != nil {
			// Событие уедет ещё раз на следующем проходе: потребитель
			// обязан быть идемпотентным, это допустимо
			log.Printf("Ошибка отметки события %s: %v", event.ID, err)
		}
	}
}
