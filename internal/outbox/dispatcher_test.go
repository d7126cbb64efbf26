package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/storage/memory"
)

// flakyNotifier отклоняет первые failures публикаций, дальше принимает все
type flakyNotifier struct {
	failures  int
	published []models.Event
}

func (n *flakyNotifier) Publish(_ context.Context, event models.Event) error {
	if n.failures > 0 {
		n.failures--
		return errors.New("нотификатор недоступен")
	}
	n.published = append(n.published, event)
	return nil
}

func appendEvent(t *testing.T, store *memory.Store, eventType models.EventType, version int) models.Event {
	t.Helper()
	conversationID := uuid.New()
	event := models.Event{
		ID:             uuid.New(),
		Type:           eventType,
		ConversationID: &conversationID,
		ActorID:        uuid.New(),
		Version:        version,
		Timestamp:      time.Now(),
	}
	if err := store.AppendEvent(context.Background(), event); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return event
}

func TestFlushPublishesPending(t *testing.T) {
	store := memory.NewStore()
	notifier := &flakyNotifier{}
	dispatcher := NewDispatcher(store, notifier)

	first := appendEvent(t, store, models.EventTradeProposed, 1)
	second := appendEvent(t, store, models.EventTradeAccepted, 2)

	dispatcher.Flush(context.Background())

	if len(notifier.published) != 2 {
		t.Fatalf("ожидали 2 публикации, получили %d", len(notifier.published))
	}
	if notifier.published[0].ID != first.ID || notifier.published[1].ID != second.ID {
		t.Errorf("события должны публиковаться в порядке записи")
	}

	pending, _ := store.ListPendingEvents(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("после доставки outbox должен опустеть, осталось %d", len(pending))
	}
}

func TestFlushRetainsFailedEvents(t *testing.T) {
	store := memory.NewStore()
	notifier := &flakyNotifier{failures: 1}
	dispatcher := NewDispatcher(store, notifier)

	event := appendEvent(t, store, models.EventTradeCancelled, 3)

	// Первый проход: публикация падает, событие остаётся в outbox
	dispatcher.Flush(context.Background())
	pending, _ := store.ListPendingEvents(context.Background(), 10)
	if len(pending) != 1 {
		t.Fatalf("событие должно остаться невыданным, осталось %d", len(pending))
	}
	if pending[0].Attempts != 1 {
		t.Errorf("счётчик попыток должен вырасти, получили %d", pending[0].Attempts)
	}

	// Второй проход: нотификатор ожил, событие доезжает
	dispatcher.Flush(context.Background())
	if len(notifier.published) != 1 || notifier.published[0].ID != event.ID {
		t.Fatalf("событие должно доехать со второй попытки")
	}
	pending, _ = store.ListPendingEvents(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("после доставки outbox должен опустеть")
	}
}
