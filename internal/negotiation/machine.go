// Package negotiation реализует машину состояний предложения обмена и
// координатор, сериализующий команды по разговорам.
package negotiation

import (
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
)

// Command — команда переговоров
type Command string

const (
	CommandPropose  Command = "propose"  // инициатор создаёт предложение
	CommandCounter  Command = "counter"  // встречное предложение
	CommandAccept   Command = "accept"   // согласие с текущими условиями
	CommandComplete Command = "complete" // инициатор подтверждает завершение
	CommandCancel   Command = "cancel"   // любая сторона отменяет
)

// Transition применяет команду к незавершённому предложению.
//
// Таблица переходов:
//
//	proposed  --counter(responder)-->  countered
//	proposed  --accept(responder)-->   accepted_by_responder
//	countered --accept(initiator)-->   accepted_by_responder
//	countered --counter(любой)-->      countered (замена условий, version++)
//	accepted_by_responder --complete(initiator)--> completed (терминальный)
//	любой нетерминальный --cancel(любой)--> cancelled (терминальный)
//
// Клиент обязан прислать версию, которую видел последней. Расхождение —
// models.ErrVersionConflict, кроме точного повтора уже применённого
// перехода: такой повтор идемпотентно возвращает сохранённое состояние.
// Возвращаемый тип события пустой, когда писать в хранилище нечего.
func Transition(current models.TradeProposal, actorID uuid.UUID, cmd Command, offering *string, expectedVersion int, now time.Time) (models.TradeProposal, models.EventType, error) {
	if !current.HasParty(actorID) {
		return models.TradeProposal{}, "", models.ErrForbidden
	}

	// Точный повтор уже применённого перехода: клиент прислал версию,
	// с которой переход уже был выполнен, и хранимое состояние совпадает
	// с тем, что получилось бы. Возвращаем его без нового события.
	if expectedVersion == current.Version-1 && isAppliedRetry(current, actorID, cmd, offering) {
		return current, "", nil
	}

	if current.Status.IsTerminal() {
		return models.TradeProposal{}, "", models.ErrAlreadyFinalized
	}
	if expectedVersion != current.Version {
		return models.TradeProposal{}, "", models.ErrVersionConflict
	}

	next := current
	next.Version++
	next.UpdatedAt = now

	switch cmd {
	case CommandCounter:
		if offering == nil || *offering == "" {
			return models.TradeProposal{}, "", models.ErrInvalidState
		}
		switch current.Status {
		case models.TradeProposed:
			if actorID != current.ResponderID {
				return models.TradeProposal{}, "", models.ErrForbidden
			}
		case models.TradeCountered:
			// Перевыставить условия может любая сторона
		default:
			return models.TradeProposal{}, "", models.ErrInvalidState
		}
		next.Status = models.TradeCountered
		setOffering(&next, actorID, *offering)
		return next, models.EventTradeCountered, nil

	case CommandAccept:
		switch current.Status {
		case models.TradeProposed:
			if actorID != current.ResponderID {
				return models.TradeProposal{}, "", models.ErrForbidden
			}
			if offering != nil && *offering != "" {
				next.ResponderOffering = offering
			}
		case models.TradeCountered:
			if actorID != current.InitiatorID {
				return models.TradeProposal{}, "", models.ErrForbidden
			}
		default:
			return models.TradeProposal{}, "", models.ErrInvalidState
		}
		next.Status = models.TradeAcceptedByResponder
		return next, models.EventTradeAccepted, nil

	case CommandComplete:
		if current.Status != models.TradeAcceptedByResponder {
			return models.TradeProposal{}, "", models.ErrInvalidState
		}
		if actorID != current.InitiatorID {
			return models.TradeProposal{}, "", models.ErrForbidden
		}
		next.Status = models.TradeCompleted
		return next, models.EventTradeCompleted, nil

	case CommandCancel:
		next.Status = models.TradeCancelled
		return next, models.EventTradeCancelled, nil
	}

	return models.TradeProposal{}, "", models.ErrInvalidState
}

// setOffering обновляет условия со стороны actorID
func setOffering(trade *models.TradeProposal, actorID uuid.UUID, offering string) {
	if actorID == trade.InitiatorID {
		trade.InitiatorOffering = offering
		return
	}
	trade.ResponderOffering = &offering
}

// isAppliedRetry проверяет, совпадает ли хранимое состояние с результатом
// повторяемой команды
func isAppliedRetry(current models.TradeProposal, actorID uuid.UUID, cmd Command, offering *string) bool {
	switch cmd {
	case CommandCounter:
		if current.Status != models.TradeCountered || offering == nil {
			return false
		}
		if actorID == current.InitiatorID {
			return current.InitiatorOffering == *offering
		}
		return current.ResponderOffering != nil && *current.ResponderOffering == *offering
	case CommandAccept:
		if current.Status != models.TradeAcceptedByResponder {
			return false
		}
		// Повтором считается только accept той же стороны, что и приняла.
		// proposed существует только в версии 1, поэтому версия хранимого
		// состояния говорит, кто принимал: 2 — ответчик из proposed,
		// выше — инициатор из countered
		if current.Version == 2 {
			if actorID != current.ResponderID {
				return false
			}
			// accept из proposed мог нести условия ответчика — повтор
			// с другими условиями уже не тот же переход
			if offering != nil && *offering != "" {
				return current.ResponderOffering != nil && *current.ResponderOffering == *offering
			}
			return true
		}
		return actorID == current.InitiatorID
	case CommandComplete:
		return current.Status == models.TradeCompleted && actorID == current.InitiatorID
	case CommandCancel:
		return current.Status == models.TradeCancelled
	}
	return false
}
