package models

import "errors"

// Ошибки доменного уровня. Все они восстановимые: HTTP-слой переводит их
// в коды ответов, ни одна не роняет процесс.
var (
	// ErrNotFound — матч или разговор не существует
	ErrNotFound = errors.New("record not found")
	// ErrForbidden — участник не является стороной сущности
	ErrForbidden = errors.New("actor is not a party")
	// ErrInvalidState — переход недопустим из текущего статуса
	ErrInvalidState = errors.New("invalid state for transition")
	// ErrAlreadyFinalized — предложение завершено и неизменяемо
	ErrAlreadyFinalized = errors.New("trade already finalized")
	// ErrDuplicateMatch — активный матч для пары уже существует
	ErrDuplicateMatch = errors.New("active match already exists for pair")
	// ErrTradeInProgress — в разговоре уже есть незавершённое предложение
	ErrTradeInProgress = errors.New("conversation already has a live trade")
	// ErrVersionConflict — клиент прислал устаревшую версию
	ErrVersionConflict = errors.New("stale version")
	// ErrBusy — исчерпан лимит повторов при конкуренции
	ErrBusy = errors.New("too much contention, retry later")
	// ErrTimeout — хранилище не ответило вовремя
	ErrTimeout = errors.New("store timed out")
)
