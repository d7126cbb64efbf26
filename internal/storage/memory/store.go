// Package memory реализует хранилища движка в памяти процесса.
// Используется в тестах и при локальной разработке без базы.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/models"
)

// Store хранит всё состояние движка в памяти под одним мьютексом.
// Условные обновления выполняются атомарно относительно него, поэтому
// семантика совпадает с одиночными условными UPDATE в Postgres.
type Store struct {
	mu            sync.Mutex
	profiles      map[uuid.UUID]models.MemberProfile
	matches       map[uuid.UUID]*models.Match
	conversations map[uuid.UUID]models.Conversation
	trades        map[uuid.UUID][]*models.TradeProposal // conversationID -> история предложений
	tradeRecords  []models.TradeRecord
	outbox        []*models.Event
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	return &Store{
		profiles:      make(map[uuid.UUID]models.MemberProfile),
		matches:       make(map[uuid.UUID]*models.Match),
		conversations: make(map[uuid.UUID]models.Conversation),
		trades:        make(map[uuid.UUID][]*models.TradeProposal),
	}
}

// checkCtx переводит истёкший дедлайн в models.ErrTimeout
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ErrTimeout
		}
		return err
	}
	return nil
}

// PutProfile добавляет или обновляет анкету (наполнение тестовых данных)
func (s *Store) PutProfile(profile models.MemberProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
}

// GetProfile возвращает анкету участника
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (models.MemberProfile, error) {
	if err := checkCtx(ctx); err != nil {
		return models.MemberProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[id]
	if !ok {
		return models.MemberProfile{}, models.ErrNotFound
	}
	return profile, nil
}

// ListCandidates возвращает всех незабаненных участников в стабильном порядке
func (s *Store) ListCandidates(ctx context.Context) ([]models.MemberProfile, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]models.MemberProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		if !profile.Banned {
			candidates = append(candidates, profile)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return candidates, nil
}

// CreateMatch создаёт матч, если для пары нет активного
func (s *Store) CreateMatch(ctx context.Context, match models.Match) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.matches {
		if existing.MemberA == match.MemberA && existing.MemberB == match.MemberB && existing.Status.IsActive() {
			return models.ErrDuplicateMatch
		}
	}
	stored := match
	s.matches[match.ID] = &stored
	return nil
}

// GetMatch возвращает матч по ID
func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (models.Match, error) {
	if err := checkCtx(ctx); err != nil {
		return models.Match{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[id]
	if !ok {
		return models.Match{}, models.ErrNotFound
	}
	return *match, nil
}

// FindActiveMatch ищет активный матч для неупорядоченной пары
func (s *Store) FindActiveMatch(ctx context.Context, a, b uuid.UUID) (models.Match, error) {
	if err := checkCtx(ctx); err != nil {
		return models.Match{}, err
	}
	first, second := models.CanonicalPair(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, match := range s.matches {
		if match.MemberA == first && match.MemberB == second && match.Status.IsActive() {
			return *match, nil
		}
	}
	return models.Match{}, models.ErrNotFound
}

// ListActivePartners возвращает участников с активным матчем против memberID
func (s *Store) ListActivePartners(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var partners []uuid.UUID
	for _, match := range s.matches {
		if !match.Status.IsActive() || !match.HasMember(memberID) {
			continue
		}
		if match.MemberA == memberID {
			partners = append(partners, match.MemberB)
		} else {
			partners = append(partners, match.MemberA)
		}
	}
	return partners, nil
}

// RecordInterest атомарно отмечает интерес участника.
// Обновление применяется, только если матч в статусе proposed и интерес
// этого участника ещё не был отмечен; фиксация второго интереса в том же
// шаге переводит матч в mutual.
func (s *Store) RecordInterest(ctx context.Context, matchID, memberID uuid.UUID, now time.Time) (models.Match, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return models.Match{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	match, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, false, models.ErrNotFound
	}
	if !match.HasMember(memberID) {
		return *match, false, nil
	}
	if match.Status != models.MatchProposed {
		return *match, false, nil
	}

	switch memberID {
	case match.MemberA:
		if match.InterestA {
			return *match, false, nil
		}
		match.InterestA = true
	case match.MemberB:
		if match.InterestB {
			return *match, false, nil
		}
		match.InterestB = true
	}

	if match.InterestA && match.InterestB {
		match.Status = models.MatchMutual
		decided := now
		match.DecidedAt = &decided
	}
	return *match, true, nil
}

// TransitionMatch условно переводит матч из статуса from в to
func (s *Store) TransitionMatch(ctx context.Context, id uuid.UUID, from, to models.MatchStatus, decidedAt time.Time) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	match, ok := s.matches[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if match.Status != from {
		return false, nil
	}
	match.Status = to
	decided := decidedAt
	match.DecidedAt = &decided
	return true, nil
}

// ExpireBefore переводит протухшие proposed-матчи в expired
func (s *Store) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for _, match := range s.matches {
		if match.Status == models.MatchProposed && match.CreatedAt.Before(cutoff) {
			match.Status = models.MatchExpired
			affected++
		}
	}
	return affected, nil
}

// CreateTradeRecord добавляет запись истории о завершённом обмене
func (s *Store) CreateTradeRecord(ctx context.Context, record models.TradeRecord) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeRecords = append(s.tradeRecords, record)
	return nil
}

// TradeRecords возвращает записи истории (для тестов)
func (s *Store) TradeRecords() []models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.TradeRecord, len(s.tradeRecords))
	copy(records, s.tradeRecords)
	return records
}

// CreateConversation создаёт разговор
func (s *Store) CreateConversation(ctx context.Context, conversation models.Conversation) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversation.ID] = conversation
	return nil
}

// GetConversation возвращает разговор по ID
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	if err := checkCtx(ctx); err != nil {
		return models.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, models.ErrNotFound
	}
	return conversation, nil
}

// CreateTrade вставляет новое предложение вместе с событием в outbox
func (s *Store) CreateTrade(ctx context.Context, trade models.TradeProposal, event models.Event) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.trades[trade.ConversationID] {
		if !existing.Status.IsTerminal() {
			return models.ErrTradeInProgress
		}
	}
	stored := trade
	s.trades[trade.ConversationID] = append(s.trades[trade.ConversationID], &stored)
	storedEvent := event
	s.outbox = append(s.outbox, &storedEvent)
	return nil
}

// GetLiveTrade возвращает незавершённое предложение разговора
func (s *Store) GetLiveTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error) {
	if err := checkCtx(ctx); err != nil {
		return models.TradeProposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, trade := range s.trades[conversationID] {
		if !trade.Status.IsTerminal() {
			return *trade, nil
		}
	}
	return models.TradeProposal{}, models.ErrNotFound
}

// GetLatestTrade возвращает последнее предложение разговора
func (s *Store) GetLatestTrade(ctx context.Context, conversationID uuid.UUID) (models.TradeProposal, error) {
	if err := checkCtx(ctx); err != nil {
		return models.TradeProposal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.trades[conversationID]
	if len(history) == 0 {
		return models.TradeProposal{}, models.ErrNotFound
	}
	return *history[len(history)-1], nil
}

// UpdateTrade условно обновляет предложение и пишет событие в outbox
func (s *Store) UpdateTrade(ctx context.Context, trade models.TradeProposal, expectedVersion int, event models.Event) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.trades[trade.ConversationID]
	for i, existing := range history {
		if existing.ID != trade.ID {
			continue
		}
		if existing.Status.IsTerminal() || existing.Version != expectedVersion {
			return false, nil
		}
		stored := trade
		history[i] = &stored
		storedEvent := event
		s.outbox = append(s.outbox, &storedEvent)
		return true, nil
	}
	return false, models.ErrNotFound
}

// AppendEvent добавляет событие в outbox
func (s *Store) AppendEvent(ctx context.Context, event models.Event) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := event
	s.outbox = append(s.outbox, &stored)
	return nil
}

// ListPendingEvents возвращает невыданные события в порядке добавления
func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.Event
	for _, event := range s.outbox {
		if event.PublishedAt != nil {
			continue
		}
		pending = append(pending, *event)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

// MarkEventPublished отмечает событие доставленным
func (s *Store) MarkEventPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.outbox {
		if event.ID == id {
			published := publishedAt
			event.PublishedAt = &published
			return nil
		}
	}
	return models.ErrNotFound
}

// BumpEventAttempts увеличивает счётчик попыток доставки
func (s *Store) BumpEventAttempts(ctx context.Context, id uuid.UUID) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.outbox {
		if event.ID == id {
			event.Attempts++
			return nil
		}
	}
	return models.ErrNotFound
}
