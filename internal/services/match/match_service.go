package match

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/db"
	"github.com/rajivgeraev/barter-api/internal/matcher"
	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/registry"
	"github.com/rajivgeraev/barter-api/internal/storage"
	"github.com/rajivgeraev/barter-api/internal/utils"
)

type matchStore interface {
	storage.ProfileStore
	storage.MatchStore
	storage.ConversationStore
}

// MatchService представляет сервис подбора пар для обмена
type MatchService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	store      matchStore
	matcher    *matcher.Matcher
	registry   *registry.Registry
}

// NewMatchService создает новый экземпляр MatchService
func NewMatchService(cfg *config.Config, store matchStore, m *matcher.Matcher, reg *registry.Registry) *MatchService {
	return &MatchService{
		cfg:        cfg,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		store:      store,
		matcher:    m,
		registry:   reg,
	}
}

// GetCandidates возвращает ранжированный список кандидатов для обмена
func (s *MatchService) GetCandidates(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	profile, err := s.store.GetProfile(ctx, memberID)
	if err != nil {
		return respondError(c, err)
	}

	pool, err := s.store.ListCandidates(ctx)
	if err != nil {
		return respondError(c, err)
	}

	// Кандидаты с активным матчем против участника исключаются из выдачи
	partners, err := s.registry.ActivePartners(ctx, memberID)
	if err != nil {
		return respondError(c, err)
	}

	ranked := s.matcher.Rank(profile, pool, partners)

	// Порядок детерминирован, поэтому страницы стабильны между запросами
	total := len(ranked)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := ranked[offset:end]

	return c.JSON(fiber.Map{
		"candidates": page,
		"count":      len(page),
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// CreateMatch создает матч с указанным участником
func (s *MatchService) CreateMatch(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		MemberID string `json:"member_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	otherID, err := uuid.Parse(requestData.MemberID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID участника"})
	}
	if otherID == memberID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Нельзя создать матч с самим собой"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	profile, err := s.store.GetProfile(ctx, memberID)
	if err != nil {
		return respondError(c, err)
	}
	other, err := s.store.GetProfile(ctx, otherID)
	if err != nil {
		return respondError(c, err)
	}
	if other.Banned {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Участник не найден"})
	}

	score, rationale := s.matcher.Score(profile, other)
	created, err := s.registry.Propose(ctx, memberID, otherID, score)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"match":     created,
		"rationale": rationale,
	})
}

// ExpressInterest отмечает интерес участника к матчу. Когда интерес
// становится взаимным, здесь же создаётся разговор для переговоров.
func (s *MatchService) ExpressInterest(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	matchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID матча"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	updated, becameMutual, err := s.registry.ExpressInterest(ctx, matchID, memberID)
	if err != nil {
		return respondError(c, err)
	}

	response := fiber.Map{
		"success": true,
		"match":   updated,
		"mutual":  becameMutual,
	}

	// Взаимный интерес открывает разговор между сторонами
	if becameMutual {
		conversation := models.Conversation{
			ID:        uuid.New(),
			MatchID:   updated.ID,
			MemberA:   updated.MemberA,
			MemberB:   updated.MemberB,
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateConversation(ctx, conversation); err != nil {
			log.Printf("Ошибка создания разговора для матча %s: %v", updated.ID, err)
			// Не возвращаем ошибку, т.к. основная функциональность выполнена
		} else {
			response["conversation_id"] = conversation.ID
		}
	}

	return c.JSON(response)
}

// Dismiss отклоняет матч
func (s *MatchService) Dismiss(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	matchID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID матча"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	dismissed, err := s.registry.Dismiss(ctx, matchID, memberID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"match":   dismissed,
	})
}

// actorID извлекает ID участника из контекста запроса
func actorID(c fiber.Ctx) (uuid.UUID, error) {
	userID, _ := c.Locals("userID").(string)
	return uuid.Parse(userID)
}

// respondError переводит доменные ошибки в HTTP-ответы
func respondError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Матч не найден", "code": "not_found"})
	case errors.Is(err, models.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не являетесь стороной этого матча", "code": "forbidden"})
	case errors.Is(err, models.ErrDuplicateMatch):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Активный матч для этой пары уже существует", "code": "duplicate_match"})
	case errors.Is(err, models.ErrInvalidState):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Действие недопустимо в текущем статусе матча", "code": "invalid_state"})
	case errors.Is(err, models.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "Хранилище не ответило вовремя", "code": "timeout"})
	default:
		log.Printf("Внутренняя ошибка сервиса матчей: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
	}
}
