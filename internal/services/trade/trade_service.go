package trade

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/db"
	"github.com/rajivgeraev/barter-api/internal/models"
	"github.com/rajivgeraev/barter-api/internal/negotiation"
	"github.com/rajivgeraev/barter-api/internal/utils"
)

// TradeService представляет сервис переговоров об обмене
type TradeService struct {
	cfg         *config.Config
	jwtService  *utils.JWTService
	coordinator *negotiation.Coordinator
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(cfg *config.Config, coordinator *negotiation.Coordinator) *TradeService {
	return &TradeService{
		cfg:         cfg,
		jwtService:  utils.NewJWTService(cfg.JWTSecret),
		coordinator: coordinator,
	}
}

// GetTrade возвращает снапшот предложения обмена в разговоре.
// Клиент обязан вернуть поле version при следующей мутирующей команде.
func (s *TradeService) GetTrade(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID разговора"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	snapshot, err := s.coordinator.Snapshot(ctx, conversationID, memberID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"trade":   snapshot,
		"version": snapshot.Version,
	})
}

// SubmitCommand выполняет команду переговоров: propose, counter, accept,
// complete или cancel
func (s *TradeService) SubmitCommand(c fiber.Ctx) error {
	memberID, err := actorID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID разговора"})
	}

	var requestData struct {
		Command         string  `json:"command"`
		Offering        *string `json:"offering,omitempty"`
		ExpectedVersion int     `json:"expected_version"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	command := negotiation.Command(requestData.Command)
	switch command {
	case negotiation.CommandPropose, negotiation.CommandCounter, negotiation.CommandAccept,
		negotiation.CommandComplete, negotiation.CommandCancel:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимая команда переговоров"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	trade, err := s.coordinator.Submit(ctx, conversationID, memberID, command, requestData.Offering, requestData.ExpectedVersion)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"trade":   trade,
		"version": trade.Version,
	})
}

// actorID извлекает ID участника из контекста запроса
func actorID(c fiber.Ctx) (uuid.UUID, error) {
	userID, _ := c.Locals("userID").(string)
	return uuid.Parse(userID)
}

// respondError переводит доменные ошибки в HTTP-ответы.
// version_conflict и busy клиент может повторить, перечитав версию;
// остальные требуют изменить сам запрос.
func respondError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Разговор или предложение не найдены", "code": "not_found"})
	case errors.Is(err, models.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не являетесь стороной этого разговора", "code": "forbidden"})
	case errors.Is(err, models.ErrTradeInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "В разговоре уже есть незавершённое предложение", "code": "trade_in_progress"})
	case errors.Is(err, models.ErrVersionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Версия предложения устарела, перечитайте состояние", "code": "version_conflict"})
	case errors.Is(err, models.ErrAlreadyFinalized):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Предложение уже завершено", "code": "already_finalized"})
	case errors.Is(err, models.ErrInvalidState):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "Переход недопустим из текущего статуса", "code": "invalid_state"})
	case errors.Is(err, models.ErrBusy):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Слишком много одновременных команд, повторите позже", "code": "busy"})
	case errors.Is(err, models.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "Хранилище не ответило вовремя", "code": "timeout"})
	default:
		log.Printf("Внутренняя ошибка сервиса переговоров: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
	}
}
