package trade

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rajivgeraev/barter-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API переговоров
func (s *TradeService) SetupRoutes(app *fiber.App) {
	// Группа для API переговоров внутри разговора
	api := app.Group("/api/conversations")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения текущего предложения обмена
	api.Get("/:id/trade", s.GetTrade)

	// Маршрут для команд переговоров
	api.Post("/:id/trade", s.SubmitCommand)
}
