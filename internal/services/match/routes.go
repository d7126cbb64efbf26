package match

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rajivgeraev/barter-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API подбора пар
func (s *MatchService) SetupRoutes(app *fiber.App) {
	// Группа для API матчей
	api := app.Group("/api/matches")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения ранжированных кандидатов
	api.Get("/candidates", s.GetCandidates)

	// Маршрут для создания матча
	api.Post("/", s.CreateMatch)

	// Маршрут для выражения интереса к матчу
	api.Post("/:id/interest", s.ExpressInterest)

	// Маршрут для отклонения матча
	api.Post("/:id/dismiss", s.Dismiss)
}
