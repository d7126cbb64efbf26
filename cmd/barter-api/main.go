package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/db"
	"github.com/rajivgeraev/barter-api/internal/matcher"
	"github.com/rajivgeraev/barter-api/internal/negotiation"
	"github.com/rajivgeraev/barter-api/internal/outbox"
	"github.com/rajivgeraev/barter-api/internal/registry"
	"github.com/rajivgeraev/barter-api/internal/services/match"
	"github.com/rajivgeraev/barter-api/internal/services/trade"
	"github.com/rajivgeraev/barter-api/internal/storage/postgres"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	store := postgres.NewStore(db.Pool)

	// Собираем ядро движка
	matchEngine := matcher.New(cfg.MatcherConfig)
	matchRegistry := registry.New(store)
	coordinator := negotiation.NewCoordinator(store, matchRegistry)

	// Доставка доменных событий: через Redis во внешний нотификатор
	notifier := outbox.NewRedisNotifier(cfg.RedisConfig)
	defer notifier.Close()

	dispatcher := outbox.NewDispatcher(store, notifier)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Фоновая чистка протухших матчей
	go runSweeper(matchRegistry, cfg)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Barter API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	matchService := match.NewMatchService(cfg, store, matchEngine, matchRegistry)
	tradeService := trade.NewTradeService(cfg, coordinator)

	// Регистрируем маршруты
	matchService.SetupRoutes(app)
	tradeService.SetupRoutes(app)

	// Запускаем сервер
	log.Printf("✅ Barter API запущен на порту %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}

// runSweeper периодически переводит протухшие матчи в expired.
// Точность не критична: чистка работает по принципу «лучшее из возможного».
func runSweeper(reg *registry.Registry, cfg *config.Config) {
	ttl := time.Duration(cfg.MatcherConfig.MatchTTLHours) * time.Hour
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		affected, err := reg.SweepExpired(ctx, time.Now(), ttl)
		cancel()
		if err != nil {
			log.Printf("Ошибка чистки протухших матчей: %v", err)
			continue
		}
		if affected > 0 {
			log.Printf("Переведено в expired матчей: %d", affected)
		}
	}
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
