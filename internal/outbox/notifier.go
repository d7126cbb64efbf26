package outbox

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rajivgeraev/barter-api/internal/config"
	"github.com/rajivgeraev/barter-api/internal/models"
)

// RedisNotifier публикует события в Redis-канал, откуда их забирает
// внешний сервис уведомлений и чатов
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier создаёт нотификатор поверх Redis
func NewRedisNotifier(cfg config.RedisConfig) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Настройки пула соединений
		PoolSize:     10,
		MinIdleConns: 5,
		// Таймауты
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Не падаем: события останутся в outbox и доедут, когда Redis поднимется
		log.Printf("⚠️ Redis недоступен, события будут копиться в outbox: %v", err)
	}

	return &RedisNotifier{
		client:  client,
		channel: cfg.Channel,
	}
}

// Publish сериализует событие в JSON и публикует в канал
func (n *RedisNotifier) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Close закрывает соединение с Redis
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// LogNotifier пишет события в лог. Используется в разработке и как
// заглушка, когда Redis не сконфигурирован.
type LogNotifier struct{}

// Publish логирует событие
func (LogNotifier) Publish(_ context.Context, event models.Event) error {
	log.Printf("📣 Событие %s: conversation=%s match=%s actor=%s version=%d",
		event.Type, event.ConversationID, event.MatchID, event.ActorID, event.Version)
	return nil
}
