package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	JWTSecret      string
	DatabaseURL    string
	DatabaseConfig DatabaseConfig
	RedisConfig    RedisConfig
	MatcherConfig  MatcherConfig
	Port           string
	AppEnv         string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig содержит конфигурацию Redis для публикации событий
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Channel  string
}

// MatcherConfig содержит веса формулы совместимости.
// Вынесены в конфигурацию намеренно: формула подбирается продуктово,
// код не должен фиксировать её константами.
type MatcherConfig struct {
	OfferWeight    float64 // вес пересечения "предлагаю ↔ ищут", по умолчанию 0.4
	NeedWeight     float64 // вес пересечения "ищу ↔ предлагают", по умолчанию 0.4
	ProximityBonus int     // бонус за совпадение региона, по умолчанию 10
	TrustWeight    float64 // вес среднего доверия, по умолчанию 0.2
	MatchTTLHours  int     // срок жизни матча без решения
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "barter_user"),
		Password: getEnv("PGPASSWORD", "barter_pass"),
		Name:     getEnv("PGDATABASE", "barter"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	redisConfig := RedisConfig{
		URL:      getEnv("REDIS_URL", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		Channel:  getEnv("REDIS_EVENTS_CHANNEL", "barter:events"),
	}

	matcherConfig := MatcherConfig{
		OfferWeight:    getEnvFloat("MATCH_OFFER_WEIGHT", 0.4),
		NeedWeight:     getEnvFloat("MATCH_NEED_WEIGHT", 0.4),
		ProximityBonus: getEnvInt("MATCH_PROXIMITY_BONUS", 10),
		TrustWeight:    getEnvFloat("MATCH_TRUST_WEIGHT", 0.2),
		MatchTTLHours:  getEnvInt("MATCH_TTL_HOURS", 168),
	}

	cfg := &Config{
		JWTSecret:      getEnv("JWT_SECRET", ""),
		DatabaseURL:    dbURL,
		DatabaseConfig: dbConfig,
		RedisConfig:    redisConfig,
		MatcherConfig:  matcherConfig,
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "production"),
	}

	if cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: Не задан JWT_SECRET")
	}

	return cfg
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat получает вещественную переменную окружения
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
