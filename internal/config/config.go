package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int

	DBDriver         string
	DBDataSourceName string
	MigrationsDir    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CartTTL       time.Duration
	CheckoutTTL   time.Duration
	SweepInterval time.Duration
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: could not load .env file, relying on environment")
	}

	config := &Config{}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.ServerPort = p
		}
	}
	if config.ServerPort == 0 {
		config.ServerPort = 8080
	}

	config.DBDriver = "postgres"

	dbHost := getEnvOrDefault("RESERVE_DB_HOST", "localhost")
	dbPort := getEnvOrDefault("RESERVE_DB_PORT", "5432")
	dbName := getEnvOrDefault("RESERVE_DB_DATABASE", "reserveDB")
	dbUser := getEnvOrDefault("RESERVE_DB_USERNAME", "root")
	dbPassword := getEnvOrDefault("RESERVE_DB_PASSWORD", "1234")

	config.DBDataSourceName = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, dbHost, dbPort, dbName)
	config.MigrationsDir = getEnvOrDefault("MIGRATIONS_DIR", "migrations")

	redisHost := getEnvOrDefault("RESERVE_REDIS_HOST", "localhost")
	redisPort := getEnvOrDefault("RESERVE_REDIS_PORT", "6379")
	config.RedisAddr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	config.RedisPassword = os.Getenv("RESERVE_REDIS_PASSWORD")
	if db := os.Getenv("RESERVE_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.RedisDB = n
		}
	}

	config.CartTTL = getDurationOrDefault("RESERVE_CART_TTL", 15*time.Minute)
	config.CheckoutTTL = getDurationOrDefault("RESERVE_CHECKOUT_TTL", 10*time.Minute)
	config.SweepInterval = getDurationOrDefault("RESERVE_SWEEP_INTERVAL", time.Minute)

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
