package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	BindAddress string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	RedisHost   string
	RedisPort   string

	RoundSeconds           int
	DisconnectGraceSeconds int
	PointsPerQuestion      int
	RaceWinPoints          int
	PodiumFirst            int
	PodiumSecond           int
	PodiumThird            int
	TopN                   int
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		BindAddress: getEnv("BIND_ADDRESS", "localhost"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "battleroom"),
		DBPassword:  getEnv("DB_PASSWORD", "battleroom123"),
		DBName:      getEnv("DB_NAME", "battleroom"),
		RedisHost:   getEnv("REDIS_HOST", "localhost"),
		RedisPort:   getEnv("REDIS_PORT", "6379"),

		RoundSeconds:           getEnvInt("ROUND_SECONDS", 20),
		DisconnectGraceSeconds: getEnvInt("DISCONNECT_GRACE_SECONDS", 30),
		PointsPerQuestion:      getEnvInt("POINTS_PER_QUESTION", 100),
		RaceWinPoints:          getEnvInt("RACE_WIN_POINTS", 100),
		PodiumFirst:            getEnvInt("PODIUM_FIRST", 100),
		PodiumSecond:           getEnvInt("PODIUM_SECOND", 50),
		PodiumThird:            getEnvInt("PODIUM_THIRD", 25),
		TopN:                   getEnvInt("RANKING_TOP_N", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
	})
}
