package main

import (
	"log/slog"
	"math/rand"
	"os"
	"time"

	"battleroom/config"
	"battleroom/handlers"
	"battleroom/models"
	"battleroom/routes"
	"battleroom/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	err = db.AutoMigrate(
		&models.Student{},
		&models.Subject{},
		&models.Question{},
		&models.Option{},
		&models.PointBalance{},
		&models.PointTransaction{},
	)
	if err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := config.InitRedis(cfg)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	bank := services.NewQuestionBank(db, redisClient, logger)
	ledger := services.NewPointsLedger(db, logger)
	bridge := services.NewScoringBridge(ledger, logger, 5*time.Second)
	registry := services.NewRegistry(rng)
	selector := services.NewSelector(bank, rng)

	battle := services.NewBattleService(registry, selector, bridge, services.BattleConfig{
		RoundDuration:     time.Duration(cfg.RoundSeconds) * time.Second,
		DisconnectGrace:   time.Duration(cfg.DisconnectGraceSeconds) * time.Second,
		PointsPerQuestion: cfg.PointsPerQuestion,
		RaceWinPoints:     cfg.RaceWinPoints,
		PodiumPrizes:      [3]int{cfg.PodiumFirst, cfg.PodiumSecond, cfg.PodiumThird},
		TopN:              cfg.TopN,
	}, logger)

	hub := services.NewHub(battle, logger)
	go hub.Run()

	roomHandler := handlers.NewRoomHandler(battle)

	router := gin.Default()
	routes.SetupRoutes(router, roomHandler, hub, logger)

	logger.Info("battle room server starting", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
