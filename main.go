package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bitnetgo/internal/api"
	"bitnetgo/internal/cache"
	"bitnetgo/internal/config"
	"bitnetgo/internal/llama"
	"bitnetgo/internal/storage"
	"bitnetgo/internal/store"
	"bitnetgo/internal/worker"
)

func main() {
	// .env is optional; real deployments set the variables directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfgPath := os.Getenv("BITNETGO_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if _, err := os.Stat(cfg.Model.Path); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Model.Path).Msg("model file not found")
	}
	if _, err := os.Stat(cfg.Model.Executable); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Model.Executable).Msg("inference executable not found")
	}

	timeout := llama.DefaultTimeout
	if cfg.BasicConfig.InvokerTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.BasicConfig.InvokerTimeoutSeconds) * time.Second
	}
	invoker := llama.NewInvoker(cfg.Model.Executable, cfg.Model.Path, timeout, log.Logger)

	maxConcurrent := cfg.BasicConfig.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = worker.DefaultMaxConcurrent
	}
	queueSize := cfg.BasicConfig.QueueSize
	if queueSize <= 0 {
		queueSize = worker.DefaultQueueSize
	}
	gate := worker.NewGate(maxConcurrent, queueSize)

	var resultCache *cache.Cache
	if cfg.Redis.Enabled {
		resultCache, err = cache.New(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer resultCache.Close()
	}

	var audit *storage.AuditLog
	if len(cfg.Databases) > 0 {
		dbType := os.Getenv("BITNETGO_DB")
		if dbType == "" {
			dbType = "sqlite3"
		}
		db, err := storage.Open(dbType, cfg)
		if err != nil {
			log.Fatal().Err(err).Str("driver", dbType).Msg("open database")
		}
		defer db.Close()
		if err := storage.Migrate(db, dbType); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
		audit = storage.NewAuditLog(db, log.Logger)
	}

	modelName := filepath.Base(cfg.Model.Path)
	handlers := api.NewHandler(store.New(), invoker, gate, resultCache, audit, modelName, log.Logger)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	log.Info().Str("addr", addr).Str("model", modelName).Msg("server starting")

	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
