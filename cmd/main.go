package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"star-notary/chain"
	"star-notary/db"
	"star-notary/handlers"
	"star-notary/logger"
	"star-notary/repository"
	"star-notary/routers"
	"star-notary/signature"
	"star-notary/validation"
)

func loadConfig(path string) error {
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("log.app_log_file", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("store.engine", db.EngineLevelDB)
	viper.SetDefault("store.chain_path", "data/chain")
	viper.SetDefault("store.validation_path", "data/validation")
	viper.SetDefault("validation.window_seconds", 300)
	viper.SetDefault("star.max_story_bytes", handlers.DefaultMaxStoryBytes)
	viper.SetDefault("signature.network", "mainnet")

	viper.SetEnvPrefix("STAR_NOTARY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func main() {
	configPath := pflag.String("config", "config/config.yaml", "path to the config file")
	pflag.Parse()

	// Load config
	if err := loadConfig(*configPath); err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	appLogFile := viper.GetString("log.app_log_file")
	logLevel := viper.GetString("log.level")

	if err := logger.InitLogger(appLogFile, logLevel); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting star notary server...")

	engine := viper.GetString("store.engine")
	chainStore, err := db.Open(engine, viper.GetString("store.chain_path"))
	if err != nil {
		logger.Logger.Fatal("Failed to open chain store", zap.String("engine", engine), zap.Error(err))
	}
	defer chainStore.Close()

	validationStore, err := db.Open(engine, viper.GetString("store.validation_path"))
	if err != nil {
		logger.Logger.Fatal("Failed to open validation store", zap.String("engine", engine), zap.Error(err))
	}
	defer validationStore.Close()

	bc := chain.NewBlockChain(repository.NewBlockRepository(chainStore))
	if err := bc.Initialize(); err != nil {
		logger.Logger.Fatal("Failed to initialize chain", zap.Error(err))
	}

	verifier, err := signature.NewBitcoinVerifier(viper.GetString("signature.network"))
	if err != nil {
		logger.Logger.Fatal("Failed to create signature verifier", zap.Error(err))
	}
	window := time.Duration(viper.GetInt("validation.window_seconds")) * time.Second
	registry := validation.NewRegistry(repository.NewValidationRepository(validationStore), verifier, window)

	// Initialize HTTP handlers
	h := handlers.NewHandler(bc, registry, viper.GetInt("star.max_story_bytes"))

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	// HTTP Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", viper.GetInt("server.port")))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
}
