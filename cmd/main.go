package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/kestrelworks/infograph-backend/internal/config"
	"github.com/kestrelworks/infograph-backend/internal/db"
	"github.com/kestrelworks/infograph-backend/internal/handlers"
	"github.com/kestrelworks/infograph-backend/internal/live"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/observability"
	"github.com/kestrelworks/infograph-backend/internal/realtime/bus"
	"github.com/kestrelworks/infograph-backend/internal/repos"
	"github.com/kestrelworks/infograph-backend/internal/server"
	"github.com/kestrelworks/infograph-backend/internal/services"
	"github.com/kestrelworks/infograph-backend/internal/sse"
	"github.com/kestrelworks/infograph-backend/internal/utils"
)

const serviceName = "infograph-backend"

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: logMode,
	})
	defer shutdownOTel(context.Background())

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Could not load configuration", "error", err)
		os.Exit(1)
	}

	// Store
	var theDB *gorm.DB
	storeService, err := db.NewStoreService(log)
	if err != nil {
		log.Warn("Store init failed; library persistence disabled", "error", err)
	} else {
		if err = storeService.AutoMigrateAll(); err != nil {
			log.Warn("Store auto migration failed", "error", err)
		}
		theDB = storeService.DB()
	}

	// Repos
	log.Info("Setting up Repos from main...")
	var artifactRepo repos.ArtifactRepo
	if theDB != nil {
		artifactRepo = repos.NewArtifactRepo(theDB, log)
	}

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Cross-instance event bus. Optional; without REDIS_ADDR the hub
	// broadcasts locally.
	var broadcaster sse.Broadcaster = sseHub
	eventBus, err := bus.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis event bus unavailable; broadcasting locally", "error", err)
	} else {
		defer eventBus.Close()
		if err := eventBus.StartForwarder(context.Background(), sseHub.Broadcast); err != nil {
			log.Warn("Redis forwarder failed; broadcasting locally", "error", err)
		} else {
			broadcaster = bus.NewPublisher(log, eventBus, sseHub)
		}
	}

	// Services
	log.Info("Setting up Services from main...")
	promptService := services.NewPromptService(cfg)
	geminiClient := services.NewGeminiClient(log, nil)
	gateway := services.NewGenerationGateway(log, geminiClient, promptService, cfg)
	mediaStore := services.NewMediaStore(log, nil)
	mediaTools := services.NewMediaToolsService(log)
	sessionService := services.NewSessionService(log, gateway, promptService, mediaStore, broadcaster)
	libraryService := services.NewLibraryService(theDB, log, artifactRepo, mediaTools, broadcaster)
	speechService, err := services.NewSpeechProviderService(log)
	if err != nil {
		log.Warn("Could not init SpeechProviderService; voice topic entry disabled", "error", err)
		speechService = nil
	} else {
		defer speechService.Close()
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	sessionHandler := handlers.NewSessionHandler(log, sessionService, speechService)
	libraryHandler := handlers.NewLibraryHandler(log, libraryService, sessionService)
	realtimeHandler := handlers.NewRealtimeHandler(log, sseHub)
	liveHandler := handlers.NewLiveHandler(log, sessionService, promptService, func(instruction string) live.TransportDialer {
		return live.NewWebsocketDialer(log, services.EnvCredentialSource, instruction)
	})

	// Router
	log.Info("Setting up router from main...")
	mediaDir := ""
	if os.Getenv("GCS_BUCKET_NAME") == "" {
		mediaDir = utils.GetEnv("MEDIA_DIR", "media", log)
	}
	router := server.NewRouter(server.RouterConfig{
		ServiceName:     serviceName,
		MediaDir:        mediaDir,
		SessionHandler:  sessionHandler,
		LibraryHandler:  libraryHandler,
		RealtimeHandler: realtimeHandler,
		LiveHandler:     liveHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
