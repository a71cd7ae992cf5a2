package main

import (
	"context"
	"log"
	"os"
	"time"

	"robomind/internal/api"
	"robomind/internal/cache"
	"robomind/internal/config"
	"robomind/internal/dispatch"
	"robomind/internal/intent"
	"robomind/internal/models"
	"robomind/internal/reminder"
	"robomind/internal/service/ai"
	"robomind/internal/service/history"
	"robomind/internal/service/speech"
	"robomind/internal/service/translate"
	"robomind/internal/session"
	"robomind/internal/storage"
	"robomind/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("ROBOMIND_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("ROBOMIND_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	cacheClient, err := cache.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer cacheClient.Close()

	// Create necessary tables: conversations, turns, reminders, temp_audio
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	historyService, err := history.NewService(db)
	if err != nil {
		log.Fatalf("init history service: %v", err)
	}
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.TempCleanInterval) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = history.DefaultTempAudioCleanupInterval
	}
	historyService.StartTempAudioCleaner(cleanCtx, cleanInterval)

	provider := os.Getenv("ROBOMIND_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	aiService, err := ai.NewService(context.Background(), provider, cfg)
	if err != nil {
		log.Fatalf("init ai service for %s: %v", provider, err)
	}
	bridge := translate.NewBridge(cfg.Translator, cfg.Chat.PivotLanguage, cacheClient)
	var recognizer api.SpeechRecognizer
	if cfg.Recognizer.BaseURL != "" {
		recognizer = speech.NewRecognizer(cfg.Recognizer)
	}

	classifier := intent.NewClassifier(cfg.Chat.Keywords)
	responder := intent.NewResponder(cfg.Chat.TimezoneOffsetMinutes, cfg.Chat.ReminderUnitMinutes)

	factory := func(ctx context.Context, conversationID string) (*dispatch.Dispatcher, error) {
		_, turns, err := historyService.GetConversationWithTurns(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		sess := session.New()
		for _, turn := range turns {
			sess.Append(turn)
		}
		scheduler := reminder.NewScheduler()
		pending, err := historyService.LoadPendingReminders(ctx)
		if err != nil {
			return nil, err
		}
		mine := make([]models.Reminder, 0, len(pending))
		for _, rem := range pending {
			if rem.ConversationID == conversationID {
				mine = append(mine, rem)
			}
		}
		scheduler.Load(mine)
		return dispatch.New(dispatch.Config{
			ConversationID: conversationID,
			Classifier:     classifier,
			Responder:      responder,
			Translator:     bridge,
			Generator:      conversationGenerator{inner: aiService, conversationID: conversationID},
			Scheduler:      scheduler,
			Archive:        historyService,
			Session:        sess,
			ContextWindow:  cfg.Chat.ContextWindow,
		})
	}
	idleTimeout := time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute
	workers := worker.NewManager(factory, cfg.BasicConfig.QueueSize, idleTimeout)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/audio"
	}
	tempTTL := time.Duration(cfg.BasicConfig.TempAudioTTL) * time.Minute
	if tempTTL <= 0 {
		tempTTL = history.DefaultTempAudioTTL
	}
	handlers := api.NewHandler(historyService, workers, recognizer, fileBase, tempTTL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// conversationGenerator tags outgoing generate calls with the conversation id
// so the web search tool can rate limit per conversation.
type conversationGenerator struct {
	inner          *ai.Service
	conversationID string
}

func (g conversationGenerator) Generate(ctx context.Context, turns []models.Turn, callback func(string) error) (string, error) {
	return g.inner.Generate(ai.WithConversation(ctx, g.conversationID), turns, callback)
}
