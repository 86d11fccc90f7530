package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/vms-watch/internal/actiondispatcher"
	"github.com/technosupport/vms-watch/internal/audit"
	"github.com/technosupport/vms-watch/internal/capture"
	"github.com/technosupport/vms-watch/internal/config"
	"github.com/technosupport/vms-watch/internal/crypto"
	"github.com/technosupport/vms-watch/internal/data"
	"github.com/technosupport/vms-watch/internal/devicedetect"
	"github.com/technosupport/vms-watch/internal/health"
	"github.com/technosupport/vms-watch/internal/httpapi"
	"github.com/technosupport/vms-watch/internal/ingestor"
	"github.com/technosupport/vms-watch/internal/iomanager"
	"github.com/technosupport/vms-watch/internal/modelprovider"
	"github.com/technosupport/vms-watch/internal/platform/paths"
	"github.com/technosupport/vms-watch/internal/platform/windows"
	"github.com/technosupport/vms-watch/internal/ratelimit"
	"github.com/technosupport/vms-watch/internal/settingswatch"
	"github.com/technosupport/vms-watch/internal/taskmanager"
)

const (
	serviceName  = "VMSWatch"
	eventIDStart = 100
	eventIDStop  = 101
	eventIDError = 102

	actionDedupeWindow = 30 * time.Second
	healthInterval     = 10 * time.Second
	healthThreshold    = 60 * time.Second
)

func main() {
	isService := windows.IsWindowsService()
	elog := windows.NewEventLogger(serviceName)
	defer elog.Close()

	if isService {
		elog.Info(eventIDStart, "Starting as Windows Service")
	}

	stopChan := make(chan struct{})
	if isService {
		go func() {
			if err := windows.RunAsService(serviceName, stopChan); err != nil {
				elog.Error(eventIDError, fmt.Sprintf("service run error: %v", err))
				os.Exit(1)
			}
		}()
	}

	if err := paths.EnsureDirs(); err != nil {
		elog.Error(eventIDError, fmt.Sprintf("platform init error: %v", err))
		log.Fatalf("platform init error: %v", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	db, err := data.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	keyring := crypto.NewKeyring()
	var store *data.Store
	if err := keyring.LoadFromEnv(); err != nil {
		log.Printf("keyring not provisioned (%v): network camera URLs and API keys will be stored in plaintext", err)
		store = data.NewStore(db)
	} else {
		store = data.NewStoreWithKeyring(db, keyring)
	}

	if err := store.LoadSettingsToEnv(context.Background()); err != nil {
		log.Printf("loading settings into environment: %v", err)
	}

	audit.ConfigureFailover(cfg.AuditSpool, 1024)
	auditService := audit.NewService(db)
	auditService.StartReplayer(context.Background())
	startAuditRetention(context.Background(), auditService)

	ioMgr, err := iomanager.New(devicedetect.New(), store, auditService, "")
	if err != nil {
		log.Fatalf("iomanager init error: %v", err)
	}
	if err := ioMgr.Refresh(context.Background()); err != nil {
		log.Printf("initial device enumeration failed: %v", err)
	}

	limiter := newRateLimiter(cfg.RedisAddr)

	model := os.Getenv("VIDEO_INGESTOR_MODEL")
	if model == "" || !config.AllowedModels[model] {
		if model != "" {
			log.Printf("unrecognized VIDEO_INGESTOR_MODEL %q, falling back to %s", model, config.DefaultModel)
		}
		model = config.DefaultModel
	}

	initialProvider, err := modelprovider.New(model, loadModelCredentials(), limiter)
	if err != nil {
		log.Fatalf("model provider init error: %v", err)
	}

	dispatcher := actiondispatcher.New(loadActionCredentials(), &http.Client{Timeout: 10 * time.Second}, actionDedupeWindow)

	ingestorCfg := ingestor.Config{
		TargetWidth:               cfg.Ingestor.TargetWidth,
		TargetHeight:              cfg.Ingestor.TargetHeight,
		DedupeThreshold:           cfg.Ingestor.DedupeThreshold,
		HistoryCapacity:           cfg.Ingestor.HistoryCapacity,
		WarmupReads:               cfg.Ingestor.WarmupReads,
		NetworkReconnectThreshold: cfg.Ingestor.NetworkReconnectThreshold,
		LocalReconnectThreshold:   cfg.Ingestor.LocalReconnectThreshold,
	}

	tm, err := taskmanager.New(context.Background(), store, ioMgr, auditService, sourceFactory, dispatcher, ingestorCfg, initialProvider)
	if err != nil {
		log.Fatalf("taskmanager init error: %v", err)
	}
	defer tm.Shutdown()

	providerFactory := func(model string) (modelprovider.Provider, error) {
		return modelprovider.New(model, loadModelCredentials(), limiter)
	}

	monitor := health.NewMonitor(tm, healthInterval, healthThreshold)
	monitor.Start()
	defer monitor.Stop()

	watcher := settingswatch.New(cfg.SettingsFile, func(ctx context.Context) error {
		return store.LoadSettingsToEnv(ctx)
	})
	watcher.Start(context.Background())
	defer watcher.Stop()

	srv := httpapi.New(tm, ioMgr, store, store, monitor, providerFactory)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv}

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			elog.Error(eventIDError, fmt.Sprintf("http server error: %v", err))
			log.Fatalf("http server error: %v", err)
		}
	}()

	if isService {
		<-stopChan
		elog.Info(eventIDStop, "service stop requested")
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		elog.Error(eventIDError, fmt.Sprintf("graceful shutdown error: %v", err))
	}
	elog.Info(eventIDStop, "server stopped gracefully")
}

// sourceFactory builds the capture.Source an ingestor reads from: local
// devices are read by v4l2/avfoundation/dshow device index, network
// cameras by their normalized RTSP pull URL.
func sourceFactory(dev data.Device) capture.Source {
	if dev.Source == data.SourceLocal {
		return &capture.FFmpegSource{Target: dev.IOID, Local: true}
	}
	return &capture.FFmpegSource{Target: dev.PullURL}
}

func loadModelCredentials() modelprovider.Credentials {
	return modelprovider.Credentials{
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
	}
}

func loadActionCredentials() actiondispatcher.Credentials {
	return actiondispatcher.Credentials{
		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPass:     os.Getenv("SMTP_PASSWORD"),
		EmailFrom:    os.Getenv("EMAIL_FROM"),
		EmailTo:      os.Getenv("EMAIL_TO"),
		TelegramBot:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChat: os.Getenv("TELEGRAM_CHAT_ID"),
		DiscordHook:  os.Getenv("DISCORD_WEBHOOK_URL"),
	}
}

// startAuditRetention prunes audit_logs older than audit.DefaultRetention
// once a day for the lifetime of the process; local disk hygiene, not a
// compliance requirement.
func startAuditRetention(ctx context.Context, s *audit.Service) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-audit.DefaultRetention)
			n, err := s.PruneOlderThan(ctx, cutoff)
			if err != nil {
				log.Printf("audit retention sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("audit retention sweep pruned %d rows older than %s", n, audit.DefaultRetention)
			}
		}
	}()
}

// newRateLimiter shares one Redis-backed limiter across OpenRouter calls
// process-wide when REDIS_ADDR is configured (its 18 req/min ceiling is
// per API key, not per process); an unset address degrades to a
// single-process in-memory bucket.
func newRateLimiter(redisAddr string) ratelimit.Limiter {
	if redisAddr == "" {
		return ratelimit.NewLocalLimiter(18)
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return ratelimit.NewRedisLimiter(client, "vms-watch:openrouter", 18, time.Minute)
}
