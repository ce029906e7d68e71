package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mailguard/internal/policyfile"
	"mailguard/internal/util"
	"mailguard/pkg/ai"
	"mailguard/pkg/domain"
	"mailguard/pkg/guard"
	"mailguard/services/summarizer/internal/app"
	"mailguard/services/summarizer/internal/config"
	"mailguard/services/summarizer/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	detectorTimeout, _ := config.ParseDuration("detectorTimeout", cfg.DetectorTimeout)
	completionTimeout, _ := config.ParseDuration("completionTimeout", cfg.CompletionTimeout)
	flushInterval, _ := config.ParseDuration("tokenFlushInterval", cfg.TokenFlushInterval)
	failureMode, err := guard.ParseFailureMode(cfg.DetectorFailureMode)
	if err != nil {
		log.Fatalf("failed to parse detector failure mode: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("failed to connect to redis: %v", err)
	}
	cancelPing()

	providers := ai.ProviderConfig{
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		TogetherBaseURL: cfg.TogetherBaseURL,
		TogetherAPIKey:  cfg.TogetherAPIKey,
		LlamaCppBaseURL: cfg.LlamaCppBaseURL,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		GeminiBaseURL:   cfg.GeminiBaseURL,
		GeminiAPIKey:    cfg.GeminiAPIKey,
	}
	detectors := map[domain.FilterMode]guard.Detector{}
	if cfg.PromptGuardURL != "" {
		detectors[domain.FilterPromptGuard] = guard.NewPromptGuard(cfg.PromptGuardURL)
	}
	if cfg.AzureContentSafetyEndpoint != "" && cfg.AzureContentSafetyKey != "" {
		detectors[domain.FilterPromptShields] = guard.NewPromptShields(cfg.AzureContentSafetyEndpoint, cfg.AzureContentSafetyKey)
	}
	bedrock, err := app.NewBedrockClient(context.Background(), app.AWSSettings{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		logger.Warn("bedrock client unavailable", "err", err)
	} else {
		providers.Bedrock = bedrock
		if cfg.AWSGuardrailID != "" {
			detectors[domain.FilterBedrockGuardrail] = guard.NewBedrockGuardrail(bedrock, cfg.AWSGuardrailID, cfg.AWSGuardrailVersion)
		}
	}
	for mode, d := range detectors {
		logger.Info("injection detector configured", "mode", mode, "detector", d.Name())
	}

	appCore, err := app.New(app.Config{
		StoreBackend:   cfg.StoreBackend,
		DatabaseURL:    cfg.DatabaseURL,
		Redis:          rdb,
		UsageBackend:   cfg.UsageBackend,
		SessionBackend: cfg.SessionBackend,
		SessionSecret:  cfg.SessionSecret,
		SessionTTL:     sessionTTL,
		Providers:      providers,
		Detectors:      detectors,
		DetectorOptions: guard.Options{
			FailureMode: failureMode,
			Timeout:     detectorTimeout,
			Concurrency: cfg.DetectorConcurrency,
		},
		CompletionTimeout: completionTimeout,
		TokenFlushTick:    flushInterval,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	seed, err := policyfile.Load(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load policy: %v", err)
	}
	if errs := policyfile.Check(seed); len(errs) > 0 {
		log.Fatalf("invalid policy %s: %v", cfg.PolicyPath, errors.Join(errs...))
	}
	if err := appCore.Policies().Bootstrap(seed); err != nil {
		log.Fatalf("failed to bootstrap policy: %v", err)
	}
	if _, err := appCore.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to ensure admin: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      rdb,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		TrustedProxies:             trusted,
		CORSOrigins:                cfg.CORSOrigins,
		CookieSecure:               cfg.CookieSecure,
		SessionTTL:                 sessionTTL,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("summarizer server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}
	if err := appCore.Close(shutdownCtx); err != nil {
		logger.Error("token flush on shutdown failed", "err", err)
	}
	_ = rdb.Close()
	slog.Info("summarizer server stopped")
}
