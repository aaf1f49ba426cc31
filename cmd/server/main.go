package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sith/backend/internal/bank"
	"sith/backend/internal/cache"
	"sith/backend/internal/config"
	"sith/backend/internal/httpapi"
	"sith/backend/internal/logger"
	"sith/backend/internal/notify"
	"sith/backend/internal/service"
	"sith/backend/internal/store"
	"sith/backend/internal/store/memory"
	pgstore "sith/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log, err := logger.NewZapLog(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	var cacheStore cache.Cache = cache.NewMemoryCache()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: in-process")
	}

	var notifier notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
		log.Info("mail: smtp", zap.String("host", cfg.SMTPHost))
	} else {
		log.Info("mail: log only")
	}

	verifier, err := loadBankVerifier(cfg)
	if err != nil {
		log.Fatal("invalid bank public key", zap.Error(err))
	}
	if verifier == nil {
		log.Warn("no bank public key configured; card payment callbacks will be refused")
	}

	svc := service.New(repo, cfg.Counter, service.Deps{
		Cache:    cacheStore,
		Notifier: notifier,
		Logger:   log,
		Verifier: verifier,
		Merchant: bank.Merchant{
			Site:        cfg.BankPBXSite,
			Rang:        cfg.BankPBXRang,
			Identifiant: cfg.BankPBXIdentifier,
			HMACKey:     cfg.BankHMACKey,
			PaymentURL:  cfg.BankPaymentURL,
		},
		CacheTTL:       time.Duration(cfg.GroupCacheTTLSeconds) * time.Second,
		EticketStorage: cfg.EticketStorage,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("counter backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BankHMACKey != "" && !isHex(cfg.BankHMACKey) {
		return fmt.Errorf("BANK_HMAC_KEY must be hex encoded")
	}
	return nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// loadBankVerifier reads the bank public key inline or from a file. A nil
// verifier means no key is configured.
func loadBankVerifier(cfg config.Config) (*bank.Verifier, error) {
	pemData := []byte(strings.TrimSpace(cfg.BankPublicKeyPEM))
	if len(pemData) == 0 && cfg.BankPublicKeyPath != "" {
		data, err := os.ReadFile(cfg.BankPublicKeyPath)
		if err != nil {
			return nil, err
		}
		pemData = data
	}
	if len(pemData) == 0 {
		return nil, nil
	}
	return bank.NewVerifier(pemData)
}
