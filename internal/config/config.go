package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sith/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	GroupCacheTTLSeconds  int

	BankPublicKeyPEM  string
	BankPublicKeyPath string
	BankPBXSite       string
	BankPBXRang       string
	BankPBXIdentifier string
	BankHMACKey       string
	BankPaymentURL    string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string

	EticketStorage string

	Counter CounterSettings
}

// CounterSettings holds the enumerated domain settings of the counters.
type CounterSettings struct {
	IdleTimeout          time.Duration
	LastOperationsWindow time.Duration
	LastOperationsLimit  int
	TraySize             int
	AccountIDStart       int
	RefillMethods        map[domain.CounterType][]domain.PaymentMethod
	DumpThreshold        time.Duration
	DumpDelta            time.Duration
	DumpCounterID        int64
	EbouticCounterID     int64
	RefillProductTypeID  int64
	MainClubID           int64
	AccountingAdminGroup int64
	CounterAdminGroup    int64
	BillingAdminGroup    int64
	AlcoholBannedGroup   int64
	CounterBannedGroup   int64
	SiteBannedGroup      int64
}

func DefaultCounterSettings() CounterSettings {
	return CounterSettings{
		IdleTimeout:          10 * time.Minute,
		LastOperationsWindow: 10 * time.Minute,
		LastOperationsLimit:  20,
		TraySize:             6,
		AccountIDStart:       1000,
		RefillMethods: map[domain.CounterType][]domain.PaymentMethod{
			domain.CounterBar:     {domain.PaymentCash, domain.PaymentCheck},
			domain.CounterEboutic: {domain.PaymentCard},
		},
		DumpThreshold:        730 * 24 * time.Hour,
		DumpDelta:            30 * 24 * time.Hour,
		DumpCounterID:        4,
		EbouticCounterID:     3,
		RefillProductTypeID:  3,
		MainClubID:           1,
		AccountingAdminGroup: 5,
		CounterAdminGroup:    7,
		BillingAdminGroup:    14,
		AlcoholBannedGroup:   11,
		CounterBannedGroup:   12,
		SiteBannedGroup:      13,
	}
}

// RefillAllowed reports whether method may be used to refill at a counter of
// the given type.
func (s CounterSettings) RefillAllowed(t domain.CounterType, method domain.PaymentMethod) bool {
	for _, m := range s.RefillMethods[t] {
		if m == method {
			return true
		}
	}
	return false
}

func Load() Config {
	// a missing .env file is not an error
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	smtpPort := getEnvInt("SMTP_PORT", 587)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		GroupCacheTTLSeconds:  getEnvInt("GROUP_CACHE_TTL_SECONDS", 60),

		BankPublicKeyPEM:  os.Getenv("BANK_PUBLIC_KEY_PEM"),
		BankPublicKeyPath: os.Getenv("BANK_PUBLIC_KEY_PATH"),
		BankPBXSite:       getEnv("BANK_PBX_SITE", "1999888"),
		BankPBXRang:       getEnv("BANK_PBX_RANG", "32"),
		BankPBXIdentifier: getEnv("BANK_PBX_IDENTIFIANT", "2"),
		BankHMACKey:       strings.TrimSpace(os.Getenv("BANK_HMAC_KEY")),
		BankPaymentURL:    getEnv("BANK_PAYMENT_URL", "https://preprod-tpeweb.e-transactions.fr/cgi/MYchoix_pagepaiement.cgi"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     smtpPort,
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     getEnv("MAIL_FROM", "noreply@ae.utbm.fr"),

		EticketStorage: getEnv("ETICKET_STORAGE", "data/etickets"),
	}
	cfg.Counter = loadCounterSettings()

	return cfg
}

func loadCounterSettings() CounterSettings {
	s := DefaultCounterSettings()
	s.IdleTimeout = time.Duration(getEnvInt("IDLE_TIMEOUT_MINUTES", 10)) * time.Minute
	s.LastOperationsWindow = time.Duration(getEnvInt("LAST_OPERATIONS_WINDOW_MINUTES", 10)) * time.Minute
	s.LastOperationsLimit = getEnvInt("LAST_OPERATIONS_LIMIT", s.LastOperationsLimit)
	s.TraySize = getEnvInt("TRAY_SIZE", s.TraySize)
	s.AccountIDStart = getEnvInt("ACCOUNT_ID_START", s.AccountIDStart)
	s.DumpThreshold = time.Duration(getEnvInt("CUSTOMER_ACCOUNT_DUMP_THRESHOLD_DAYS", 730)) * 24 * time.Hour
	s.DumpDelta = time.Duration(getEnvInt("ACCOUNT_DUMP_DELTA_DAYS", 30)) * 24 * time.Hour
	s.DumpCounterID = getEnvInt64("ACCOUNT_DUMP_COUNTER_ID", s.DumpCounterID)
	s.EbouticCounterID = getEnvInt64("EBOUTIC_COUNTER_ID", s.EbouticCounterID)
	s.RefillProductTypeID = getEnvInt64("REFILL_PRODUCT_TYPE_ID", s.RefillProductTypeID)
	s.MainClubID = getEnvInt64("MAIN_CLUB_ID", s.MainClubID)
	s.AccountingAdminGroup = getEnvInt64("GROUP_ACCOUNTING_ADMIN", s.AccountingAdminGroup)
	s.CounterAdminGroup = getEnvInt64("GROUP_COUNTER_ADMIN", s.CounterAdminGroup)
	s.BillingAdminGroup = getEnvInt64("GROUP_BILLING_ADMIN", s.BillingAdminGroup)
	s.AlcoholBannedGroup = getEnvInt64("GROUP_ALCOHOL_BANNED", s.AlcoholBannedGroup)
	s.CounterBannedGroup = getEnvInt64("GROUP_COUNTER_BANNED", s.CounterBannedGroup)
	s.SiteBannedGroup = getEnvInt64("GROUP_SITE_BANNED", s.SiteBannedGroup)
	if raw := os.Getenv("REFILL_METHODS_PER_COUNTER_TYPE"); raw != "" {
		if methods, err := ParseRefillMethods(raw); err == nil {
			s.RefillMethods = methods
		}
	}
	return s
}

// ParseRefillMethods parses "BAR:CASH,CHECK;EBOUTIC:CARD".
func ParseRefillMethods(raw string) (map[domain.CounterType][]domain.PaymentMethod, error) {
	out := map[domain.CounterType][]domain.PaymentMethod{}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, list, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("refill methods: missing ':' in %q", part)
		}
		counterType := domain.CounterType(strings.ToUpper(strings.TrimSpace(kind)))
		if !counterType.Valid() {
			return nil, fmt.Errorf("refill methods: unknown counter type %q", kind)
		}
		methods := []domain.PaymentMethod{}
		for _, m := range strings.Split(list, ",") {
			method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(m)))
			switch method {
			case domain.PaymentCash, domain.PaymentCheck, domain.PaymentCard:
				methods = append(methods, method)
			case "":
			default:
				return nil, fmt.Errorf("refill methods: unknown payment method %q", m)
			}
		}
		out[counterType] = methods
	}
	return out, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getEnvInt64(key string, fallback int64) int64 {
	val, err := strconv.ParseInt(getEnv(key, ""), 10, 64)
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
