package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env                   string
	LogLevel              string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	GuestCartTTL          time.Duration
	NATSURL               string
	NATSSubject           string
	AuthSecret            string
	AccessTokenTTLMinutes int
	SMTP                  SMTPConfig
	PreOrderHold          time.Duration
	PreOrderAutoNotify    bool
	ExpirySweepInterval   time.Duration
	NotifyWorkers         int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is one of "opportunistic", "mandatory" or "ssl".
	TLS string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Env:                   getEnv("ENV", "dev"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		GuestCartTTL:          time.Duration(positiveInt("GUEST_CART_TTL_HOURS", 72)) * time.Hour,
		NATSURL:               os.Getenv("NATS_URL"),
		NATSSubject:           getEnv("NATS_SUBJECT", "storefront.stock.replenished"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     positiveInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			TLS:      getEnv("SMTP_TLS", "opportunistic"),
		},
		PreOrderHold:        time.Duration(positiveInt("PREORDER_HOLD_HOURS", 48)) * time.Hour,
		PreOrderAutoNotify:  getEnv("PREORDER_AUTO_NOTIFY", "false") == "true",
		ExpirySweepInterval: time.Duration(positiveInt("EXPIRY_SWEEP_SECONDS", 300)) * time.Second,
		NotifyWorkers:       positiveInt("NOTIFY_WORKERS", 2),
	}

	return cfg
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

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
