package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"clothpos/backend/internal/domain"
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
	StockPolicy           string
	ReportCacheTTLSeconds int
	PrinterSpoolDir       string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	reportTTL, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "15"))
	if err != nil || reportTTL < 1 {
		reportTTL = 15
	}
	stockPolicy := getEnv("STOCK_POLICY", domain.StockPolicyReject)
	if stockPolicy != domain.StockPolicyReject && stockPolicy != domain.StockPolicyAllowNegative {
		stockPolicy = domain.StockPolicyReject
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		StockPolicy:           stockPolicy,
		ReportCacheTTLSeconds: reportTTL,
		PrinterSpoolDir:       strings.TrimSpace(os.Getenv("PRINTER_SPOOL_DIR")),
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
