// Package config provides the environment-backed configuration loader used
// by the server bootstrap (cmd/elnote-server/main.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every runtime value the server reads from the environment.
type Config struct {
	HTTPAddr    string // HTTP_ADDR
	DatabaseURL string // DATABASE_URL

	JWTSecret   string        // JWT_SECRET (>= 32 chars)
	JWTIssuer   string        // JWT_ISSUER
	AccessTTL   time.Duration // ACCESS_TOKEN_TTL
	RefreshTTL  time.Duration // REFRESH_TOKEN_TTL

	RequireTLS bool // REQUIRE_TLS

	ObjectStoreDriver       string // OBJECT_STORE_DRIVER (http|s3)
	ObjectStorePublicBase   string // OBJECT_STORE_PUBLIC_BASE_URL
	ObjectStoreBucket       string // OBJECT_STORE_BUCKET
	ObjectStoreSignSecret   string // OBJECT_STORE_SIGN_SECRET (falls back to JWTSecret)
	ObjectStoreInventoryURL string // OBJECT_STORE_INVENTORY_URL

	AttachmentUploadTTL   time.Duration // ATTACHMENT_UPLOAD_URL_TTL
	AttachmentDownloadTTL time.Duration // ATTACHMENT_DOWNLOAD_URL_TTL

	ReconcileStaleAfter       time.Duration // RECONCILE_STALE_AFTER
	ReconcileScanLimit        int           // RECONCILE_SCAN_LIMIT
	ReconcileScheduleEnabled  bool          // RECONCILE_SCHEDULE_ENABLED
	ReconcileScheduleInterval time.Duration // RECONCILE_SCHEDULE_INTERVAL
	ReconcileRunOnStartup     bool          // RECONCILE_SCHEDULE_RUN_ON_STARTUP
	ReconcileActorEmail       string        // RECONCILE_SCHEDULE_ACTOR_EMAIL

	DefaultAdminEmail    string // DEFAULT_ADMIN_EMAIL
	DefaultAdminPassword string // DEFAULT_ADMIN_PASSWORD

	KafkaBrokers string // KAFKA_BROKERS (comma separated, optional mirror)
	KafkaTopic   string // KAFKA_TOPIC
}

// LoadFromEnv reads config values from the environment, applying the same
// defaults and permissive parsing style as the rest of the pack.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getenv("JWT_ISSUER", "elnote"),

		ObjectStoreDriver:       getenv("OBJECT_STORE_DRIVER", "http"),
		ObjectStorePublicBase:   getenv("OBJECT_STORE_PUBLIC_BASE_URL", "https://objects.example.invalid"),
		ObjectStoreBucket:       getenv("OBJECT_STORE_BUCKET", "elnote-attachments"),
		ObjectStoreInventoryURL: os.Getenv("OBJECT_STORE_INVENTORY_URL"),

		DefaultAdminEmail:    getenv("DEFAULT_ADMIN_EMAIL", "admin@elnote.local"),
		DefaultAdminPassword: getenv("DEFAULT_ADMIN_PASSWORD", "ChangeMe123!"),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC"),

		ReconcileActorEmail: os.Getenv("RECONCILE_SCHEDULE_ACTOR_EMAIL"),
	}

	cfg.ObjectStoreSignSecret = os.Getenv("OBJECT_STORE_SIGN_SECRET")
	if cfg.ObjectStoreSignSecret == "" {
		cfg.ObjectStoreSignSecret = cfg.JWTSecret
	}

	cfg.AccessTTL = getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTTL = getenvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	cfg.AttachmentUploadTTL = getenvDuration("ATTACHMENT_UPLOAD_URL_TTL", 15*time.Minute)
	cfg.AttachmentDownloadTTL = getenvDuration("ATTACHMENT_DOWNLOAD_URL_TTL", 15*time.Minute)
	cfg.ReconcileStaleAfter = getenvDuration("RECONCILE_STALE_AFTER", 24*time.Hour)
	cfg.ReconcileScheduleInterval = getenvDuration("RECONCILE_SCHEDULE_INTERVAL", time.Hour)

	cfg.ReconcileScanLimit = getenvInt("RECONCILE_SCAN_LIMIT", 500)
	if cfg.ReconcileScanLimit < 1 {
		cfg.ReconcileScanLimit = 1
	}
	if cfg.ReconcileScanLimit > 2000 {
		cfg.ReconcileScanLimit = 2000
	}

	cfg.RequireTLS = getenvBool("REQUIRE_TLS", false)
	cfg.ReconcileScheduleEnabled = getenvBool("RECONCILE_SCHEDULE_ENABLED", false)
	cfg.ReconcileRunOnStartup = getenvBool("RECONCILE_SCHEDULE_RUN_ON_STARTUP", false)

	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
