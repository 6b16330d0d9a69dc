package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

type Config struct {
	Port   string
	NoAuth bool

	// Firebase
	FirebaseProjectID  string
	ServiceAccountJSON string
	CredentialsFile    string
	FirebaseAPIKey     string
	StorageBucket      string
	AuthEmulatorHost   string

	// Gemini
	GeminiAPIKey string
	GeminiModel  string
	DescribeRPS  float64

	// 業務設定
	AdminEmailDomain string
	LostReportPolicy string

	// Mirror
	MirrorFetchRetries int
	MirrorRetryBase    time.Duration

	DataDir    string
	UploadsDir string

	LogLevel  string
	LogFormat string
}

// Load 讀取 .env（不存在就略過）與環境變數。正式模式缺少 Firebase 設定會回傳錯誤。
func Load() (*Config, error) {
	_ = godotenv.Load()

	getEnv := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		NoAuth:             getEnv("NO_AUTH", "") == "1",
		FirebaseProjectID:  getEnv("FIREBASE_PROJECT_ID", ""),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		CredentialsFile:    getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		FirebaseAPIKey:     getEnv("FIREBASE_API_KEY", ""),
		StorageBucket:      getEnv("FIREBASE_STORAGE_BUCKET", ""),
		AuthEmulatorHost:   getEnv("FIREBASE_AUTH_EMULATOR_HOST", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		AdminEmailDomain:   getEnv("ADMIN_EMAIL_DOMAIN", "vit.ac.in"),
		LostReportPolicy:   getEnv("LOST_REPORT_POLICY", "any"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.MirrorFetchRetries, err = strconv.Atoi(getEnv("MIRROR_FETCH_RETRIES", "3")); err != nil || cfg.MirrorFetchRetries < 0 {
		return nil, fmt.Errorf("invalid MIRROR_FETCH_RETRIES: %q", os.Getenv("MIRROR_FETCH_RETRIES"))
	}
	baseMS, err := strconv.Atoi(getEnv("MIRROR_RETRY_BASE_MS", "200"))
	if err != nil || baseMS <= 0 {
		return nil, fmt.Errorf("invalid MIRROR_RETRY_BASE_MS: %q", os.Getenv("MIRROR_RETRY_BASE_MS"))
	}
	cfg.MirrorRetryBase = time.Duration(baseMS) * time.Millisecond
	if cfg.DescribeRPS, err = strconv.ParseFloat(getEnv("DESCRIBE_RPS", "1"), 64); err != nil {
		return nil, fmt.Errorf("invalid DESCRIBE_RPS: %w", err)
	}

	cfg.DataDir = dataDir(getEnv("DATA_DIR", ""))
	cfg.UploadsDir = filepath.Join(cfg.DataDir, "uploads")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// dataDir 沒設定時優先用 /data（容器），否則 ./data
func dataDir(v string) string {
	if v != "" {
		return v
	}
	if _, err := os.Stat("/data"); err == nil {
		return "/data"
	}
	return filepath.Join(".", "data")
}

func (c *Config) validate() error {
	if c.NoAuth {
		return nil
	}
	var missing []string
	if c.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if c.FirebaseAPIKey == "" {
		missing = append(missing, "FIREBASE_API_KEY")
	}
	if c.StorageBucket == "" {
		missing = append(missing, "FIREBASE_STORAGE_BUCKET")
	}
	if c.ServiceAccountJSON == "" && c.CredentialsFile == "" && c.AuthEmulatorHost == "" {
		missing = append(missing, "FIREBASE_SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables (or set NO_AUTH=1): %s", strings.Join(missing, ", "))
	}
	if c.CredentialsFile != "" && c.ServiceAccountJSON == "" {
		if _, err := os.Stat(c.CredentialsFile); err != nil {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS %q not readable: %w", c.CredentialsFile, err)
		}
	}
	return nil
}

func EnsureDir(dir string) { _ = os.MkdirAll(dir, 0o755) }

// SetupLogging 設定 apex/log 的 handler 與等級
func (c *Config) SetupLogging() {
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetHandler(json.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}
	lvl, err := log.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// NewFirebaseApp 建立 Admin SDK app（auth、firestore、storage 共用）
func (c *Config) NewFirebaseApp(ctx context.Context) (*firebase.App, error) {
	var opts []option.ClientOption
	if c.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(c.ServiceAccountJSON)))
	} else if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     c.FirebaseProjectID,
		StorageBucket: c.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return app, nil
}
