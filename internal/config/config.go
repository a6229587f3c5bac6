package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Fixed tax year and jurisdiction this deployment serves.
	TaxYear      string
	Jurisdiction string

	// Rule table. Empty means the embedded table for the configured year.
	RulesPath string

	// StrictCodes fails a request whose slips carry codes unknown to every
	// rule. When off, unknown codes are logged and ignored.
	StrictCodes bool

	// Template storage
	StorageType        string
	StorageLocalPath   string
	S3Bucket           string
	S3Region           string
	AWSAccessKey       string
	AWSSecretKey       string
	TemplateVersionKey string
	TemplatePDFKey     string
	TemplateCatalogKey string

	// Output persistence
	SaveOutput   bool
	OutputPrefix string

	// Limits
	FetchTimeout         time.Duration
	MaxUploadBytes       int64
	MaxConcurrentExtract int
	MaxConcurrentFill    int
	RunTTL               time.Duration
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		APIKey: os.Getenv("T1FILL_API_KEY"),

		TaxYear:      envOr("TAX_YEAR", "2024"),
		Jurisdiction: envOr("JURISDICTION", "CA-ON"),

		RulesPath:   os.Getenv("RULES_PATH"),
		StrictCodes: envBool("STRICT_CODES", true),

		StorageType:        envOr("STORAGE_TYPE", "local"),
		StorageLocalPath:   envOr("STORAGE_LOCAL_PATH", "./storage"),
		S3Bucket:           os.Getenv("AWS_S3_BUCKET"),
		S3Region:           envOr("AWS_REGION", "ca-central-1"),
		AWSAccessKey:       os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:       os.Getenv("AWS_SECRET_ACCESS_KEY"),
		TemplateVersionKey: envOr("TEMPLATE_VERSION_KEY", "template/VERSION"),
		TemplatePDFKey:     envOr("TEMPLATE_PDF_KEY", "template/t1-template.pdf"),
		TemplateCatalogKey: envOr("TEMPLATE_CATALOG_KEY", "template/t1-fields.json"),

		SaveOutput:   envBool("SAVE_OUTPUT", false),
		OutputPrefix: envOr("OUTPUT_PREFIX", "output/"),

		FetchTimeout:         envDuration("FETCH_TIMEOUT", 15*time.Second),
		MaxUploadBytes:       envInt64("MAX_UPLOAD_BYTES", 20971520), // 20MB
		MaxConcurrentExtract: envInt("MAX_CONCURRENT_EXTRACT", 4),
		MaxConcurrentFill:    envInt("MAX_CONCURRENT_FILL", 4),
		RunTTL:               envDuration("RUN_TTL", 1*time.Hour),
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20971520
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 4
	}
	if cfg.MaxConcurrentFill <= 0 {
		cfg.MaxConcurrentFill = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("T1FILL_API_KEY is required")
	}
	switch c.StorageType {
	case "local":
		if c.StorageLocalPath == "" {
			return fmt.Errorf("STORAGE_LOCAL_PATH is required for local storage")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("AWS_S3_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be local or s3, got %q", c.StorageType)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
