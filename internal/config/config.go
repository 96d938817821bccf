package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PolicyStrict     = "strict"
	PolicyBestEffort = "best_effort"

	BackendDisk   = "disk"
	BackendMemory = "memory"
)

type Config struct {
	Server      ServerConfig
	Marketplace MarketplaceConfig
	Conversion  ConversionConfig
	Staging     StagingConfig
	LogLevel    string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type MarketplaceConfig struct {
	APIKey        string
	ShopID        string
	BaseURL       string
	VerifyOrders  bool
	VerifyTimeout time.Duration
}

type ConversionConfig struct {
	MaxUploadSize int64
	MaxArchives   int
	// MaxBrushes is the intended number of brushes per set. A brush usually
	// ships as a shape and a grain image, so the entry cap is MaxBrushes
	// times EntryMultiplier.
	MaxBrushes      int
	EntryMultiplier int
	MaxEntrySize    int64
	MinDimension    int
	MaxImagePixels  int
	ProcessTimeout  time.Duration
	Workers         int
	BatchPolicy     string
}

type StagingConfig struct {
	Backend string
	Dir     string
}

// MaxEntryCount is the largest number of entries accepted in one archive.
func (c ConversionConfig) MaxEntryCount() int {
	return c.MaxBrushes * c.EntryMultiplier
}

// MaxRequestSize bounds the whole multipart body.
func (c ConversionConfig) MaxRequestSize() int64 {
	return c.MaxUploadSize*int64(c.MaxArchives) + 1<<20
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Marketplace: MarketplaceConfig{
			APIKey:        getEnv("ETSY_API_KEY", ""),
			ShopID:        getEnv("ETSY_SHOP_ID", ""),
			BaseURL:       getEnv("ETSY_API_URL", "https://openapi.etsy.com/v3/application"),
			VerifyOrders:  getEnvAsBool("VERIFY_ORDERS", true),
			VerifyTimeout: getDuration("VERIFY_TIMEOUT", 10*time.Second),
		},
		Conversion: ConversionConfig{
			MaxUploadSize:   getEnvAsInt64("MAX_UPLOAD_SIZE", 100<<20), // 100MB
			MaxArchives:     getEnvAsInt("MAX_ARCHIVES", 10),
			MaxBrushes:      getEnvAsInt("MAX_BRUSHES", 500),
			EntryMultiplier: getEnvAsInt("ENTRY_MULTIPLIER", 2),
			MaxEntrySize:    getEnvAsInt64("MAX_ENTRY_SIZE", 64<<20),
			MinDimension:    getEnvAsInt("MIN_IMAGE_DIMENSION", 500),
			MaxImagePixels:  getEnvAsInt("MAX_IMAGE_PIXELS", 100_000_000),
			ProcessTimeout:  getDuration("PROCESS_TIMEOUT", 90*time.Second),
			Workers:         getEnvAsInt("WORKERS", 4),
			BatchPolicy:     strings.ToLower(getEnv("BATCH_POLICY", PolicyStrict)),
		},
		Staging: StagingConfig{
			Backend: strings.ToLower(getEnv("STAGING_BACKEND", BackendDisk)),
			Dir:     getEnv("STAGING_DIR", os.TempDir()),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in defaults without reading the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Marketplace: MarketplaceConfig{
			BaseURL:       "https://openapi.etsy.com/v3/application",
			VerifyTimeout: 10 * time.Second,
		},
		Conversion: ConversionConfig{
			MaxUploadSize:   100 << 20,
			MaxArchives:     10,
			MaxBrushes:      500,
			EntryMultiplier: 2,
			MaxEntrySize:    64 << 20,
			MinDimension:    500,
			MaxImagePixels:  100_000_000,
			ProcessTimeout:  90 * time.Second,
			Workers:         4,
			BatchPolicy:     PolicyStrict,
		},
		Staging: StagingConfig{
			Backend: BackendDisk,
			Dir:     os.TempDir(),
		},
		LogLevel: "info",
	}
}

func (c *Config) Validate() error {
	conv := c.Conversion

	switch {
	case conv.MaxUploadSize <= 0:
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	case conv.MaxArchives <= 0:
		return fmt.Errorf("MAX_ARCHIVES must be positive")
	case conv.MaxBrushes <= 0:
		return fmt.Errorf("MAX_BRUSHES must be positive")
	case conv.EntryMultiplier <= 0:
		return fmt.Errorf("ENTRY_MULTIPLIER must be positive")
	case conv.MaxEntrySize <= 0:
		return fmt.Errorf("MAX_ENTRY_SIZE must be positive")
	case conv.MinDimension < 0:
		return fmt.Errorf("MIN_IMAGE_DIMENSION must not be negative")
	case conv.MaxImagePixels <= 0:
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive")
	case conv.ProcessTimeout <= 0:
		return fmt.Errorf("PROCESS_TIMEOUT must be positive")
	case conv.Workers <= 0:
		return fmt.Errorf("WORKERS must be positive")
	}

	if conv.BatchPolicy != PolicyStrict && conv.BatchPolicy != PolicyBestEffort {
		return fmt.Errorf("BATCH_POLICY must be %q or %q, got %q", PolicyStrict, PolicyBestEffort, conv.BatchPolicy)
	}

	if c.Staging.Backend != BackendDisk && c.Staging.Backend != BackendMemory {
		return fmt.Errorf("STAGING_BACKEND must be %q or %q, got %q", BackendDisk, BackendMemory, c.Staging.Backend)
	}

	if c.Marketplace.VerifyOrders {
		if c.Marketplace.VerifyTimeout <= 0 {
			return fmt.Errorf("VERIFY_TIMEOUT must be positive")
		}
		if c.Marketplace.BaseURL == "" {
			return fmt.Errorf("ETSY_API_URL is required when VERIFY_ORDERS is enabled")
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
