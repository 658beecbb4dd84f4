package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/muandane/special-stack/thumbwall/internal/cache"
)

// Config is the full runtime configuration, read from the environment.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string
	// RequestWait bounds how long an HTTP request waits for its thumbnail.
	RequestWait time.Duration
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
	Cache           CacheConfig
	Download        DownloadConfig
	Storage         StorageConfig
	Access          AccessConfig
}

// CacheConfig sizes both cache tiers and the worker pool.
type CacheConfig struct {
	// MemoryBudget is the runtime memory budget in bytes; 0 means detect.
	MemoryBudget int64
	// MemoryDivisor selects the share of the budget for the memory cache (1/n).
	MemoryDivisor int

	// Name is the persistent cache directory inside the chosen root.
	Name string
	// Version invalidates every persisted entry when bumped.
	Version      int
	MaxDiskBytes int64

	External   ExternalStorage
	PrivateDir string

	Workers int
}

// ExternalStorage describes a removable or shared storage volume.
type ExternalStorage struct {
	Dir       string
	Mounted   bool
	Removable bool
}

// DownloadConfig bounds network fetches.
type DownloadConfig struct {
	RPS       float64
	Burst     int
	UserAgent string
	Schemes   []string
}

type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// AccessConfig restricts the admin endpoints by client IP prefix.
type AccessConfig struct {
	AdminIPPrefixes []string
}

const (
	DefaultCacheName    = "thumb"
	DefaultVersion      = 1
	DefaultMaxDiskBytes = 10 * 1024 * 1024
	DefaultWorkers      = 4
	DefaultMemoryShare  = 8
)

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		RequestWait:     getEnvDuration("THUMB_REQUEST_WAIT", 30*time.Second, &errs),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		Cache: CacheConfig{
			MemoryBudget:  getEnvInt64("THUMB_MEMORY_BUDGET", 0, &errs),
			MemoryDivisor: getEnvInt("THUMB_MEMORY_DIVISOR", DefaultMemoryShare, &errs),
			Name:          getEnv("THUMB_CACHE_NAME", DefaultCacheName),
			Version:       getEnvInt("THUMB_CACHE_VERSION", DefaultVersion, &errs),
			MaxDiskBytes:  getEnvInt64("THUMB_DISK_MAX_BYTES", DefaultMaxDiskBytes, &errs),
			External: ExternalStorage{
				Dir:       getEnv("THUMB_EXTERNAL_DIR", ""),
				Mounted:   getEnvBool("THUMB_EXTERNAL_MOUNTED", true, &errs),
				Removable: getEnvBool("THUMB_EXTERNAL_REMOVABLE", false, &errs),
			},
			PrivateDir: getEnv("THUMB_PRIVATE_DIR", defaultPrivateDir()),
			Workers:    getEnvInt("THUMB_WORKERS", DefaultWorkers, &errs),
		},
		Download: DownloadConfig{
			RPS:       getEnvFloat("DOWNLOAD_RPS", 20, &errs),
			Burst:     getEnvInt("DOWNLOAD_BURST", 10, &errs),
			UserAgent: getEnv("DOWNLOAD_USER_AGENT", "thumbwall/1"),
			Schemes:   splitList(getEnv("DOWNLOAD_SCHEMES", "http,https,s3")),
		},
		Storage: StorageConfig{
			Enabled:         getEnvBool("S3_ENABLED", false, &errs),
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("S3_SECRET_KEY", "minioadmin"),
			UseSSL:          getEnvBool("S3_USE_SSL", false, &errs),
		},
		Access: AccessConfig{
			AdminIPPrefixes: splitList(getEnv("ADMIN_IP_PREFIXES", "127.0.0.1,::1")),
		},
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Cache.MemoryDivisor <= 0:
		return errors.New("THUMB_MEMORY_DIVISOR must be positive")
	case c.Cache.MaxDiskBytes <= 0:
		return errors.New("THUMB_DISK_MAX_BYTES must be positive")
	case c.RequestWait <= 0:
		return errors.New("THUMB_REQUEST_WAIT must be positive")
	case c.ShutdownTimeout <= 0:
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	case c.Cache.Workers <= 0:
		return errors.New("THUMB_WORKERS must be positive")
	case c.Cache.Name == "" || strings.ContainsAny(c.Cache.Name, `/\`):
		return fmt.Errorf("THUMB_CACHE_NAME %q must be a plain directory name", c.Cache.Name)
	}
	return nil
}

// CacheDir resolves the persistent cache location: the external volume when
// it is configured and either mounted or not removable, otherwise the
// process-private directory.
func (c CacheConfig) CacheDir() string {
	return filepath.Join(c.CacheRoot(), c.Name)
}

// MemoryCapacity is the memory cache size in bytes.
func (c CacheConfig) MemoryCapacity() int64 {
	return cache.Capacity(c.MemoryBudget, c.MemoryDivisor)
}

// CacheRoot is the directory CacheDir lives in.
func (c CacheConfig) CacheRoot() string {
	ext := c.External
	if ext.Dir != "" && (ext.Mounted || !ext.Removable) {
		return ext.Dir
	}
	return c.PrivateDir
}

func defaultPrivateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "thumbwall")
	}
	return filepath.Join(os.TempDir(), "thumbwall")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvInt64(key string, defaultValue int64, errs *[]error) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
