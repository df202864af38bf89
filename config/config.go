package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

var (
	once      sync.Once
	appConfig *Config
	loadErr   error
)

// Config is the complete application configuration.
type Config struct {
	Extractor ExtractorConfig `yaml:"extractor"`
	Logger    logger.Config   `yaml:"logger"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ExtractorConfig struct {
	Format                string        `yaml:"format"`
	Workers               int           `yaml:"workers"`
	ParallelPageThreshold int           `yaml:"parallel_page_threshold"`
	ParallelSizeThreshold int64         `yaml:"parallel_size_threshold"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	TempDir               string        `yaml:"temp_dir"`
	MaxInMemoryBytes      int64         `yaml:"max_in_memory_bytes"`
	MemoryFraction        float64       `yaml:"memory_fraction"`
	JPEGQuality           int           `yaml:"jpeg_quality"`
	Canonicalize          bool          `yaml:"canonicalize"`
	CompressionLevel      int           `yaml:"compression_level"` // -2 to 9, 0 stores entries
	MaxImagePixels        int64         `yaml:"max_image_pixels"`
	MaxUploadBytes        int64         `yaml:"max_upload_bytes"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxRetry    int           `yaml:"max_retry"`
	Timeout     time.Duration `yaml:"timeout"`
	Retention   time.Duration `yaml:"retention"`
}

// StorageConfig selects the blob store: "minio" or "s3".
type StorageConfig struct {
	Type  string      `yaml:"type"`
	MinIO MinioConfig `yaml:"minio"`
	S3    S3Config    `yaml:"s3"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Extractor: ExtractorConfig{
			Format:                "png",
			ParallelPageThreshold: 20,
			ParallelSizeThreshold: 10 << 20,
			ShutdownGrace:         60 * time.Second,
			MaxInMemoryBytes:      256 << 20,
			MemoryFraction:        0.4,
			JPEGQuality:           95,
			Canonicalize:          true,
			CompressionLevel:      9,
			MaxImagePixels:        50_000_000,
			MaxUploadBytes:        100 << 20,
		},
		Logger: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			Concurrency: 4,
			MaxRetry:    3,
			Timeout:     30 * time.Minute,
			Retention:   24 * time.Hour,
		},
		Storage: StorageConfig{
			Type: "minio",
			MinIO: MinioConfig{
				Endpoint:   "localhost:9000",
				BucketName: "pdf-images",
			},
		},
	}
}

// Load reads the optional YAML file at path, then the project .env file, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	loadDotEnv()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Get returns the process wide configuration, loaded once from CONFIG_FILE.
func Get() (*Config, error) {
	once.Do(func() {
		appConfig, loadErr = Load(os.Getenv("CONFIG_FILE"))
	})
	return appConfig, loadErr
}

func (c *Config) Validate() error {
	if c.Extractor.MemoryFraction <= 0 || c.Extractor.MemoryFraction > 1 {
		return fmt.Errorf("extractor.memory_fraction must be in (0, 1], got %v", c.Extractor.MemoryFraction)
	}
	if c.Extractor.JPEGQuality < 1 || c.Extractor.JPEGQuality > 100 {
		return fmt.Errorf("extractor.jpeg_quality must be in [1, 100], got %d", c.Extractor.JPEGQuality)
	}
	if c.Extractor.Workers < 0 {
		return fmt.Errorf("extractor.workers must not be negative")
	}
	if c.Extractor.CompressionLevel < -2 || c.Extractor.CompressionLevel > 9 {
		return fmt.Errorf("extractor.compression_level must be in [-2, 9], got %d", c.Extractor.CompressionLevel)
	}
	if c.Extractor.MaxImagePixels <= 0 {
		return fmt.Errorf("extractor.max_image_pixels must be positive, got %d", c.Extractor.MaxImagePixels)
	}
	switch c.Storage.Type {
	case "minio", "s3":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}

func loadDotEnv() {
	// 获取当前文件的目录
	_, filename, _, _ := runtime.Caller(0)
	rootDir := filepath.Dir(filepath.Dir(filename))
	envPath := filepath.Join(rootDir, ".env")

	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
	}
}

func applyEnv(cfg *Config) {
	e := &cfg.Extractor
	setString(&e.Format, "EXTRACTOR_FORMAT")
	setInt(&e.Workers, "EXTRACTOR_WORKERS")
	setInt(&e.ParallelPageThreshold, "EXTRACTOR_PARALLEL_PAGES")
	setInt64(&e.ParallelSizeThreshold, "EXTRACTOR_PARALLEL_BYTES")
	setDuration(&e.ShutdownGrace, "EXTRACTOR_SHUTDOWN_GRACE")
	setString(&e.TempDir, "EXTRACTOR_TEMP_DIR")
	setInt64(&e.MaxInMemoryBytes, "EXTRACTOR_MAX_IN_MEMORY_BYTES")
	setFloat(&e.MemoryFraction, "EXTRACTOR_MEMORY_FRACTION")
	setInt(&e.JPEGQuality, "EXTRACTOR_JPEG_QUALITY")
	setBool(&e.Canonicalize, "EXTRACTOR_CANONICALIZE")
	setInt(&e.CompressionLevel, "EXTRACTOR_COMPRESSION_LEVEL")
	setInt64(&e.MaxImagePixels, "EXTRACTOR_MAX_IMAGE_PIXELS")
	setInt64(&e.MaxUploadBytes, "EXTRACTOR_MAX_UPLOAD_BYTES")

	setString(&cfg.Logger.Level, "LOG_LEVEL")
	setString(&cfg.Logger.Encoding, "LOG_ENCODING")
	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.Logger.OutputPaths = []string{"stdout", path}
	}

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setInt(&cfg.Queue.Concurrency, "QUEUE_CONCURRENCY")
	setInt(&cfg.Queue.MaxRetry, "QUEUE_MAX_RETRY")
	setDuration(&cfg.Queue.Timeout, "QUEUE_TIMEOUT")
	setDuration(&cfg.Queue.Retention, "QUEUE_RETENTION")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	cfg.Storage.MinIO.applyEnv()
	cfg.Storage.S3.applyEnv()
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := cast.ToInt64E(v); err == nil {
			*dst = n
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := cast.ToFloat64E(v); err == nil {
			*dst = f
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			*dst = d
		} else {
			log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		}
	}
}
