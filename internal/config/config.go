package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/slideshow/internal/logger"
)

type Config struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	RefreshRate int    `yaml:"refresh_rate"` // preview ticks per second
	Workers     int    `yaml:"workers"`
	Transition  string `yaml:"transition"`

	ExportPollInterval time.Duration `yaml:"export_poll_interval"`
	ExportResetDelay   time.Duration `yaml:"export_reset_delay"`

	OutputDir    string `yaml:"output_dir"`
	OutputPrefix string `yaml:"output_prefix"`
	OutputFormat string `yaml:"output_format"` // mp4 | webm
	VideoEncoder string `yaml:"video_encoder"` // "auto" picks the best H.264 encoder
	Quality      int    `yaml:"quality"`       // 0 = encoder default

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	FFplayPath  string `yaml:"ffplay_path"`
	AudioOutput bool   `yaml:"audio_output"` // audible preview through ffplay

	Listen    string `yaml:"listen"`
	SpoolDir  string `yaml:"spool_dir"`
	ShowStats bool   `yaml:"show_stats"`
	ShareQR   bool   `yaml:"share_qr"`

	Log     logger.Config `yaml:"log"`
	Suggest SuggestConfig `yaml:"suggest"`
	Storage StorageConfig `yaml:"storage"`
}

type SuggestConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig enables MinIO publishing of finished exports when Endpoint is set.
type StorageConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

func Default() *Config {
	return &Config{
		Width:              1920,
		Height:             1080,
		FPS:                30,
		RefreshRate:        60,
		Workers:            runtime.NumCPU(),
		Transition:         "fade",
		ExportPollInterval: 100 * time.Millisecond,
		ExportResetDelay:   3 * time.Second,
		OutputDir:          "output",
		OutputPrefix:       "VividEdit",
		OutputFormat:       "mp4",
		VideoEncoder:       "auto",
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		FFplayPath:         "ffplay",
		AudioOutput:        true,
		Listen:             ":8080",
		Log: logger.Config{
			Level:      logger.InfoLevel,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Suggest: SuggestConfig{
			Enabled: true,
			Model:   "claude-sonnet-4-5-20250929",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Bucket:    "slideshow",
			URLExpiry: 24 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then .env, then the optional YAML
// file, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = getEnv("SLIDESHOW_LISTEN", c.Listen)
	c.OutputDir = getEnv("SLIDESHOW_OUTPUT_DIR", c.OutputDir)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)
	c.FFplayPath = getEnv("FFPLAY_PATH", c.FFplayPath)
	c.Workers = getEnvInt("SLIDESHOW_WORKERS", c.Workers)

	c.Suggest.APIKey = getEnv("ANTHROPIC_API_KEY", c.Suggest.APIKey)
	c.Suggest.BaseURL = getEnv("ANTHROPIC_BASE_URL", c.Suggest.BaseURL)

	c.Storage.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = getEnv("MINIO_BUCKET", c.Storage.Bucket)
	c.Storage.Region = getEnv("MINIO_REGION", c.Storage.Region)
	if v, ok := os.LookupEnv("MINIO_USE_SSL"); ok {
		c.Storage.UseSSL, _ = strconv.ParseBool(v)
	}
}

func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("canvas size %dx%d must be even for yuv420p", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("invalid refresh rate %d", c.RefreshRate)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ExportPollInterval <= 0 {
		return fmt.Errorf("invalid export poll interval %s", c.ExportPollInterval)
	}
	if c.ExportResetDelay < 0 {
		return fmt.Errorf("invalid export reset delay %s", c.ExportResetDelay)
	}
	switch strings.ToLower(c.OutputFormat) {
	case "mp4", "webm":
		c.OutputFormat = strings.ToLower(c.OutputFormat)
	default:
		return fmt.Errorf("unsupported output format %q: use mp4 or webm", c.OutputFormat)
	}
	if c.OutputPrefix == "" {
		return fmt.Errorf("output prefix must not be empty")
	}
	return nil
}

// FrameInterval is the spacing between captured export frames.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// RefreshInterval is the spacing between preview ticks.
func (c *Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.RefreshRate)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
