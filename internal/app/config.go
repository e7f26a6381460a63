package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	CacheDir       string
	StaticDir      string
	AllowedOrigins []string

	YtDlpPath         string
	AudiowaveformPath string
	FFMPEGPath        string

	MaxDuration     time.Duration
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	WaveformTimeout time.Duration
	WaveformBits    int
	WaveformPPS     int

	MaxConcurrentExtractions int
	RateLimitRPS             float64
	RateLimitBurst           int
	FailFast                 bool

	RedisURL           string
	RedisPrefix        string
	MetadataCacheTTL   time.Duration
	ExtractionLeaseTTL time.Duration

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	SweepInterval time.Duration
	SweepMaxBytes int64
	SweepMaxAge   time.Duration
	StagingMaxAge time.Duration
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Keys mirror the
// environment variable names in lower case; the environment always wins.
type fileConfig map[string]any

// LoadConfig reads configuration from CONFIG_FILE (if set) and the
// environment. An unreadable or malformed config file is an error; malformed
// individual values fall back to their defaults.
func LoadConfig() (Config, error) {
	file := fileConfig{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	src := source{file: file}

	return Config{
		HTTPAddr:       src.getEnv("HTTP_ADDR", ":4000"),
		LogLevel:       strings.ToLower(src.getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(src.getEnv("LOG_FORMAT", "text")),
		CacheDir:       src.getEnv("CACHE_DIR", "tmp"),
		StaticDir:      src.getEnv("STATIC_DIR", ""),
		AllowedOrigins: src.getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:8080"}),

		YtDlpPath:         src.getEnv("YTDLP_PATH", "yt-dlp"),
		AudiowaveformPath: src.getEnv("AUDIOWAVEFORM_PATH", "audiowaveform"),
		FFMPEGPath:        src.getEnv("FFMPEG_PATH", "ffmpeg"),

		MaxDuration:     src.getEnvDuration("MAX_DURATION", 10*time.Minute),
		MetadataTimeout: src.getEnvDuration("METADATA_TIMEOUT", 45*time.Second),
		DownloadTimeout: src.getEnvDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),
		WaveformTimeout: src.getEnvDuration("WAVEFORM_TIMEOUT", 3*time.Minute),
		WaveformBits:    int(src.getEnvInt64("WAVEFORM_BITS", 8)),
		WaveformPPS:     int(src.getEnvInt64("WAVEFORM_PIXELS_PER_SECOND", 20)),

		MaxConcurrentExtractions: int(src.getEnvInt64("MAX_CONCURRENT_EXTRACTIONS", 4)),
		RateLimitRPS:             src.getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:           int(src.getEnvInt64("RATE_LIMIT_BURST", 40)),
		FailFast:                 src.getEnvBool("FAIL_FAST", true),

		RedisURL:           src.getEnv("REDIS_URL", ""),
		RedisPrefix:        src.getEnv("REDIS_PREFIX", "sampurr:"),
		MetadataCacheTTL:   src.getEnvDuration("METADATA_CACHE_TTL", 6*time.Hour),
		ExtractionLeaseTTL: src.getEnvDuration("EXTRACTION_LEASE_TTL", 15*time.Minute),

		MongoURI:        src.getEnv("MONGO_URI", ""),
		MongoDatabase:   src.getEnv("MONGO_DB", "sampurr"),
		MongoCollection: src.getEnv("MONGO_COLLECTION", "tracks"),

		SweepInterval: src.getEnvDuration("SWEEP_INTERVAL", time.Hour),
		SweepMaxBytes: src.getEnvInt64("SWEEP_MAX_BYTES", 1<<30),
		SweepMaxAge:   src.getEnvDuration("SWEEP_MAX_AGE", 240*time.Hour),
		StagingMaxAge: src.getEnvDuration("STAGING_MAX_AGE", time.Hour),
	}, nil
}

type source struct {
	file fileConfig
}

// raw returns the environment value for key, else the file value.
func (s source) raw(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if value, ok := s.file[strings.ToLower(key)]; ok && value != nil {
		switch v := value.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, ",")
		default:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}

func (s source) getEnv(key, fallback string) string {
	if value := s.raw(key); value != "" {
		return value
	}
	return fallback
}

func (s source) getEnvInt64(key string, fallback int64) int64 {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (s source) getEnvFloat(key string, fallback float64) float64 {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (s source) getEnvBool(key string, fallback bool) bool {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s", "10m") or a bare number of seconds.
func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func (s source) getEnvList(key string, fallback []string) []string {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
