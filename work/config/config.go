package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vidproxy/work/logger"
)

// DefaultUserAgent is sent upstream when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_14_5)"

// seconds of slack allowed on the live-window duration bound
const defaultWindowSlack = 0.5

// Config holds all runtime settings for the proxy.
type Config struct {
	Host          string
	Port          int
	Debug         bool
	ObfuscateUrls bool

	Log           LogConfig
	Extractor     ExtractorConfig
	Proxy         ProxyConfig
	SegmentCache  CacheConfig
	SubtitleCache CacheConfig
	Liveness      LivenessConfig
	Prefetch      PrefetchConfig
}

// LogConfig controls the leveled logger and its optional rotating file.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ExtractorConfig controls the yt-dlp backed resolver and its caches.
type ExtractorConfig struct {
	Binary         string
	Timeout        time.Duration // wall clock limit for one extraction
	SocketTimeout  int           // seconds, handed to yt-dlp
	CacheTTL       time.Duration // positive result lifetime
	NegativeTTL    time.Duration // failure lifetime
	SweepThreshold int           // positive entries before an expiry sweep
	Signatures     []string      // extra URL patterns accepted by the pre-filter
	MatchAll       bool          // skip the signature pre-filter entirely
}

// ProxyConfig controls outbound fetching and response writing.
type ProxyConfig struct {
	DefaultUserAgent      string
	ChunkSize             int
	MaxManifestSize       int64
	MaxSegmentSize        int64
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	InsecureSkipVerify    bool
}

// CacheConfig bounds an in-memory byte cache.
type CacheConfig struct {
	MaxSize int64
	TTL     time.Duration
}

// LivenessConfig overrides the short-window live heuristic.
type LivenessConfig struct {
	WindowSegments int
	WindowSlack    float64
}

// PrefetchConfig controls background warming of force-proxied segments.
type PrefetchConfig struct {
	Enabled     bool
	Segments    int
	Workers     int
	RatePerHost int
}

// ConfigFile is the YAML representation. Durations are strings like "25s"
// and sizes are strings like "256m".
type ConfigFile struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Debug         bool   `yaml:"debug"`
	ObfuscateUrls bool   `yaml:"obfuscateUrls"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`

	Extractor struct {
		Binary         string   `yaml:"binary"`
		Timeout        string   `yaml:"timeout"`
		SocketTimeout  int      `yaml:"socketTimeout"`
		CacheTTL       string   `yaml:"cacheTTL"`
		NegativeTTL    string   `yaml:"negativeTTL"`
		SweepThreshold int      `yaml:"sweepThreshold"`
		Signatures     []string `yaml:"signatures"`
		MatchAll       bool     `yaml:"matchAll"`
	} `yaml:"extractor"`

	Proxy struct {
		DefaultUserAgent      string `yaml:"defaultUserAgent"`
		ChunkSize             string `yaml:"chunkSize"`
		MaxManifestSize       string `yaml:"maxManifestSize"`
		MaxSegmentSize        string `yaml:"maxSegmentSize"`
		ConnectTimeout        string `yaml:"connectTimeout"`
		ResponseHeaderTimeout string `yaml:"responseHeaderTimeout"`
		InsecureSkipVerify    *bool  `yaml:"insecureSkipVerify"`
	} `yaml:"proxy"`

	SegmentCache  cacheFile `yaml:"segmentCache"`
	SubtitleCache cacheFile `yaml:"subtitleCache"`

	Liveness struct {
		WindowSegments int      `yaml:"windowSegments"`
		WindowSlack    *float64 `yaml:"windowSlack"`
	} `yaml:"liveness"`

	Prefetch struct {
		Enabled     bool `yaml:"enabled"`
		Segments    int  `yaml:"segments"`
		Workers     int  `yaml:"workers"`
		RatePerHost int  `yaml:"ratePerHost"`
	} `yaml:"prefetch"`
}

type cacheFile struct {
	MaxSize string `yaml:"maxSize"`
	TTL     string `yaml:"ttl"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig returns the cached configuration, loading it on first use.
//
// Process:
//   - loads a .env file if present (godotenv, never overriding real env)
//   - reads the YAML file named by VIDPROXY_CONFIG (default config.yml)
//   - falls back to defaults when the file is missing or invalid
//   - applies environment overrides and validates
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("{config - LoadConfig} failed to load .env: %v", err)
	}

	path := getEnv("VIDPROXY_CONFIG", "config.yml")
	cfg, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("{config - LoadConfig} failed to load %s: %v, using defaults", path, err)
		}
		cfg = Default()
	}

	applyEnv(cfg)
	validateAndSetDefaults(cfg)
	configCache = cfg

	return cfg
}

// ClearConfigCache drops the cached configuration so the next LoadConfig
// re-reads it.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// LoadFile reads and converts a YAML config file. The result is validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse converts YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg, err := convertFromFile(&cf)
	if err != nil {
		return nil, err
	}
	validateAndSetDefaults(cfg)
	return cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Proxy:    ProxyConfig{InsecureSkipVerify: true},
		Liveness: LivenessConfig{WindowSlack: defaultWindowSlack},
	}
	validateAndSetDefaults(cfg)
	return cfg
}

func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		Host:          cf.Host,
		Port:          cf.Port,
		Debug:         cf.Debug,
		ObfuscateUrls: cf.ObfuscateUrls,
		Log: LogConfig{
			Level:      cf.Log.Level,
			File:       cf.Log.File,
			MaxSizeMB:  cf.Log.MaxSizeMB,
			MaxBackups: cf.Log.MaxBackups,
			MaxAgeDays: cf.Log.MaxAgeDays,
			Compress:   cf.Log.Compress,
		},
		Extractor: ExtractorConfig{
			Binary:         cf.Extractor.Binary,
			SocketTimeout:  cf.Extractor.SocketTimeout,
			SweepThreshold: cf.Extractor.SweepThreshold,
			Signatures:     cf.Extractor.Signatures,
			MatchAll:       cf.Extractor.MatchAll,
		},
		Proxy: ProxyConfig{
			DefaultUserAgent:   cf.Proxy.DefaultUserAgent,
			InsecureSkipVerify: true,
		},
		Liveness: LivenessConfig{
			WindowSegments: cf.Liveness.WindowSegments,
			WindowSlack:    defaultWindowSlack,
		},
		Prefetch: PrefetchConfig{
			Enabled:     cf.Prefetch.Enabled,
			Segments:    cf.Prefetch.Segments,
			Workers:     cf.Prefetch.Workers,
			RatePerHost: cf.Prefetch.RatePerHost,
		},
	}
	if cf.Proxy.InsecureSkipVerify != nil {
		cfg.Proxy.InsecureSkipVerify = *cf.Proxy.InsecureSkipVerify
	}
	// an explicit 0 means no slack at all
	if cf.Liveness.WindowSlack != nil {
		cfg.Liveness.WindowSlack = *cf.Liveness.WindowSlack
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"extractor.timeout", cf.Extractor.Timeout, &cfg.Extractor.Timeout},
		{"extractor.cacheTTL", cf.Extractor.CacheTTL, &cfg.Extractor.CacheTTL},
		{"extractor.negativeTTL", cf.Extractor.NegativeTTL, &cfg.Extractor.NegativeTTL},
		{"proxy.connectTimeout", cf.Proxy.ConnectTimeout, &cfg.Proxy.ConnectTimeout},
		{"proxy.responseHeaderTimeout", cf.Proxy.ResponseHeaderTimeout, &cfg.Proxy.ResponseHeaderTimeout},
		{"segmentCache.ttl", cf.SegmentCache.TTL, &cfg.SegmentCache.TTL},
		{"subtitleCache.ttl", cf.SubtitleCache.TTL, &cfg.SubtitleCache.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	sizes := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"proxy.maxManifestSize", cf.Proxy.MaxManifestSize, &cfg.Proxy.MaxManifestSize},
		{"proxy.maxSegmentSize", cf.Proxy.MaxSegmentSize, &cfg.Proxy.MaxSegmentSize},
		{"segmentCache.maxSize", cf.SegmentCache.MaxSize, &cfg.SegmentCache.MaxSize},
		{"subtitleCache.maxSize", cf.SubtitleCache.MaxSize, &cfg.SubtitleCache.MaxSize},
	}
	for _, s := range sizes {
		if s.raw == "" {
			continue
		}
		v, err := ParseBytes(s.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", s.name, err)
		}
		*s.dst = v
	}

	if cf.Proxy.ChunkSize != "" {
		v, err := ParseBytes(cf.Proxy.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy.chunkSize: %w", err)
		}
		cfg.Proxy.ChunkSize = int(v)
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(cfg *Config) {
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.Extractor.Binary = getEnv("YTDLP_BINARY", cfg.Extractor.Binary)
	cfg.Extractor.Timeout = getEnvSeconds("YTDLP_TIMEOUT", cfg.Extractor.Timeout)
	cfg.Extractor.CacheTTL = getEnvSeconds("YTDLP_CACHE_TTL", cfg.Extractor.CacheTTL)
	cfg.Extractor.NegativeTTL = getEnvSeconds("YTDLP_NEG_TTL", cfg.Extractor.NegativeTTL)
}

// validateAndSetDefaults fills zero values and clamps nonsense.
func validateAndSetDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
		if cfg.Debug {
			cfg.Log.Level = "DEBUG"
		}
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}

	if cfg.Extractor.Binary == "" {
		cfg.Extractor.Binary = "yt-dlp"
	}
	if cfg.Extractor.Timeout <= 0 {
		cfg.Extractor.Timeout = 25 * time.Second
	}
	if cfg.Extractor.SocketTimeout <= 0 {
		cfg.Extractor.SocketTimeout = 10
	}
	if cfg.Extractor.CacheTTL <= 0 {
		cfg.Extractor.CacheTTL = 600 * time.Second
	}
	if cfg.Extractor.NegativeTTL <= 0 {
		cfg.Extractor.NegativeTTL = 60 * time.Second
	}
	if cfg.Extractor.SweepThreshold <= 0 {
		cfg.Extractor.SweepThreshold = 200
	}

	if cfg.Proxy.DefaultUserAgent == "" {
		cfg.Proxy.DefaultUserAgent = DefaultUserAgent
	}
	if cfg.Proxy.ChunkSize <= 0 {
		cfg.Proxy.ChunkSize = 128 * 1024
	}
	if cfg.Proxy.MaxManifestSize <= 0 {
		cfg.Proxy.MaxManifestSize = 8 << 20
	}
	if cfg.Proxy.MaxSegmentSize <= 0 {
		cfg.Proxy.MaxSegmentSize = 32 << 20
	}
	if cfg.Proxy.ConnectTimeout <= 0 {
		cfg.Proxy.ConnectTimeout = 10 * time.Second
	}
	if cfg.Proxy.ResponseHeaderTimeout <= 0 {
		cfg.Proxy.ResponseHeaderTimeout = 60 * time.Second
	}

	if cfg.SegmentCache.MaxSize <= 0 {
		cfg.SegmentCache.MaxSize = 256 << 20
	}
	if cfg.SegmentCache.TTL <= 0 {
		cfg.SegmentCache.TTL = 60 * time.Second
	}
	if cfg.SubtitleCache.MaxSize <= 0 {
		cfg.SubtitleCache.MaxSize = 32 << 20
	}
	if cfg.SubtitleCache.TTL <= 0 {
		cfg.SubtitleCache.TTL = 10 * time.Minute
	}

	if cfg.Liveness.WindowSegments <= 0 {
		cfg.Liveness.WindowSegments = 6
	}
	if cfg.Liveness.WindowSlack < 0 {
		cfg.Liveness.WindowSlack = defaultWindowSlack
	}

	if cfg.Prefetch.Segments <= 0 {
		cfg.Prefetch.Segments = 3
	}
	if cfg.Prefetch.Workers <= 0 {
		cfg.Prefetch.Workers = 8
	}
	if cfg.Prefetch.RatePerHost <= 0 {
		cfg.Prefetch.RatePerHost = 10
	}
}

// ParseBytes parses sizes such as "512", "64k", "256m", "1g" or "2MiB".
func ParseBytes(s string) (int64, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}
	str = strings.TrimSuffix(strings.TrimSuffix(str, "ib"), "b")

	mult := int64(1)
	switch {
	case strings.HasSuffix(str, "k"):
		mult = 1 << 10
	case strings.HasSuffix(str, "m"):
		mult = 1 << 20
	case strings.HasSuffix(str, "g"):
		mult = 1 << 30
	}
	if mult != 1 {
		str = str[:len(str)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return n * mult, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// getEnvSeconds reads a bare number of seconds, or a Go duration string.
func getEnvSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
		return time.Duration(n * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}
