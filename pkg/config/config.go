package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Signal is the pointer event WebSocket channel.
	Signal struct {
		Enabled        bool          `yaml:"enabled"`
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Compositor struct {
		Width                    int           `yaml:"width"`
		Height                   int           `yaml:"height"`
		FrameRate                int           `yaml:"frame_rate"`
		InitialLayout            string        `yaml:"initial_layout"`
		Watermark                string        `yaml:"watermark"`
		OverlayFullFrameMinWidth int           `yaml:"overlay_full_frame_min_width"`
		LogoWidth                int           `yaml:"logo_width"`
		LogoHeight               int           `yaml:"logo_height"`
		LogoMargin               int           `yaml:"logo_margin"`
		InsetMargin              int           `yaml:"inset_margin"`
		StrictOriginExport       bool          `yaml:"strict_origin_export"`
		AllowedOrigins           []string      `yaml:"allowed_origins"`
		FetchTimeout             time.Duration `yaml:"fetch_timeout"`
		MaxAssetBytes            int64         `yaml:"max_asset_bytes"`
		FetchAttempts            int           `yaml:"fetch_attempts"`
		AssetCacheTTL            time.Duration `yaml:"asset_cache_ttl"`
		MaxImagePixels           int64         `yaml:"max_image_pixels"`
		MaxClipPixels            int64         `yaml:"max_clip_pixels"`
		// APIRoots and APIHosts bound the file and HTTP origins the control
		// API may attach. Empty lists leave only data URLs.
		APIRoots []string `yaml:"api_roots"`
		APIHosts []string `yaml:"api_hosts"`
	} `yaml:"compositor"`

	Audio struct {
		Enabled    bool          `yaml:"enabled"`
		SampleRate int           `yaml:"sample_rate"`
		Channels   int           `yaml:"channels"`
		Quantum    time.Duration `yaml:"quantum"`
		Gains      struct {
			Mic   float64 `yaml:"mic"`
			Music float64 `yaml:"music"`
			Clip  float64 `yaml:"clip"`
		} `yaml:"gains"`
		// MusicFile is a raw s16le file, or any format ffmpeg can decode when
		// Decode is set.
		MusicFile string `yaml:"music_file"`
		MusicLoop bool   `yaml:"music_loop"`
		Decode    bool   `yaml:"decode"`
		// MicFile feeds the still camera's microphone track, looped.
		MicFile string `yaml:"mic_file"`
		// MonitorFile receives the monitor mix as raw s16le. Empty
		// disables the monitor.
		MonitorFile string `yaml:"monitor_file"`
	} `yaml:"audio"`

	// Sources are attached at startup.
	Sources struct {
		CameraImage string `yaml:"camera_image"`
		Background  string `yaml:"background"`
		Overlay     string `yaml:"overlay"`
		Clip        string `yaml:"clip"`
		ClipLoop    bool   `yaml:"clip_loop"`
	} `yaml:"sources"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		FrameStallTimeout   time.Duration `yaml:"frame_stall_timeout"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

var layouts = map[string]bool{
	"solo_camera":  true,
	"solo_content": true,
	"split":        true,
	"inset":        true,
	"shoulder":     true,
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Enabled {
		if c.Signal.Path == "" {
			return fmt.Errorf("signal.path must not be empty when signal.enabled=true")
		}
		if c.Signal.PingInterval <= 0 {
			return fmt.Errorf("signal.ping_interval must be > 0")
		}
		if c.Signal.PongTimeout <= c.Signal.PingInterval {
			return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
		}
	}

	// Compositor
	if c.Compositor.Width < 16 || c.Compositor.Height < 16 {
		return fmt.Errorf("compositor.width and compositor.height must be >= 16")
	}
	if c.Compositor.FrameRate <= 0 || c.Compositor.FrameRate > 120 {
		return fmt.Errorf("compositor.frame_rate must be in (0, 120]")
	}
	if !layouts[c.Compositor.InitialLayout] {
		return fmt.Errorf("compositor.initial_layout %q is not a layout mode", c.Compositor.InitialLayout)
	}
	if c.Compositor.OverlayFullFrameMinWidth <= 0 {
		return fmt.Errorf("compositor.overlay_full_frame_min_width must be > 0")
	}
	if c.Compositor.LogoWidth <= 0 || c.Compositor.LogoHeight <= 0 {
		return fmt.Errorf("compositor.logo_width and logo_height must be > 0")
	}
	if c.Compositor.LogoMargin < 0 || c.Compositor.InsetMargin < 0 {
		return fmt.Errorf("compositor margins must be >= 0")
	}
	if c.Compositor.FetchTimeout <= 0 {
		return fmt.Errorf("compositor.fetch_timeout must be > 0")
	}
	if c.Compositor.MaxAssetBytes <= 0 {
		return fmt.Errorf("compositor.max_asset_bytes must be > 0")
	}
	if c.Compositor.FetchAttempts < 1 {
		return fmt.Errorf("compositor.fetch_attempts must be >= 1")
	}
	if c.Compositor.AssetCacheTTL < 0 {
		return fmt.Errorf("compositor.asset_cache_ttl must be >= 0")
	}
	if c.Compositor.MaxImagePixels <= 0 {
		return fmt.Errorf("compositor.max_image_pixels must be > 0")
	}
	if c.Compositor.MaxClipPixels < c.Compositor.MaxImagePixels {
		return fmt.Errorf("compositor.max_clip_pixels must be >= max_image_pixels")
	}
	for _, root := range c.Compositor.APIRoots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("compositor.api_roots entry %q must be an absolute path", root)
		}
	}
	for _, host := range c.Compositor.APIHosts {
		if host == "" || strings.ContainsAny(host, "/:") {
			return fmt.Errorf("compositor.api_hosts entry %q must be a bare host name", host)
		}
	}

	// Audio. An unusable format is not rejected here: the engine degrades
	// to video-only output and reports it.
	for name, g := range map[string]float64{
		"mic":   c.Audio.Gains.Mic,
		"music": c.Audio.Gains.Music,
		"clip":  c.Audio.Gains.Clip,
	} {
		if g < 0 || g > 1 {
			return fmt.Errorf("audio.gains.%s must be in [0, 1]", name)
		}
	}

	// Monitoring
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}
	if c.Monitoring.FrameStallTimeout <= 0 {
		return fmt.Errorf("monitoring.frame_stall_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Enabled = true
	cfg.Signal.Path = "/ws/pointer"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Compositor.Width = 1280
	cfg.Compositor.Height = 720
	cfg.Compositor.FrameRate = 30
	cfg.Compositor.InitialLayout = "solo_camera"
	cfg.Compositor.OverlayFullFrameMinWidth = 800
	cfg.Compositor.LogoWidth = 160
	cfg.Compositor.LogoHeight = 90
	cfg.Compositor.LogoMargin = 24
	cfg.Compositor.InsetMargin = 24
	cfg.Compositor.StrictOriginExport = false
	cfg.Compositor.FetchTimeout = 30 * time.Second
	cfg.Compositor.MaxAssetBytes = 64 << 20
	cfg.Compositor.FetchAttempts = 3
	cfg.Compositor.AssetCacheTTL = 10 * time.Minute
	cfg.Compositor.MaxImagePixels = 7680 * 4320
	cfg.Compositor.MaxClipPixels = 1 << 28

	cfg.Audio.Enabled = true
	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2
	cfg.Audio.Quantum = 20 * time.Millisecond
	cfg.Audio.Gains.Mic = 1.0
	cfg.Audio.Gains.Music = 0.3
	cfg.Audio.Gains.Clip = 0.8
	cfg.Audio.MusicLoop = true

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 10 * time.Second
	cfg.Monitoring.FrameStallTimeout = 5 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 120
	cfg.RateLimiting.WebSocket.Burst = 240
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 4 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CASTMIX_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("CASTMIX_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if fps, err := strconv.Atoi(os.Getenv("CASTMIX_FRAME_RATE")); err == nil {
		c.Compositor.FrameRate = fps
	}
	if wm, ok := os.LookupEnv("CASTMIX_WATERMARK"); ok {
		c.Compositor.Watermark = wm
	}
	if v, err := strconv.ParseBool(os.Getenv("CASTMIX_STRICT_ORIGIN_EXPORT")); err == nil {
		c.Compositor.StrictOriginExport = v
	}
	if hosts := os.Getenv("CASTMIX_API_HOSTS"); hosts != "" {
		c.Compositor.APIHosts = strings.Split(hosts, ",")
	}
	if v, err := strconv.ParseBool(os.Getenv("CASTMIX_AUDIO_ENABLED")); err == nil {
		c.Audio.Enabled = v
	}
	if v, err := strconv.ParseBool(os.Getenv("CASTMIX_TRACING_ENABLED")); err == nil {
		c.Tracing.Enabled = v
	}
	if url := os.Getenv("CASTMIX_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
	}
}
